package config

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logg.SetLevel(logrus.InfoLevel)
	logg.SetOutput(os.Stdout)
}

// ConfigureLogger applies level, format and optional rotating file output
// to the shared logger.
func ConfigureLogger(cfg LogConfig) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logg.SetLevel(level)
	} else {
		logg.WithField("level", cfg.Level).Warn("Unknown LOG_LEVEL, keeping info")
	}

	if cfg.JSON {
		logg.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.File != "" {
		logg.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}))
	}
}

func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}
