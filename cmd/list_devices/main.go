package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/database"
	"github.com/xelth-com/posync/internal/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	query := db.Order("last_seen_at DESC")
	if orgID := os.Getenv("ORGANIZATION_ID"); orgID != "" {
		query = query.Where("organization_id = ?", orgID)
	}

	var devices []models.RegisteredDevice
	if err := query.Find(&devices).Error; err != nil {
		log.Fatal("Failed to query devices:", err)
	}

	if len(devices) == 0 {
		log.Println("ℹ️  No devices found")
		return
	}

	log.Printf("Found %d device(s):", len(devices))
	for _, d := range devices {
		lastSync := "never"
		if d.LastSyncAt != nil {
			lastSync = d.LastSyncAt.Format(time.RFC3339)
		}

		var last models.SyncRun
		summary := "no runs"
		if err := db.Where("device_id = ?", d.DeviceID).Order("started_at DESC").Limit(1).Find(&last).Error; err == nil && last.ID != 0 {
			summary = fmt.Sprintf("last run %d/%d synced in %dms", last.Synced, last.Total, last.Duration)
		}

		log.Printf("  - ID: %s, Org: %s, Seen: %s, Synced: %s, %s",
			d.DeviceID, d.OrganizationID, d.LastSeenAt.Format(time.RFC3339), lastSync, summary)
	}
}
