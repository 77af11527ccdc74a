package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	minRedial = time.Second
	maxRedial = 30 * time.Second
)

var errNoRoute = errors.New("no route to server")

// Listener keeps a device subscribed to the server's /ws endpoint and hands
// every event to a callback. It redials with backoff until its context ends.
type Listener struct {
	route    func() string
	token    string
	deviceID string
	handle   func(Event)
	dialer   *websocket.Dialer
}

// NewListener creates a listener. route returns the current http(s) base URL
// of the server, empty while there is none.
func NewListener(route func() string, token, deviceID string, handle func(Event)) *Listener {
	return &Listener{
		route:    route,
		token:    token,
		deviceID: deviceID,
		handle:   handle,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run listens until ctx is done
func (l *Listener) Run(ctx context.Context) {
	wait := minRedial
	for {
		connected, err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			wait = minRedial
		}
		if err != nil && !errors.Is(err, errNoRoute) {
			log.WithError(err).WithField("retry", wait).Debug("Event listener disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if wait *= 2; wait > maxRedial {
			wait = maxRedial
		}
	}
}

func (l *Listener) listen(ctx context.Context) (bool, error) {
	base := l.route()
	if base == "" {
		return false, errNoRoute
	}
	url := "ws" + strings.TrimPrefix(strings.TrimSuffix(base, "/"), "http") + "/ws"

	header := http.Header{}
	if l.token != "" {
		header.Set("Authorization", "Bearer "+l.token)
	}
	conn, _, err := l.dialer.DialContext(ctx, url, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if l.deviceID != "" {
		identify := BaseMessage{Type: "DEVICE_IDENTIFY", DeviceID: l.deviceID, MsgID: uuid.NewString()}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(identify); err != nil {
			return true, err
		}
	}
	log.WithFields(logrus.Fields{"url": url, "device": l.deviceID}).Info("Event listener connected")

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var event Event
		if err := json.Unmarshal(message, &event); err != nil || event.Type == "" || event.Type == "ACK" {
			continue
		}
		l.handle(event)
	}
}
