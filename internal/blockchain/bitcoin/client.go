package bitcoin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 5 * time.Second
)

// Client streams network notifications from a node
type Client interface {
	Stream(ctx context.Context, ch chan<- *types.Notification) error
}

// WSClient reads JSON encoded notifications from a websocket endpoint
type WSClient struct {
	url    string
	dialer *websocket.Dialer
	logger *logrus.Logger
}

func NewWSClient(wsURL string, logger *logrus.Logger) (*WSClient, error) {
	if wsURL == "" {
		return nil, fmt.Errorf("ws_url not configured")
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid ws_url scheme %q", u.Scheme)
	}
	return &WSClient{
		url:    u.String(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}, nil
}

// Stream dials the endpoint and forwards notifications until the connection
// ends. A clean close or a cancelled ctx returns nil.
func (c *WSClient) Stream(ctx context.Context, ch chan<- *types.Notification) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("ws dial failed: %w", err)
	}
	defer conn.Close()

	// request every callback kind
	if err := conn.WriteJSON(map[string]interface{}{"action": "want", "data": []string{"peers", "chain", "transactions"}}); err != nil {
		return fmt.Errorf("ws subscribe failed: %w", err)
	}
	c.logger.WithField("url", c.url).Info("Connected to notification feed")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go c.keepAlive(conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("ws read failed: %w", err)
		}

		var n types.Notification
		if err := json.Unmarshal(message, &n); err != nil || n.Type == "" {
			c.logger.Debugf("Skipping malformed notification: %s", string(message))
			continue
		}

		select {
		case ch <- &n:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *WSClient) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				c.logger.Debugf("ws ping failed: %v", err)
				return
			}
		}
	}
}
