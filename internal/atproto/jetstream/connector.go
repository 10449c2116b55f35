package jetstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	reconnectDelay = 5 * time.Second
)

// Connector handles the WebSocket connection to Jetstream and hands every
// event to a handler.
type Connector struct {
	handler        EventHandler
	logger         *slog.Logger
	wsURL          string
	reconnectDelay time.Duration
}

// NewConnector creates a new Jetstream WebSocket connector
func NewConnector(handler EventHandler, wsURL string, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		handler:        handler,
		logger:         logger,
		wsURL:          wsURL,
		reconnectDelay: reconnectDelay,
	}
}

// Start begins consuming events from Jetstream
// Runs until ctx is done, reconnecting on errors
func (c *Connector) Start(ctx context.Context) error {
	c.logger.Info("starting jetstream consumer", "url", c.wsURL)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("jetstream consumer shutting down")
			return ctx.Err()
		default:
		}

		if err := c.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("jetstream connection error, retrying",
				"error", err,
				"delay", c.reconnectDelay)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.reconnectDelay):
			}
		}
	}
}

// connect establishes WebSocket connection and processes events
func (c *Connector) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Jetstream: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			c.logger.Debug("failed to close websocket connection", "error", closeErr)
		}
	}()

	c.logger.Info("connected to jetstream")

	// Set read deadline to detect connection issues
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		c.logger.Warn("failed to set read deadline", "error", err)
	}

	// Set pong handler to keep connection alive
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	var closeOnce sync.Once // Ensure done channel is only closed once
	defer closeOnce.Do(func() { close(done) })

	// Goroutine to send pings
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					c.logger.Warn("jetstream ping failed", "error", err)
					closeOnce.Do(func() { close(done) })
					_ = conn.Close()
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				// Unblock ReadMessage
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read error: %w", err)
		}

		// Reset read deadline on successful read
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			c.logger.Warn("failed to set read deadline", "error", err)
		}

		if err := c.handleEvent(ctx, message); err != nil {
			// Continue processing other events
			c.logger.Warn("error handling jetstream event", "error", err)
		}
	}
}

// handleEvent processes a single Jetstream event
func (c *Connector) handleEvent(ctx context.Context, data []byte) error {
	var event JetstreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to parse event: %w", err)
	}
	return c.handler.HandleEvent(ctx, &event)
}
