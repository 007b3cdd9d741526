package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// IdleReaper disconnects guests that stopped talking to the concierge
type IdleReaper struct {
	hub      *Hub
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
}

// NewIdleReaper creates a reaper closing clients idle for longer than timeout
func NewIdleReaper(hub *Hub, timeout time.Duration, logger *zap.Logger) *IdleReaper {
	interval := timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return &IdleReaper{
		hub:      hub,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background reaping
func (r *IdleReaper) Start() {
	go r.reapLoop()
	r.logger.Info("Idle reaper started", zap.Duration("timeout", r.timeout))
}

// Stop gracefully stops the reaper
func (r *IdleReaper) Stop() {
	close(r.stopChan)
	r.logger.Info("Idle reaper stopped")
}

func (r *IdleReaper) reapLoop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.runReap(time.Now())
		}
	}
}

// runReap disconnects every client idle since before now minus the timeout
func (r *IdleReaper) runReap(now time.Time) int {
	idle := r.hub.idleClients(now.Add(-r.timeout))
	for _, client := range idle {
		client.disconnect("idle timeout")
	}
	if len(idle) > 0 {
		r.logger.Info("Disconnected idle clients", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// disconnect closes the connection; the read pump then unregisters the client
func (c *Client) disconnect(reason string) {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, reason),
		time.Now().Add(writeWait))
	c.conn.Close()
}
