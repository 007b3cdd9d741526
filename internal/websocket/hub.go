package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain"
	"github.com/imperialaccess/concierge/domain/repositories"
	"github.com/imperialaccess/concierge/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 2 * 1024 * 1024 // 2MB for base64 voice clips

	// Time allowed for one streamed turn, greeting included.
	turnTimeout = 2 * time.Minute
)

var (
	errClientClosed    = errors.New("client closed")
	errSendBufferFull  = errors.New("send buffer full")
	errHubNotAccepting = errors.New("hub is shutting down")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Guest identifies the authenticated guest of a connection
type Guest struct {
	ID   string
	Name string
}

// ConversationFactory builds the conversation of one connection around the
// player and observer bound to its websocket.
type ConversationFactory func(guest Guest, player repositories.AudioPlayer, observer usecase.TurnObserver) (*usecase.ConversationService, error)

// HubConfig holds the hub settings
// Optional fields with defaults:
// - PlaybackTimeout: how long to wait for a playback_ended frame (default: 1m)
type HubConfig struct {
	PlaybackTimeout time.Duration
}

// Hub maintains the set of active clients.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	factory         ConversationFactory
	playbackTimeout time.Duration

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(factory ConversationFactory, config HubConfig, logger *zap.Logger) *Hub {
	playbackTimeout := config.PlaybackTimeout
	if playbackTimeout == 0 {
		playbackTimeout = defaultPlaybackTimeout
		logger.Info("Using default playback timeout", zap.Duration("timeout", playbackTimeout))
	}

	return &Hub{
		clients:         make(map[string]*Client),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		done:            make(chan struct{}),
		factory:         factory,
		playbackTimeout: playbackTimeout,
		logger:          logger,
	}
}

// Run starts the hub's main loop. Every client is closed once ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("clientID", client.id),
				zap.String("guestID", client.guest.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.id]
			delete(h.clients, client.id)
			h.mu.Unlock()
			if ok {
				client.shutdown()
			}
			h.logger.Info("Client unregistered",
				zap.String("clientID", client.id),
				zap.String("guestID", client.guest.ID))

		case <-ctx.Done():
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			for _, client := range clients {
				client.shutdown()
			}
			h.logger.Info("Hub stopped", zap.Int("closedClients", len(clients)))
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// idleClients returns the clients without guest activity since cutoff
func (h *Hub) idleClients(cutoff time.Time) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var idle []*Client
	for _, client := range h.clients {
		if client.lastActive().Before(cutoff) {
			idle = append(idle, client)
		}
	}
	return idle
}

func (h *Hub) doRegister(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return errHubNotAccepting
	}
}

func (h *Hub) doUnregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.shutdown()
	}
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and its conversation.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	id    string
	guest Guest

	logger    *zap.Logger
	validator *MessageValidator

	conversation *usecase.ConversationService
	player       *socketPlayer

	// Cancelled when the connection goes away
	ctx    context.Context
	cancel context.CancelFunc

	// Unix nanos of the last guest message
	active atomic.Int64

	mu     sync.Mutex
	closed bool
}

// HandleWebSocketWithAuth handles websocket requests of an authenticated guest
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, guest Guest, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, guest, logger)

	conversation, err := hub.factory(guest, client.player, &socketObserver{client: client})
	if err != nil {
		logger.Error("Failed to create conversation",
			zap.String("guestID", guest.ID),
			zap.Error(err))
		closeWithError(conn, CreateErrorMessage(ErrorCodeUnavailable, "Concierge unavailable", err.Error()))
		return nil
	}
	client.conversation = conversation

	if err := hub.doRegister(client); err != nil {
		conversation.Close()
		closeWithError(conn, CreateErrorMessage(ErrorCodeUnavailable, "Concierge unavailable", err.Error()))
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	go client.sendProfile()

	return nil
}

func newClient(hub *Hub, conn *websocket.Conn, guest Guest, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, 256),
		id:        id,
		guest:     guest,
		logger:    logger.With(zap.String("clientID", id), zap.String("guestID", guest.ID)),
		validator: NewMessageValidator(),
		ctx:       ctx,
		cancel:    cancel,
	}
	client.player = newSocketPlayer(client, hub.playbackTimeout, client.logger)
	client.touch()
	return client
}

func closeWithError(conn *websocket.Conn, msg *ErrorMessage) {
	payload, _ := json.Marshal(msg)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, payload)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, msg.Message))
	conn.Close()
}

// readPump pumps messages from the websocket connection to the conversation.
func (c *Client) readPump() {
	defer func() {
		c.hub.doUnregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		default:
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
			c.sendError(ErrorCodeInvalidMessage, "Only JSON text frames are accepted", "")
		}
	}
}

// writePump pumps messages from the send channel to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage dispatches one guest frame
func (c *Client) processMessage(message []byte) {
	msg, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Debug("Rejected message", zap.Error(err))
		c.sendError(ErrorCodeInvalidMessage, "Invalid message", err.Error())
		return
	}
	c.touch()

	switch m := msg.(type) {
	case *GreetingMessage:
		c.startTurn("greeting", c.conversation.BeginGreet)

	case *ChatMessage:
		c.startTurn("message", func(ctx context.Context) (*usecase.PendingTurn, error) {
			return c.conversation.BeginSend(ctx, m.Text)
		})

	case *VoiceMessage:
		config := repositories.AudioConfig{
			SampleRate: m.SampleRate,
			Encoding:   m.Encoding,
			Language:   m.Language,
		}
		c.startTurn("voice_message", func(ctx context.Context) (*usecase.PendingTurn, error) {
			return c.conversation.BeginVoice(ctx, m.Audio(), config)
		})

	case *CancelMessage:
		c.conversation.Cancel()

	case *SetAutoPlayMessage:
		c.conversation.SetAutoPlay(m.Enabled)

	case *ReplayMessage:
		go c.replay(m.TurnID)

	case *PlaybackEndedMessage:
		if !c.player.Ended(m.Seq) {
			c.logger.Debug("Ignoring stale playback acknowledgement", zap.Uint64("seq", m.Seq))
		}

	case *PingMessage:
		c.sendJSON(CreatePongMessage(m.Data))
	}
}

// startTurn supersedes the current turn on the read pump, so turns take over
// in the order their frames arrived, and streams the reply in the background.
func (c *Client) startTurn(kind string, begin func(ctx context.Context) (*usecase.PendingTurn, error)) {
	ctx, cancel := context.WithTimeout(c.ctx, turnTimeout)

	pending, err := begin(ctx)
	if err != nil {
		cancel()
		c.reportTurnError(kind, err)
		return
	}

	go func() {
		defer cancel()
		_, err := pending.Run()
		c.reportTurnError(kind, err)
	}()
}

func (c *Client) reportTurnError(kind string, err error) {
	switch {
	case err == nil, errors.Is(err, domain.ErrTurnCancelled), errors.Is(err, usecase.ErrServiceClosed):
	case errors.Is(err, domain.ErrEmptyMessage):
		c.sendError(ErrorCodeEmptyMessage, "Message is empty", "")
	default:
		c.logger.Error("Turn failed", zap.String("kind", kind), zap.Error(err))
		c.sendError(ErrorCodeTurnFailed, "Could not process the request", err.Error())
	}
}

func (c *Client) replay(turnID string) {
	err := c.conversation.Replay(c.ctx, turnID)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, domain.ErrSpeechBusy):
		c.sendError(ErrorCodeSpeechBusy, "Audio is already playing", "")
	case errors.Is(err, domain.ErrTurnNotFound):
		c.sendError(ErrorCodeTurnNotFound, "No such reply", turnID)
	default:
		c.logger.Warn("Replay failed", zap.String("turnID", turnID), zap.Error(err))
		c.sendError(ErrorCodeReplayFailed, "Could not replay the reply", err.Error())
	}
}

// sendProfile pushes the guest profile once the connection is up
func (c *Client) sendProfile() {
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()

	profile, err := c.conversation.Profile(ctx)
	if err != nil {
		c.logger.Warn("Profile unavailable", zap.Error(err))
		return
	}
	c.sendJSON(&ProfileMessage{
		BaseMessage: newBase(MessageTypeProfile),
		Profile:     profile,
	})
}

func (c *Client) sendError(code, message, details string) {
	c.sendJSON(CreateErrorMessage(code, message, details))
}

// sendJSON queues a text frame
func (c *Client) sendJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

// enqueue queues a frame without blocking
func (c *Client) enqueue(data WriteData) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn("Dropping frame, send buffer full", zap.Int("type", data.Type))
		return errSendBufferFull
	}
}

func (c *Client) touch() {
	c.active.Store(time.Now().UnixNano())
}

func (c *Client) lastActive() time.Time {
	return time.Unix(0, c.active.Load())
}

// shutdown stops the conversation and closes the send channel
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.cancel()
	c.player.Close()
	if c.conversation != nil {
		c.conversation.Close()
	}
}
