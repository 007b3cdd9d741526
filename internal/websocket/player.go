package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain/repositories"
)

const defaultPlaybackTimeout = time.Minute

var (
	errPlaybackTimeout = errors.New("playback acknowledgement timed out")
	errPlayerClosed    = errors.New("player closed")
)

// Ensure socketPlayer implements the AudioPlayer interface
var _ repositories.AudioPlayer = (*socketPlayer)(nil)

// socketPlayer plays audio on the guest client. Each clip is announced with an
// audio_start frame, sent as one binary frame, and Play returns once the
// client answers playback_ended with the same seq.
type socketPlayer struct {
	client  *Client
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan struct{}
	closed  bool
}

func newSocketPlayer(client *Client, timeout time.Duration, logger *zap.Logger) *socketPlayer {
	if timeout <= 0 {
		timeout = defaultPlaybackTimeout
	}
	return &socketPlayer{
		client:  client,
		timeout: timeout,
		logger:  logger,
		pending: make(map[uint64]chan struct{}),
	}
}

// Play implements repositories.AudioPlayer
func (p *socketPlayer) Play(ctx context.Context, audio []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errPlayerClosed
	}
	p.seq++
	seq := p.seq
	ended := make(chan struct{})
	p.pending[seq] = ended
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.pending, seq)
		p.mu.Unlock()
	}()

	if err := p.client.sendJSON(CreateAudioMessage(MessageTypeAudioStart, seq, len(audio))); err != nil {
		return fmt.Errorf("failed to announce audio: %w", err)
	}
	if err := p.client.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: audio}); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-ended:
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return errPlayerClosed
		}
		p.logger.Debug("Playback acknowledged", zap.Uint64("seq", seq))
		return nil
	case <-ctx.Done():
		// the client stops the clip it is playing
		p.client.sendJSON(CreateAudioMessage(MessageTypeAudioStop, seq, 0))
		return ctx.Err()
	case <-timer.C:
		return errPlaybackTimeout
	}
}

// Ended releases the Play call waiting for seq. Unknown or stale seqs are ignored.
func (p *socketPlayer) Ended(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ended, ok := p.pending[seq]
	if !ok {
		return false
	}
	delete(p.pending, seq)
	close(ended)
	return true
}

// Close fails every Play call still waiting for an acknowledgement
func (p *socketPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for seq, ended := range p.pending {
		delete(p.pending, seq)
		close(ended)
	}
}
