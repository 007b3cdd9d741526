package concierge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain"
	"github.com/imperialaccess/concierge/domain/repositories"
)

// Ensure Client implements the TokenStreamer interface
var _ repositories.TokenStreamer = (*Client)(nil)

const doneSentinel = "[DONE]"

// tokenFrame is the JSON body of one "data:" line
type tokenFrame struct {
	Token *string `json:"token"`
}

// StreamTurn posts payload to the stream endpoint and calls onToken for every
// token frame as it arrives. The stream's natural end is authoritative: the
// [DONE] sentinel is noted but reading continues until EOF.
func (c *Client) StreamTurn(ctx context.Context, payload repositories.TurnPayload, onToken repositories.TokenHandler) (string, error) {
	if err := c.credentials.validate(); err != nil {
		return "", err
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchdog := newIdleWatchdog(c.idleTimeout, cancel)
	defer watchdog.stop()

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.apiBaseURL+streamPath, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.credentials.apply(httpReq)

	c.logger.Debug("Opening token stream",
		zap.String("guestID", payload.GuestID),
		zap.Bool("isGreeting", payload.IsGreeting))

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return "", c.streamError(ctx, watchdog, err)
	}
	defer resp.Body.Close()

	if !isHTTPSuccess(resp.StatusCode) {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Concierge stream returned error",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(errorBody)))
		return "", domain.NewTransportError(resp.StatusCode, errorBody, nil)
	}

	var accumulated strings.Builder
	reader := bufio.NewReader(resp.Body)
	tokenCount := 0
	sawDone := false

	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			watchdog.kick()

			token, done, ok := parseFrame(line)
			switch {
			case done:
				sawDone = true
			case ok:
				accumulated.WriteString(token)
				tokenCount++
				onToken(token, accumulated.String())
			}
		}

		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			c.logger.Debug("Token stream ended",
				zap.Int("tokens", tokenCount),
				zap.Bool("sawDone", sawDone))
			return accumulated.String(), nil
		}

		return accumulated.String(), c.streamError(ctx, watchdog, readErr)
	}
}

// streamError classifies a failure to open or read the stream
func (c *Client) streamError(ctx context.Context, watchdog *idleWatchdog, err error) error {
	if watchdog.fired() {
		c.logger.Warn("Token stream idle timeout", zap.Duration("idleTimeout", c.idleTimeout))
		return domain.NewTransportError(0, nil, domain.ErrStreamIdle)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Error("Token stream failed", zap.Error(err))
	return domain.NewTransportError(0, nil, err)
}

// parseFrame decodes one line of the stream. Lines that are not a well-formed
// data frame with a token field report ok == false.
func parseFrame(line string) (token string, done bool, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false, false
	}

	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == doneSentinel {
		return "", true, false
	}

	var frame tokenFrame
	if err := json.Unmarshal([]byte(data), &frame); err != nil || frame.Token == nil {
		return "", false, false
	}
	return *frame.Token, false, true
}

// idleWatchdog cancels the stream when no data arrives for the timeout
type idleWatchdog struct {
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleWatchdog(timeout time.Duration, cancel context.CancelFunc) *idleWatchdog {
	w := &idleWatchdog{timeout: timeout}
	w.timer = time.AfterFunc(timeout, func() {
		w.expired.Store(true)
		cancel()
	})
	return w
}

func (w *idleWatchdog) kick() {
	if !w.expired.Load() {
		w.timer.Reset(w.timeout)
	}
}

func (w *idleWatchdog) fired() bool {
	return w.expired.Load()
}

func (w *idleWatchdog) stop() {
	w.timer.Stop()
}
