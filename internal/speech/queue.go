package speech

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain"
	"github.com/imperialaccess/concierge/domain/repositories"
)

// DefaultGuardInterval is how long a cancelled queue refuses new sentences
// before it re-arms on its own.
const DefaultGuardInterval = 50 * time.Millisecond

// State is the observable state of the speech queue
type State int

const (
	// StateIdle means nothing is queued or playing
	StateIdle State = iota
	// StateSpeaking means the drain worker is voicing a sentence
	StateSpeaking
	// StateCancelled means the queue was cancelled and waits to be re-armed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpeaking:
		return "speaking"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Queue voices sentences strictly in FIFO order, one at a time.
//
// Every Cancel starts a new epoch: the drain worker of the previous epoch
// notices the change at its next dequeue and exits without touching state,
// while the playing slot keeps its in-flight playback from overlapping the
// next epoch or an Exclusive caller.
type Queue struct {
	tts    repositories.TextToSpeech
	player repositories.AudioPlayer
	logger *zap.Logger
	guard  time.Duration

	ctx  context.Context
	stop context.CancelFunc

	mu          sync.Mutex
	pending     []string
	state       State
	epoch       uint64
	draining    bool
	closed      bool
	stopCurrent context.CancelFunc
	rearmTimer  *time.Timer
	listeners   []func(State)

	playing chan struct{}
}

// NewQueue creates a speech queue. A non-positive guard uses DefaultGuardInterval.
func NewQueue(tts repositories.TextToSpeech, player repositories.AudioPlayer, guard time.Duration, logger *zap.Logger) *Queue {
	if guard <= 0 {
		guard = DefaultGuardInterval
		logger.Debug("Using default speech guard interval", zap.Duration("guard", guard))
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Queue{
		tts:    tts,
		player: player,
		logger: logger,
		guard:  guard,
		ctx:    ctx,
		stop:   stop,
		state:  StateIdle,

		playing: make(chan struct{}, 1),
	}
}

// Subscribe registers fn to be called on every state transition. Listeners run
// synchronously while the queue lock is held and must not call back into the queue.
func (q *Queue) Subscribe(fn func(State)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Enqueue appends a sentence and starts the drain worker if it is not running.
// It returns false while the queue is cancelled or closed.
func (q *Queue) Enqueue(sentence string) bool {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.state == StateCancelled {
		return false
	}

	q.pending = append(q.pending, sentence)
	if !q.draining {
		q.draining = true
		go q.drain(q.epoch)
	}
	return true
}

// Accepting reports whether Enqueue would currently accept a sentence
func (q *Queue) Accepting() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.closed && q.state != StateCancelled
}

// Cancel drops every pending sentence, aborts the sentence in flight and
// refuses new work until the guard interval elapses or Reset is called.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.cancelLocked()
	epoch := q.epoch
	q.rearmTimer = time.AfterFunc(q.guard, func() {
		q.rearm(epoch)
	})
}

// Reset re-arms a cancelled queue immediately
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.state != StateCancelled {
		return
	}
	if q.rearmTimer != nil {
		q.rearmTimer.Stop()
		q.rearmTimer = nil
	}
	q.setStateLocked(StateIdle)
}

// Close cancels all work permanently
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.cancelLocked()
	q.closed = true
	q.stop()
}

// State returns the current queue state
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Speaking reports whether a sentence is being voiced
func (q *Queue) Speaking() bool {
	return q.State() == StateSpeaking
}

// Exclusive runs fn while no queued sentence is being voiced. It waits for
// the sentence in flight and returns ctx.Err if ctx ends first.
func (q *Queue) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case q.playing <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-q.playing }()

	return fn(ctx)
}

// Len returns the number of sentences waiting to be voiced
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) cancelLocked() {
	q.epoch++
	q.pending = nil
	q.draining = false
	if q.stopCurrent != nil {
		q.stopCurrent()
		q.stopCurrent = nil
	}
	if q.rearmTimer != nil {
		q.rearmTimer.Stop()
		q.rearmTimer = nil
	}
	q.setStateLocked(StateCancelled)
}

func (q *Queue) rearm(epoch uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.epoch != epoch || q.state != StateCancelled {
		return
	}
	q.rearmTimer = nil
	q.setStateLocked(StateIdle)
}

func (q *Queue) setStateLocked(state State) {
	if q.state == state {
		return
	}
	q.state = state
	for _, fn := range q.listeners {
		fn(state)
	}
}

// drain is the single worker of one epoch
func (q *Queue) drain(epoch uint64) {
	for {
		sentence, ctx, ok := q.next(epoch)
		if !ok {
			return
		}
		q.speak(ctx, sentence)
	}
}

func (q *Queue) next(epoch uint64) (string, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.epoch != epoch {
		return "", nil, false
	}
	if q.stopCurrent != nil {
		q.stopCurrent()
		q.stopCurrent = nil
	}
	if len(q.pending) == 0 {
		q.draining = false
		q.setStateLocked(StateIdle)
		return "", nil, false
	}

	sentence := q.pending[0]
	q.pending = q.pending[1:]

	ctx, cancel := context.WithCancel(q.ctx)
	q.stopCurrent = cancel
	q.setStateLocked(StateSpeaking)
	return sentence, ctx, true
}

func (q *Queue) speak(ctx context.Context, sentence string) {
	select {
	case q.playing <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-q.playing }()

	if ctx.Err() != nil {
		return
	}

	audio, err := q.tts.Synthesize(ctx, sentence)
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Warn("Speech synthesis failed, skipping sentence",
				zap.Error(&domain.SpeechError{Stage: domain.SpeechStageSynthesis, Sentence: sentence, Err: err}))
		}
		return
	}

	if ctx.Err() != nil {
		return
	}

	if err := q.player.Play(ctx, audio); err != nil && ctx.Err() == nil {
		q.logger.Warn("Audio playback failed, skipping sentence",
			zap.Error(&domain.SpeechError{Stage: domain.SpeechStagePlayback, Sentence: sentence, Err: err}))
	}
}
