package speech

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// fakeTTS returns the sentence itself as audio and fails for configured sentences
type fakeTTS struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.fail[text] {
		return nil, errors.New("synthesis unavailable")
	}
	return []byte(text), nil
}

// fakePlayer records playback order and the peak number of concurrent plays
type fakePlayer struct {
	mu      sync.Mutex
	played  []string
	active  int32
	peak    int32
	delay   time.Duration
	release chan struct{} // when set, the first play blocks until closed, ignoring ctx
	started chan string
	blocked bool
}

func (p *fakePlayer) Play(ctx context.Context, audio []byte) error {
	n := atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)
	for {
		peak := atomic.LoadInt32(&p.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&p.peak, peak, n) {
			break
		}
	}

	if p.started != nil {
		p.started <- string(audio)
	}

	p.mu.Lock()
	block := p.release != nil && !p.blocked
	if block {
		p.blocked = true
	}
	p.mu.Unlock()

	if block {
		<-p.release
	} else if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.played = append(p.played, string(audio))
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) got() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

// stateRecorder captures every transition pushed by the queue
type stateRecorder struct {
	mu     sync.Mutex
	states []State
	idle   chan struct{}
}

func newStateRecorder() *stateRecorder {
	return &stateRecorder{idle: make(chan struct{}, 16)}
}

func (r *stateRecorder) record(state State) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	if state == StateIdle {
		r.idle <- struct{}{}
	}
}

func (r *stateRecorder) got() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func waitIdle(t *testing.T, r *stateRecorder) {
	t.Helper()
	select {
	case <-r.idle:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for queue to become idle")
	}
}

func waitPlayed(t *testing.T, p *fakePlayer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(p.got()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d playbacks, got %q", n, p.got())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueue_SingleSentenceCycle(t *testing.T) {
	tts := &fakeTTS{}
	player := &fakePlayer{}
	queue := NewQueue(tts, player, 0, zaptest.NewLogger(t))
	defer queue.Close()

	recorder := newStateRecorder()
	queue.Subscribe(recorder.record)

	segmenter := NewSegmenter(queue)
	for _, token := range []string{"Welcome", " to", " the", " lounge", "."} {
		segmenter.Feed(token)
	}

	waitIdle(t, recorder)

	played := player.got()
	if len(played) != 1 || played[0] != "Welcome to the lounge." {
		t.Errorf("Expected one played sentence, got %q", played)
	}

	states := recorder.got()
	if len(states) != 2 || states[0] != StateSpeaking || states[1] != StateIdle {
		t.Errorf("Expected [speaking idle], got %v", states)
	}

	if queue.Speaking() {
		t.Error("Queue should not be speaking after draining")
	}
}

func TestQueue_StrictOrder(t *testing.T) {
	player := &fakePlayer{delay: 20 * time.Millisecond}
	queue := NewQueue(&fakeTTS{}, player, 0, zaptest.NewLogger(t))
	defer queue.Close()

	recorder := newStateRecorder()
	queue.Subscribe(recorder.record)

	segmenter := NewSegmenter(queue)
	segmenter.Feed("Hello.")
	segmenter.Feed(" How are you?")

	waitPlayed(t, player, 2)
	waitIdle(t, recorder)

	played := player.got()
	if len(played) != 2 || played[0] != "Hello." || played[1] != "How are you?" {
		t.Errorf("Expected [Hello. How are you?], got %q", played)
	}

	if atomic.LoadInt32(&player.peak) != 1 {
		t.Errorf("Expected at most one concurrent playback, got %d", player.peak)
	}
}

func TestQueue_SynthesisFailureIsNotFatal(t *testing.T) {
	tts := &fakeTTS{fail: map[string]bool{"One.": true}}
	player := &fakePlayer{}
	queue := NewQueue(tts, player, 0, zaptest.NewLogger(t))
	defer queue.Close()

	recorder := newStateRecorder()
	queue.Subscribe(recorder.record)

	for _, sentence := range []string{"One.", "Two.", "Three."} {
		if !queue.Enqueue(sentence) {
			t.Fatalf("Expected %q to be accepted", sentence)
		}
	}

	waitPlayed(t, player, 2)

	played := player.got()
	if len(played) != 2 || played[0] != "Two." || played[1] != "Three." {
		t.Errorf("Expected [Two. Three.], got %q", played)
	}

	tts.mu.Lock()
	calls := len(tts.calls)
	tts.mu.Unlock()
	if calls != 3 {
		t.Errorf("Expected 3 synthesis calls, got %d", calls)
	}
}

func TestQueue_CancelClearsPendingWork(t *testing.T) {
	player := &fakePlayer{release: make(chan struct{}), started: make(chan string, 4)}
	queue := NewQueue(&fakeTTS{}, player, 100*time.Millisecond, zaptest.NewLogger(t))
	defer queue.Close()

	segmenter := NewSegmenter(queue)
	segmenter.Feed("First.")
	segmenter.Feed(" Second.")
	segmenter.Feed(" Third.")

	<-player.started
	segmenter.Feed(" Partial")
	segmenter.Cancel()

	if queue.Len() != 0 {
		t.Errorf("Expected empty queue after cancel, got %d", queue.Len())
	}

	if queue.State() != StateCancelled {
		t.Errorf("Expected state %s, got %s", StateCancelled, queue.State())
	}

	segmenter.Feed("Stale token.")
	if queue.Len() != 0 || segmenter.Buffered() != "" {
		t.Error("Expected feed within guard window to be ignored")
	}

	close(player.release)

	deadline := time.Now().Add(2 * time.Second)
	for queue.State() != StateIdle {
		if time.Now().After(deadline) {
			t.Fatal("Queue did not re-arm after the guard interval")
		}
		time.Sleep(10 * time.Millisecond)
	}

	played := player.got()
	if len(played) != 1 || played[0] != "First." {
		t.Errorf("Expected only the in-flight sentence to finish, got %q", played)
	}

	if !queue.Enqueue("Next turn.") {
		t.Error("Expected queue to accept work after re-arm")
	}
}

func TestQueue_NoOverlapAcrossCancel(t *testing.T) {
	player := &fakePlayer{release: make(chan struct{}), started: make(chan string, 4)}
	queue := NewQueue(&fakeTTS{}, player, time.Second, zaptest.NewLogger(t))
	defer queue.Close()

	recorder := newStateRecorder()
	queue.Subscribe(recorder.record)

	queue.Enqueue("Old turn.")
	<-player.started

	queue.Cancel()
	queue.Reset()
	waitIdle(t, recorder)

	if !queue.Enqueue("New turn.") {
		t.Fatal("Expected reset queue to accept new work")
	}

	select {
	case sentence := <-player.started:
		t.Fatalf("Playback of %q started while the previous one was still playing", sentence)
	case <-time.After(50 * time.Millisecond):
	}

	close(player.release)
	waitPlayed(t, player, 2)

	played := player.got()
	if len(played) != 2 || played[0] != "Old turn." || played[1] != "New turn." {
		t.Errorf("Expected [Old turn. New turn.], got %q", played)
	}

	if atomic.LoadInt32(&player.peak) != 1 {
		t.Errorf("Expected at most one concurrent playback, got %d", player.peak)
	}
}

func TestQueue_ResetOnlyAffectsCancelledQueue(t *testing.T) {
	queue := NewQueue(&fakeTTS{}, &fakePlayer{}, time.Hour, zaptest.NewLogger(t))
	defer queue.Close()

	queue.Reset()
	if queue.State() != StateIdle {
		t.Errorf("Expected idle, got %s", queue.State())
	}

	queue.Cancel()
	if queue.Accepting() {
		t.Error("Cancelled queue should not accept work")
	}

	queue.Reset()
	if !queue.Accepting() {
		t.Error("Reset queue should accept work")
	}
}

func TestQueue_ClosedRejectsWork(t *testing.T) {
	queue := NewQueue(&fakeTTS{}, &fakePlayer{}, 0, zaptest.NewLogger(t))
	queue.Close()

	if queue.Enqueue("Hello.") {
		t.Error("Closed queue should reject work")
	}

	queue.Reset()
	if queue.Accepting() {
		t.Error("Reset must not reopen a closed queue")
	}
}

func TestQueue_BlankSentenceRejected(t *testing.T) {
	queue := NewQueue(&fakeTTS{}, &fakePlayer{}, 0, zaptest.NewLogger(t))
	defer queue.Close()

	if queue.Enqueue("   ") {
		t.Error("Blank sentence should be rejected")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:      "idle",
		StateSpeaking:  "speaking",
		StateCancelled: "cancelled",
		State(42):      "unknown",
	}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("Expected %s, got %s", want, state.String())
		}
	}
}

func TestQueue_ExclusiveWaitsForQueuedSentences(t *testing.T) {
	player := &fakePlayer{}
	queue := NewQueue(&fakeTTS{}, player, 0, zaptest.NewLogger(t))
	defer queue.Close()

	inside := make(chan struct{})
	leave := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- queue.Exclusive(context.Background(), func(ctx context.Context) error {
			close(inside)
			<-leave
			return player.Play(ctx, []byte("replay"))
		})
	}()
	<-inside

	queue.Enqueue("Queued sentence.")
	time.Sleep(30 * time.Millisecond)
	if len(player.got()) != 0 {
		t.Errorf("Expected the queue to wait for the exclusive caller, got %q", player.got())
	}

	close(leave)
	if err := <-done; err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	waitPlayed(t, player, 2)

	played := player.got()
	if played[0] != "replay" || played[1] != "Queued sentence." {
		t.Errorf("Expected [replay Queued sentence.], got %q", played)
	}
	if atomic.LoadInt32(&player.peak) != 1 {
		t.Errorf("Expected one playback at a time, got %d", atomic.LoadInt32(&player.peak))
	}
}

func TestQueue_ExclusiveHonoursContext(t *testing.T) {
	player := &fakePlayer{release: make(chan struct{}), started: make(chan string, 1)}
	queue := NewQueue(&fakeTTS{}, player, 0, zaptest.NewLogger(t))
	defer queue.Close()

	queue.Enqueue("Long sentence.")
	select {
	case <-player.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the queue to speak")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	ran := false
	err := queue.Exclusive(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
	if ran {
		t.Error("Exclusive must not run while a sentence is playing")
	}

	close(player.release)
}
