package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/imperialaccess/concierge/domain"
	"github.com/imperialaccess/concierge/domain/entities"
	"github.com/imperialaccess/concierge/domain/repositories"
	"github.com/imperialaccess/concierge/internal/speech"
)

const (
	// FallbackMessage replaces a reply whose stream failed
	FallbackMessage = "I apologize, I encountered a brief interruption. Please try again."
)

// ErrServiceClosed is returned by every operation after Close
var ErrServiceClosed = errors.New("conversation service closed")

// GreetingFallback replaces a greeting whose stream failed
func GreetingFallback(name string) string {
	return fmt.Sprintf("Welcome to Imperial Access Lounge, %s. How may I assist you today?", name)
}

// emptyGreeting replaces a greeting that streamed no text
func emptyGreeting(name string) string {
	return fmt.Sprintf("Welcome to Imperial Access Lounge, %s.", name)
}

// ConversationConfig holds the per-guest settings of a conversation
// Required fields:
// - GuestID: the authenticated guest
// Optional fields with defaults:
// - GuestName: used until the profile is loaded (default: "Guest")
// - AutoPlay: speak replies while they stream
// - GuardInterval: speech queue re-arm delay after a cancel (default: 50ms)
// - HistoryLimit: opt-in cap on the turns kept in memory (default: 0, keep all)
type ConversationConfig struct {
	GuestID       string
	GuestName     string
	AutoPlay      bool
	GuardInterval time.Duration
	HistoryLimit  int
}

// ConversationDeps are the collaborators of a conversation. STT and Profiles
// are optional.
type ConversationDeps struct {
	Streamer repositories.TokenStreamer
	TTS      repositories.TextToSpeech
	Player   repositories.AudioPlayer
	STT      repositories.SpeechToText
	Profiles repositories.ProfileRepository
	Observer TurnObserver
}

// ConversationService sequences the turns of one guest conversation. It owns
// the turn history and wires the token stream to the sentence segmenter and
// the speech queue.
type ConversationService struct {
	config    ConversationConfig
	streamer  repositories.TokenStreamer
	tts       repositories.TextToSpeech
	player    repositories.AudioPlayer
	stt       repositories.SpeechToText
	profiles  repositories.ProfileRepository
	observer  TurnObserver
	logger    *zap.Logger
	queue     *speech.Queue
	segmenter *speech.Segmenter
	history   *TurnHistory

	mu           sync.Mutex
	active       *entities.StreamSession
	activeTurnID string
	autoPlay     bool
	profile      *entities.ProfileSnapshot
	replayCancel context.CancelFunc
	closed       bool

	replaying atomic.Bool
}

// ValidateConversationConfig validates the ConversationConfig
func ValidateConversationConfig(config ConversationConfig) error {
	if config.GuestID == "" {
		return fmt.Errorf("guest id is required")
	}
	if config.GuardInterval < 0 {
		return fmt.Errorf("guard interval must be positive, got %s", config.GuardInterval)
	}
	if config.HistoryLimit < 0 {
		return fmt.Errorf("history limit must be positive, got %d", config.HistoryLimit)
	}
	return nil
}

// NewConversationService creates a new conversation service
func NewConversationService(config ConversationConfig, deps ConversationDeps, logger *zap.Logger) (*ConversationService, error) {
	if err := ValidateConversationConfig(config); err != nil {
		return nil, err
	}
	if deps.Streamer == nil || deps.TTS == nil || deps.Player == nil {
		return nil, fmt.Errorf("streamer, text-to-speech and player are required")
	}

	observer := deps.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	logger = logger.With(zap.String("guestID", config.GuestID))
	queue := speech.NewQueue(deps.TTS, deps.Player, config.GuardInterval, logger)

	s := &ConversationService{
		config:    config,
		streamer:  deps.Streamer,
		tts:       deps.TTS,
		player:    deps.Player,
		stt:       deps.STT,
		profiles:  deps.Profiles,
		observer:  observer,
		logger:    logger,
		queue:     queue,
		segmenter: speech.NewSegmenter(queue),
		history:   NewTurnHistory(config.HistoryLimit),
		autoPlay:  config.AutoPlay,
	}

	// runs under the queue lock: must not take s.mu
	queue.Subscribe(func(state speech.State) {
		s.observer.SpeakingChanged(state == speech.StateSpeaking || s.replaying.Load())
	})

	return s, nil
}

// Profile returns the guest profile, fetching it once per conversation
func (s *ConversationService) Profile(ctx context.Context) (*entities.ProfileSnapshot, error) {
	s.mu.Lock()
	profile := s.profile
	s.mu.Unlock()
	if profile != nil {
		return profile, nil
	}

	if s.profiles == nil {
		return nil, fmt.Errorf("profile repository not configured")
	}

	profile, err := s.profiles.GetProfile(ctx, s.config.GuestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	s.mu.Lock()
	if s.profile == nil {
		s.profile = profile
	}
	profile = s.profile
	s.mu.Unlock()
	return profile, nil
}

// guestName prefers the profile name and falls back to the configured one
func (s *ConversationService) guestName(ctx context.Context) string {
	if profile, err := s.Profile(ctx); err == nil {
		return profile.DisplayName()
	} else if s.profiles != nil {
		s.logger.Warn("Greeting without profile", zap.Error(err))
	}

	if name := strings.TrimSpace(s.config.GuestName); name != "" {
		return name
	}
	return (*entities.ProfileSnapshot)(nil).DisplayName()
}

// PendingTurn is an assistant turn that already superseded the previous one
// and has not streamed yet. Run must be called exactly once.
type PendingTurn struct {
	s       *ConversationService
	ctx     context.Context
	cancel  context.CancelFunc
	session *entities.StreamSession
	turn    *entities.ChatTurn
	prepare func(ctx context.Context) (payload repositories.TurnPayload, greetingName string, err error)
}

// ID returns the id of the assistant turn
func (p *PendingTurn) ID() string {
	return p.turn.ID
}

// Run streams the reply. It returns domain.ErrTurnCancelled once a newer turn
// or Cancel has superseded this one.
func (p *PendingTurn) Run() (entities.ChatTurn, error) {
	defer p.cancel()

	payload, greetingName, err := p.prepare(p.ctx)
	if err != nil {
		return p.s.abandon(p, err)
	}
	return p.s.stream(p, payload, greetingName)
}

// Greet streams the personalized greeting turn
func (s *ConversationService) Greet(ctx context.Context) (entities.ChatTurn, error) {
	pending, err := s.BeginGreet(ctx)
	if err != nil {
		return entities.ChatTurn{}, err
	}
	return pending.Run()
}

// BeginGreet makes the greeting the active turn. The profile is fetched by Run.
func (s *ConversationService) BeginGreet(ctx context.Context) (*PendingTurn, error) {
	return s.begin(ctx, "", func(ctx context.Context) (repositories.TurnPayload, string, error) {
		name := s.guestName(ctx)
		return repositories.GreetingPayload(s.config.GuestID, name), name, nil
	})
}

// Send records a guest message and streams the reply
func (s *ConversationService) Send(ctx context.Context, text string) (entities.ChatTurn, error) {
	pending, err := s.BeginSend(ctx, text)
	if err != nil {
		return entities.ChatTurn{}, err
	}
	return pending.Run()
}

// BeginSend records a guest message and makes its reply the active turn.
// Calls made in order supersede each other in that order.
func (s *ConversationService) BeginSend(ctx context.Context, text string) (*PendingTurn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}
	return s.begin(ctx, text, func(ctx context.Context) (repositories.TurnPayload, string, error) {
		return repositories.MessagePayload(s.config.GuestID, s.nameForPayload(), text), "", nil
	})
}

// SendVoice transcribes a recorded clip and sends it as a message
func (s *ConversationService) SendVoice(ctx context.Context, audio []byte, config repositories.AudioConfig) (entities.ChatTurn, error) {
	pending, err := s.BeginVoice(ctx, audio, config)
	if err != nil {
		return entities.ChatTurn{}, err
	}
	return pending.Run()
}

// BeginVoice makes the reply to a recorded clip the active turn. Run
// transcribes the clip and records the transcript unless a newer turn has
// superseded it meanwhile.
func (s *ConversationService) BeginVoice(ctx context.Context, audio []byte, config repositories.AudioConfig) (*PendingTurn, error) {
	if s.stt == nil {
		return nil, fmt.Errorf("speech recognition not configured")
	}

	var pending *PendingTurn
	pending, err := s.begin(ctx, "", func(ctx context.Context) (repositories.TurnPayload, string, error) {
		text, err := s.stt.TranscribeAudio(ctx, audio, config)
		if err != nil {
			return repositories.TurnPayload{}, "", fmt.Errorf("transcription failed: %w", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return repositories.TurnPayload{}, "", domain.ErrEmptyMessage
		}
		s.logger.Info("Transcription completed", zap.Int("textLength", len(text)))

		s.mu.Lock()
		if s.active != pending.session {
			s.mu.Unlock()
			return repositories.TurnPayload{}, "", domain.ErrTurnCancelled
		}
		userTurn := entities.NewUserTurn(text)
		s.history.Append(userTurn)
		s.observer.UserTurnAdded(*userTurn)
		s.mu.Unlock()

		return repositories.MessagePayload(s.config.GuestID, s.nameForPayload(), text), "", nil
	})
	return pending, err
}

func (s *ConversationService) nameForPayload() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile != nil {
		return s.profile.DisplayName()
	}
	return strings.TrimSpace(s.config.GuestName)
}

// begin supersedes the active turn and installs a new one. userText, when
// set, is recorded as the guest turn in the same step.
func (s *ConversationService) begin(ctx context.Context, userText string, prepare func(ctx context.Context) (repositories.TurnPayload, string, error)) (*PendingTurn, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	pending := &PendingTurn{
		s:       s,
		ctx:     turnCtx,
		cancel:  cancel,
		session: entities.NewStreamSession(cancel),
		turn:    entities.NewAssistantTurn(),
		prepare: prepare,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		cancel()
		return nil, ErrServiceClosed
	}
	// the previous turn's audio is stopped before the new stream opens
	s.cancelActiveLocked()
	s.segmenter.Cancel()
	s.segmenter.Reset()

	if userText != "" {
		userTurn := entities.NewUserTurn(userText)
		s.history.Append(userTurn)
		s.observer.UserTurnAdded(*userTurn)
	}

	s.active = pending.session
	s.activeTurnID = pending.turn.ID
	s.observer.TurnStarted(*pending.turn)
	return pending, nil
}

// abandon releases a turn whose payload could not be prepared
func (s *ConversationService) abandon(p *PendingTurn, err error) (entities.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	superseded := s.active != p.session || !p.session.IsActive()
	if s.active == p.session {
		s.active = nil
		s.activeTurnID = ""
	}
	s.observer.TurnCancelled(p.turn.ID)

	if superseded || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrTurnCancelled) {
		p.session.Cancel()
		return entities.ChatTurn{}, domain.ErrTurnCancelled
	}
	p.session.Fail()
	s.logger.Warn("Turn abandoned before streaming", zap.String("turnID", p.turn.ID), zap.Error(err))
	return entities.ChatTurn{}, err
}

// stream runs the token stream of a pending turn. greetingName is set for
// greetings and selects the greeting fallbacks.
func (s *ConversationService) stream(p *PendingTurn, payload repositories.TurnPayload, greetingName string) (entities.ChatTurn, error) {
	session, turn := p.session, p.turn

	s.logger.Info("Turn started",
		zap.String("turnID", turn.ID),
		zap.String("requestID", session.RequestID),
		zap.Bool("isGreeting", payload.IsGreeting))

	final, err := s.streamer.StreamTurn(p.ctx, payload, func(token, _ string) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.active != session {
			return
		}
		text, ok := session.Append(token)
		if !ok {
			return
		}
		turn.SetText(text)
		if s.autoPlay {
			s.segmenter.Feed(token)
		}
		s.observer.TokenReceived(turn.ID, token, text)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != session || !session.IsActive() {
		s.logger.Info("Turn cancelled", zap.String("turnID", turn.ID))
		s.observer.TurnCancelled(turn.ID)
		return entities.ChatTurn{}, domain.ErrTurnCancelled
	}
	s.active = nil
	s.activeTurnID = ""

	if err != nil && errors.Is(err, context.Canceled) {
		session.Cancel()
		s.segmenter.Cancel()
		s.logger.Info("Turn cancelled by caller", zap.String("turnID", turn.ID))
		s.observer.TurnCancelled(turn.ID)
		return entities.ChatTurn{}, domain.ErrTurnCancelled
	}

	if strings.TrimSpace(final) == "" {
		final = session.Text()
	}

	var cause error
	substituted := false
	switch {
	case err != nil:
		session.Fail()
		cause = err
		substituted = true
		final = FallbackMessage
		if greetingName != "" {
			final = GreetingFallback(greetingName)
		}
		s.logger.Warn("Turn failed, substituting fallback",
			zap.String("turnID", turn.ID),
			zap.Error(err))
	case strings.TrimSpace(final) == "":
		session.Complete()
		substituted = true
		final = FallbackMessage
		if greetingName != "" {
			final = emptyGreeting(greetingName)
		}
		s.logger.Warn("Turn streamed no text, substituting fallback", zap.String("turnID", turn.ID))
	default:
		session.Complete()
	}

	turn.Complete(final)
	s.history.Append(turn)

	if s.autoPlay {
		if substituted {
			// partial audio of a failed stream is replaced by the fallback
			s.segmenter.Cancel()
			s.segmenter.Reset()
			s.segmenter.Feed(final)
		}
		s.segmenter.Flush()
	}

	s.logger.Info("Turn completed",
		zap.String("turnID", turn.ID),
		zap.Int("textLength", len(final)),
		zap.Bool("fallback", substituted))
	s.observer.TurnCompleted(*turn, cause)

	return *turn, nil
}

// Cancel stops the streaming turn and all queued or playing audio
func (s *ConversationService) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.cancelActiveLocked()
	s.segmenter.Cancel()
}

// cancelActiveLocked marks the active session cancelled and stops any replay
func (s *ConversationService) cancelActiveLocked() {
	if s.active != nil {
		s.active.Cancel()
		s.active = nil
		s.activeTurnID = ""
	}
	if s.replayCancel != nil {
		s.replayCancel()
		s.replayCancel = nil
	}
}

// SetAutoPlay toggles speaking replies while they stream. Turning it off
// silences the speech queue immediately.
func (s *ConversationService) SetAutoPlay(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.autoPlay == enabled {
		return
	}
	s.autoPlay = enabled
	if !enabled {
		s.segmenter.Cancel()
	}
	s.logger.Info("Auto-play toggled", zap.Bool("enabled", enabled))
}

// AutoPlay reports whether replies are spoken while they stream
func (s *ConversationService) AutoPlay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoPlay
}

// Speaking reports whether the queue or a replay is producing audio
func (s *ConversationService) Speaking() bool {
	return s.queue.Speaking() || s.replaying.Load()
}

// Replay speaks a stored assistant turn as a single request, bypassing the
// segmenter. It is refused while any audio is playing and never overlaps the
// speech queue.
func (s *ConversationService) Replay(ctx context.Context, turnID string) error {
	turn, ok := s.history.Find(turnID)
	if !ok || turn.Role != entities.TurnRoleAssistant || !turn.HasAudio {
		return domain.ErrTurnNotFound
	}

	if s.queue.Speaking() || !s.replaying.CompareAndSwap(false, true) {
		return domain.ErrSpeechBusy
	}

	replayCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		s.replaying.Store(false)
		return ErrServiceClosed
	}
	s.replayCancel = cancel
	s.mu.Unlock()

	s.observer.SpeakingChanged(true)
	defer func() {
		cancel()
		s.replaying.Store(false)
		s.observer.SpeakingChanged(s.queue.Speaking())
	}()

	// a turn that starts speaking meanwhile waits for the replay to finish
	err := s.queue.Exclusive(replayCtx, func(ctx context.Context) error {
		audio, err := s.tts.Synthesize(ctx, turn.Text)
		if err != nil {
			return &domain.SpeechError{Stage: domain.SpeechStageSynthesis, Sentence: turn.Text, Err: err}
		}
		if err := s.player.Play(ctx, audio); err != nil {
			return &domain.SpeechError{Stage: domain.SpeechStagePlayback, Sentence: turn.Text, Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Turn replayed", zap.String("turnID", turnID))
	return nil
}

// History returns the completed turns in order
func (s *ConversationService) History() []entities.ChatTurn {
	return s.history.Turns()
}

// ActiveTurnID returns the id of the streaming turn, or "" when idle
func (s *ConversationService) ActiveTurnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTurnID
}

// Close cancels all work. The service rejects every operation afterwards.
func (s *ConversationService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.cancelActiveLocked()
	s.segmenter.Cancel()
	s.queue.Close()
	s.closed = true
}
