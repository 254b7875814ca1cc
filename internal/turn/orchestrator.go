package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smitsp11/sonna-mlh/internal/generate"
	"github.com/smitsp11/sonna-mlh/internal/metrics"
	"github.com/smitsp11/sonna-mlh/internal/store"
	"github.com/smitsp11/sonna-mlh/internal/synthesize"
	"github.com/smitsp11/sonna-mlh/internal/transcribe"
)

// defaultEmptyTranscriptReply answers turns where the audio decoded to no
// speech at all. Nothing is persisted for these turns.
const defaultEmptyTranscriptReply = "I didn't catch that. Could you say it again?"

// Transcriber converts utterance audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioData []byte, formatHint string) (string, error)
}

// Synthesizer converts reply text into spoken audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Store is the persistence surface one turn needs.
type Store interface {
	ContextStore
	GetOrCreateUser(ctx context.Context, email, name string) (*store.User, error)
	GetOrCreateActiveConversation(ctx context.Context, userID, conversationID int64, activityWindow time.Duration) (*store.Conversation, bool, error)
	AppendMessage(ctx context.Context, conversationID int64, role, content string) (*store.Message, error)
	GenerateTitle(ctx context.Context, conversationID int64, firstMessage string) error
}

// Config contains orchestrator tuning
type Config struct {
	HistoryLimit         int
	ActivityWindow       time.Duration
	MaxRetries           int
	BackoffBase          time.Duration
	DefaultUserEmail     string
	DefaultUserName      string
	DefaultTimezone      string
	Location             string
	EmptyTranscriptReply string
}

// Request is one voice turn as received from the transport layer.
type Request struct {
	Audio          []byte
	FormatHint     string
	UserEmail      string
	ConversationID int64
}

// Result is the outcome of a successful turn. Degraded means the reply text
// was produced and persisted but could not be voiced.
type Result struct {
	TurnID             string
	ConversationID     int64
	UserText           string
	ReplyText          string
	Audio              []byte
	Degraded           bool
	UserMessageID      int64
	AssistantMessageID int64
}

// Orchestrator runs the full voice turn pipeline: transcribe, assemble
// context, generate a reply, persist both sides of the exchange, synthesize.
type Orchestrator struct {
	config      Config
	transcriber Transcriber
	generator   generate.Generator
	synthesizer Synthesizer
	store       Store
	assembler   *Assembler
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewOrchestrator wires the pipeline together. clock may be nil.
func NewOrchestrator(config Config, transcriber Transcriber, generator generate.Generator, synthesizer Synthesizer, turnStore Store, m *metrics.Metrics, logger *slog.Logger, clock func() time.Time) (*Orchestrator, error) {
	if transcriber == nil || generator == nil || turnStore == nil {
		return nil, fmt.Errorf("transcriber, generator and store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 8
	}
	if config.ActivityWindow <= 0 {
		config.ActivityWindow = 2 * time.Hour
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 500 * time.Millisecond
	}
	if config.EmptyTranscriptReply == "" {
		config.EmptyTranscriptReply = defaultEmptyTranscriptReply
	}

	return &Orchestrator{
		config:      config,
		transcriber: transcriber,
		generator:   generator,
		synthesizer: synthesizer,
		store:       turnStore,
		assembler:   NewAssembler(turnStore, config.DefaultTimezone, config.Location, clock),
		metrics:     m,
		logger:      logger,
	}, nil
}

// Run executes one turn. On failure it returns a *Error carrying the stage
// and kind; the store is never written before transcription succeeds, and a
// synthesis failure degrades the result instead of failing the turn.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	turnID := uuid.NewString()
	logger := o.logger.With("turn_id", turnID)
	started := time.Now()

	if o.metrics != nil {
		o.metrics.RecordTurnStarted()
	}

	result, err := o.run(ctx, logger, turnID, req)
	if err != nil {
		var turnErr *Error
		if !errors.As(err, &turnErr) {
			turnErr = newError(StageReceived, KindInput, err)
		}
		if o.metrics != nil {
			o.metrics.RecordTurnFailed(string(turnErr.Stage), string(turnErr.Kind))
		}
		logger.Error("Turn failed",
			"stage", string(turnErr.Stage),
			"kind", string(turnErr.Kind),
			"error", turnErr.Err)
		return nil, turnErr
	}

	if o.metrics != nil {
		o.metrics.RecordTurnCompleted(time.Since(started).Seconds(), result.Degraded)
	}
	logger.Info("Turn completed",
		"conversation_id", result.ConversationID,
		"degraded", result.Degraded,
		"duration_ms", time.Since(started).Milliseconds())
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, turnID string, req Request) (*Result, error) {
	transcript, err := o.transcribeStage(ctx, req)
	if err != nil {
		return nil, err
	}

	if transcript == "" {
		// No speech in the payload. Answer with the canned prompt and keep
		// the conversation record untouched. ConversationID stays zero: the
		// request's id was never validated against an owner, so echoing it
		// would vouch for an arbitrary caller-supplied value.
		logger.Info("Empty transcript, returning canned reply")
		result := &Result{
			TurnID:    turnID,
			ReplyText: o.config.EmptyTranscriptReply,
			Degraded:  true,
		}
		if audioData, synthErr := o.synthesizeStage(ctx, result.ReplyText); synthErr == nil {
			result.Audio = audioData
			result.Degraded = false
		}
		return result, nil
	}

	email := req.UserEmail
	if email == "" {
		email = o.config.DefaultUserEmail
	}
	user, err := o.store.GetOrCreateUser(ctx, email, o.config.DefaultUserName)
	if err != nil {
		return nil, newError(StageContext, KindPersistence, fmt.Errorf("failed to resolve user: %w", err))
	}

	conversation, created, err := o.store.GetOrCreateActiveConversation(ctx, user.ID, req.ConversationID, o.config.ActivityWindow)
	if err != nil {
		return nil, newError(StageContext, KindPersistence, fmt.Errorf("failed to resolve conversation: %w", err))
	}
	if created && o.metrics != nil {
		o.metrics.RecordConversationCreated()
	}

	turnContext, merged, err := o.assembleStage(ctx, user.ID, conversation.ID)
	if err != nil {
		return nil, err
	}
	if merged > 0 {
		logger.Warn("Merged duplicate preference rows", "user_id", user.ID, "merged", merged)
	}

	userMessage, err := o.store.AppendMessage(ctx, conversation.ID, store.RoleUser, transcript)
	if err != nil {
		return nil, newError(StagePersisted, KindPersistence, fmt.Errorf("failed to persist user message: %w", err))
	}
	if o.metrics != nil {
		o.metrics.RecordMessageAppended(store.RoleUser)
	}

	if created {
		if err := o.store.GenerateTitle(ctx, conversation.ID, transcript); err != nil {
			logger.Warn("Failed to title conversation", "conversation_id", conversation.ID, "error", err)
		}
	}

	reply, err := o.generateStage(ctx, logger, turnContext, transcript)
	if err != nil {
		return nil, err
	}

	assistantMessage, err := o.store.AppendMessage(ctx, conversation.ID, store.RoleAssistant, reply)
	if err != nil {
		return nil, newError(StagePersisted, KindPersistence, fmt.Errorf("failed to persist assistant message: %w", err))
	}
	if o.metrics != nil {
		o.metrics.RecordMessageAppended(store.RoleAssistant)
	}

	result := &Result{
		TurnID:             turnID,
		ConversationID:     conversation.ID,
		UserText:           transcript,
		ReplyText:          reply,
		UserMessageID:      userMessage.ID,
		AssistantMessageID: assistantMessage.ID,
	}

	audioData, err := o.synthesizeStage(ctx, reply)
	if err != nil {
		// Both messages are already durable, so the turn still succeeds
		// without audio.
		logger.Warn("Synthesis failed, degrading to text-only reply", "error", err)
		result.Degraded = true
		return result, nil
	}
	result.Audio = audioData

	return result, nil
}

// transcribeStage converts audio to text. Validation failures are input
// errors; everything else is a transient upstream failure.
func (o *Orchestrator) transcribeStage(ctx context.Context, req Request) (string, error) {
	started := time.Now()
	transcript, err := o.transcriber.Transcribe(ctx, req.Audio, req.FormatHint)
	if o.metrics != nil {
		o.metrics.RecordStageDuration("transcribe", time.Since(started).Seconds())
	}
	if err != nil {
		if errors.Is(err, transcribe.ErrEmptyAudio) || errors.Is(err, transcribe.ErrUnsupportedFormat) {
			return "", newError(StageReceived, KindInput, err)
		}
		return "", newError(StageTranscribed, KindUpstreamTransient, err)
	}

	if o.metrics != nil {
		o.metrics.RecordTranscript(len(transcript))
	}
	return transcript, nil
}

func (o *Orchestrator) assembleStage(ctx context.Context, userID, conversationID int64) (*Context, int, error) {
	started := time.Now()
	turnContext, merged, err := o.assembler.Assemble(ctx, userID, conversationID, o.config.HistoryLimit)
	if o.metrics != nil {
		o.metrics.RecordStageDuration("context", time.Since(started).Seconds())
	}
	if err != nil {
		return nil, 0, newError(StageContext, KindPersistence, err)
	}
	if o.metrics != nil {
		o.metrics.RecordPreferencesReconciled(merged)
	}
	return turnContext, merged, nil
}

// generateStage calls the reasoning backend, retrying transient failures
// with exponential backoff. Permanent rejections surface immediately.
func (o *Orchestrator) generateStage(ctx context.Context, logger *slog.Logger, turnContext *Context, utterance string) (string, error) {
	genReq := generate.Request{
		Global:      turnContext.Global,
		Preferences: turnContext.Preferences,
		History:     turnContext.History,
		Utterance:   utterance,
	}

	started := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordStageDuration("generate", time.Since(started).Seconds())
		}
	}()

	var lastErr error
	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := o.config.BackoffBase * (1 << (attempt - 1))
			logger.Warn("Retrying generation",
				"attempt", attempt,
				"backoff_ms", backoff.Milliseconds(),
				"error", lastErr)
			if o.metrics != nil {
				o.metrics.RecordStageRetry("generate")
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", newError(StageReplied, KindUpstreamTransient, ctx.Err())
			}
		}

		reply, err := o.generator.Generate(ctx, genReq)
		if err == nil {
			return reply, nil
		}
		if errors.Is(err, generate.ErrRejected) {
			return "", newError(StageReplied, KindUpstreamPermanent, err)
		}
		lastErr = err
	}

	return "", newError(StageReplied, KindUpstreamTransient,
		fmt.Errorf("generation failed after %d attempts: %w", o.config.MaxRetries+1, lastErr))
}

// synthesizeStage voices the reply, retrying once on transient failure.
func (o *Orchestrator) synthesizeStage(ctx context.Context, text string) ([]byte, error) {
	if o.synthesizer == nil {
		return nil, fmt.Errorf("no synthesizer configured")
	}

	started := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordStageDuration("synthesize", time.Since(started).Seconds())
		}
	}()

	audioData, err := o.synthesizer.Synthesize(ctx, text)
	if err == nil {
		return audioData, nil
	}
	if errors.Is(err, synthesize.ErrTextTooLong) || ctx.Err() != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.RecordStageRetry("synthesize")
	}
	return o.synthesizer.Synthesize(ctx, text)
}
