package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/entities"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/events"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/logger"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/resolver"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/statestore"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/telemetry"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/topic"
)

// DefaultMaxConflictRetries is how many times a commit is retried after a version conflict.
const DefaultMaxConflictRetries = 3

// Engine processes conversation turns against a session store. It is safe for concurrent use.
type Engine struct {
	store      statestore.Store
	resolver   *resolver.Resolver
	classifier *topic.Classifier
	tracker    *entities.Tracker
	bus        *events.EventBus
	tracer     trace.Tracer
	sem        *semaphore.Weighted
	locks      *sessionLocks
	maxRetries int
	fallback   string
	now        func() time.Time
	newID      func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver replaces the default reference resolver.
func WithResolver(r *resolver.Resolver) Option {
	return func(e *Engine) {
		if r != nil {
			e.resolver = r
		}
	}
}

// WithClassifier replaces the default topic classifier.
func WithClassifier(c *topic.Classifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithTracker replaces the default entity tracker.
func WithTracker(t *entities.Tracker) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracker = t
		}
	}
}

// WithEventBus publishes turn events to bus. The caller owns the bus and closes it.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithTracerProvider sets the provider for turn spans. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = telemetry.Tracer(tp)
	}
}

// WithMaxConcurrentTurns caps the number of turns processed at once across all
// sessions. Zero or less means no cap.
func WithMaxConcurrentTurns(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		} else {
			e.sem = nil
		}
	}
}

// WithMaxConflictRetries sets how many times a conflicting commit is retried.
func WithMaxConflictRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithFallbackResponse sets the response returned when a turn cannot be processed.
func WithFallbackResponse(s string) Option {
	return func(e *Engine) {
		if s != "" {
			e.fallback = s
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an engine over store.
func New(store statestore.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: store is required")
	}
	e := &Engine{
		store:      store,
		resolver:   resolver.New(),
		classifier: topic.Default(),
		tracker:    entities.Default(),
		tracer:     telemetry.Tracer(nil),
		locks:      newSessionLocks(),
		maxRetries: DefaultMaxConflictRetries,
		fallback:   DefaultFallbackResponse,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// GetContext returns a read-only snapshot of a session's context. Unknown sessions
// yield an empty snapshot.
func (e *Engine) GetContext(ctx context.Context, sessionID string) (sessionctx.Snapshot, error) {
	ctx, span := e.tracer.Start(ctx, telemetry.SpanContext,
		trace.WithAttributes(telemetry.AttrSessionID.String(sessionID)))
	c, err := e.store.Load(ctx, sessionID)
	if err != nil {
		telemetry.EndSpan(span, err)
		return sessionctx.Snapshot{}, fmt.Errorf("load session %q: %w", sessionID, err)
	}
	snap := c.Snapshot()
	span.SetAttributes(
		telemetry.AttrContextVersion.Int64(snap.Version),
		telemetry.AttrHistoryLength.Int(snap.HistoryLength),
	)
	telemetry.EndSpan(span, nil)
	return snap, nil
}

// ProcessTurn runs one turn for sessionID.
//
// The returned error is nil unless the turn could not be committed: ErrPersistence
// when the store failed, or the context's error when ctx was cancelled before the
// commit. Failures of the resolver, the tool callback, the tracker or the classifier
// are absorbed: the turn is recorded as failed and the user gets a response anyway.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID, message string, callback ToolCallback) (*TurnResult, error) {
	if sessionID == "" {
		return nil, statestore.ErrInvalidID
	}
	if callback == nil {
		return nil, ErrNilCallback
	}

	t := &turn{
		e:         e,
		sessionID: sessionID,
		turnID:    e.newID(),
		message:   message,
		start:     e.now(),
	}
	t.result = &TurnResult{
		TurnID:          t.turnID,
		ResolvedMessage: message,
		ToolsUsed:       []string{},
	}
	ctx = logger.WithSessionID(ctx, sessionID)
	ctx = logger.WithTurnID(ctx, t.turnID)
	t.ctx, t.span = telemetry.StartTurnSpan(ctx, e.tracer, sessionID, t.turnID)
	t.emitter = events.NewEmitter(e.bus, sessionID, t.turnID)

	if e.sem != nil {
		if err := e.sem.Acquire(t.ctx, 1); err != nil {
			return t.cancelled(sessionctx.New(sessionID), err)
		}
		defer e.sem.Release(1)
	}
	unlock, err := e.locks.acquire(t.ctx, sessionID)
	if err != nil {
		return t.cancelled(sessionctx.New(sessionID), err)
	}
	defer unlock()

	t.started = true
	t.emitter.TurnStarted(len(message))
	return t.run(callback)
}

// turn carries the state of one ProcessTurn call.
type turn struct {
	e         *Engine
	ctx       context.Context
	span      trace.Span
	emitter   *events.Emitter
	sessionID string
	turnID    string
	message   string
	start     time.Time
	started   bool
	result    *TurnResult

	failStage string
	failErr   error
}

func (t *turn) run(callback ToolCallback) (*TurnResult, error) {
	current, err := t.e.store.Load(t.ctx, t.sessionID)
	if err != nil {
		if ctxErr := t.ctx.Err(); ctxErr != nil {
			return t.cancelled(sessionctx.New(t.sessionID), ctxErr)
		}
		return t.loadFailed(err)
	}

	res := t.resolve(current)
	t.result.Resolution = res

	update := TurnUpdate{
		TurnID:        t.turnID,
		Input:         t.message,
		ResolvedInput: res.Resolved,
	}

	agent, used, err := t.runTools(current, res, callback)
	if err != nil {
		if ctxErr := t.ctx.Err(); ctxErr != nil {
			return t.cancelled(current, ctxErr)
		}
		t.fail(StageTools, err)
		update.Failed = true
		update.Response = t.e.fallback
	} else {
		update.ResolvedInput = used
		update.Response = agent.Response
		update.ToolsUsed = toolNames(agent.ToolResults)

		ext, err := guard(StageTrack, func() entities.Extraction {
			return t.e.tracker.Extract(agent.ToolResults)
		})
		if err != nil {
			t.fail(StageTrack, err)
			update.Failed = true
		} else {
			update.Entities = ext
			t.tracked(ext)
		}
	}

	t.result.ResolvedMessage = update.ResolvedInput
	t.result.Response = update.Response
	if !update.Failed {
		t.result.ToolsUsed = update.ToolsUsed
	}

	next, err := t.commit(current, &update)
	if err != nil {
		if ctxErr := t.ctx.Err(); ctxErr != nil && next == nil {
			return t.cancelled(current, ctxErr)
		}
		return t.persistFailed(next, update, err)
	}
	return t.finish(next, update)
}

// resolve runs the reference resolver. Resolution is advisory, so a panic leaves the
// message unresolved instead of failing the turn.
func (t *turn) resolve(current *sessionctx.Context) resolver.Result {
	res, err := guard(StageResolve, func() resolver.Result {
		return t.e.resolver.Resolve(t.message, current)
	})
	if err != nil {
		logger.WarnContext(t.ctx, "reference resolution failed, using original message", "error", err)
		return resolver.Result{Original: t.message, Resolved: t.message}
	}
	if res.Applied {
		logger.ReferenceResolved(t.ctx, res.Original, res.Resolved, res.EntityID())
		t.span.SetAttributes(
			telemetry.AttrResolved.Bool(true),
			telemetry.AttrMentionedEntity.String(res.EntityID()),
		)
	}
	return res
}

// runTools invokes the callback with the resolved message. When a substitution was made
// and the agent found nothing for it, the callback runs again with the original text.
// It returns the agent result and the message that produced it.
func (t *turn) runTools(current *sessionctx.Context, res resolver.Result, callback ToolCallback) (*AgentResult, string, error) {
	snap := current.Snapshot()
	agent, err := t.invoke(callback, snap, res.Resolved)
	fellBack := false
	used := res.Resolved
	if err == nil && res.Applied && len(agent.ToolResults) == 0 {
		logger.DebugContext(t.ctx, "resolved message produced no tool results, retrying with original message")
		fellBack = true
		used = res.Original
		agent, err = t.invoke(callback, snap, res.Original)
	}

	t.result.FellBack = fellBack
	t.emitter.ReferenceResolved(events.ReferenceResolvedData{
		Applied:       res.Applied,
		Ambiguous:     res.Ambiguous,
		Substitutions: len(res.Substitutions),
		EntityID:      res.EntityID(),
		FellBack:      fellBack,
	})
	return agent, used, err
}

func (t *turn) invoke(callback ToolCallback, snap sessionctx.Snapshot, message string) (*AgentResult, error) {
	ctx, span := t.e.tracer.Start(t.ctx, telemetry.SpanTools)
	req := ToolRequest{
		SessionID: t.sessionID,
		TurnID:    t.turnID,
		Message:   message,
		Original:  t.message,
		Context:   snap,
	}

	var agent *AgentResult
	cbErr, err := guard(StageTools, func() error {
		var callErr error
		agent, callErr = callback(ctx, req)
		return callErr
	})
	if err == nil && cbErr != nil {
		err = fmt.Errorf("%w: tool callback: %w", ErrTurnFailed, cbErr)
	}
	if err != nil {
		telemetry.EndSpan(span, err)
		return nil, err
	}
	if agent == nil {
		agent = &AgentResult{}
	}
	span.SetAttributes(telemetry.AttrToolsUsed.StringSlice(toolNames(agent.ToolResults)))
	telemetry.EndSpan(span, nil)
	return agent, nil
}

func (t *turn) tracked(ext entities.Extraction) {
	for _, issue := range ext.Issues {
		logger.WarnContext(t.ctx, "tool result not tracked", "error", issue)
	}
	t.result.Issues = ext.Issues
	t.emitter.EntitiesTracked(len(ext.Products), len(ext.Orders), len(ext.CartDeltas), len(ext.Issues))
}

// commit classifies the turn against the latest committed context, applies it and saves
// it, reloading and re-applying after each version conflict. On error the returned
// context, when not nil, is the merged context that could not be persisted.
func (t *turn) commit(current *sessionctx.Context, u *TurnUpdate) (*sessionctx.Context, error) {
	ctx, span := t.e.tracer.Start(t.ctx, telemetry.SpanCommit)
	var next *sessionctx.Context
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	for attempt := 1; ; attempt++ {
		t.result.Attempts = attempt
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		if !u.Failed {
			t.classify(current, u)
		}

		now := t.e.now()
		u.Timestamp = now
		u.ProcessingTime = now.Sub(t.start)
		next = Apply(current, *u)

		saveStart := time.Now()
		err = t.e.store.Save(ctx, next)
		if err == nil {
			span.SetAttributes(telemetry.AttrAttempts.Int(attempt))
			t.emitter.ContextPersisted(next.Version, attempt, time.Since(saveStart))
			return next, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if !errors.Is(err, statestore.ErrConflict) || attempt > t.e.maxRetries {
			return next, err
		}

		t.emitter.PersistenceConflict(attempt)
		logger.DebugContext(ctx, "session context changed during turn, retrying", "attempt", attempt)
		current, err = t.e.store.Load(ctx, t.sessionID)
		if err != nil {
			return next, err
		}
	}
}

// classify sets u.Topic for the context the update is about to be applied to.
func (t *turn) classify(current *sessionctx.Context, u *TurnUpdate) {
	r, err := guard(StageClassify, func() topic.Result {
		return t.e.classifier.Classify(topic.Input{
			Message:       u.ResolvedInput,
			Tools:         u.ToolsUsed,
			PreviousTopic: current.CurrentTopic,
		})
	})
	if err != nil {
		t.fail(StageClassify, err)
		u.Failed = true
		u.Topic = topic.Result{}
		u.Entities = entities.Extraction{}
		t.result.ToolsUsed = []string{}
		return
	}
	u.Topic = r
}

func (t *turn) fail(stage string, err error) {
	if t.failErr != nil {
		return
	}
	t.failStage = stage
	t.failErr = err
	logger.ErrorContext(t.ctx, "turn stage failed", "stage", stage, "error", err)
}

func (t *turn) finish(next *sessionctx.Context, u TurnUpdate) (*TurnResult, error) {
	duration := t.e.now().Sub(t.start)
	t.result.Duration = duration
	t.result.Context = next.Snapshot()
	t.result.Persisted = true
	t.result.Topic = u.Topic

	if t.failErr != nil {
		t.result.Failed = true
		t.emitter.TurnFailed(t.failStage, t.failErr, duration)
		t.endSpan(next, t.failErr)
		return t.result, nil
	}

	t.topicEvents(next, u.Topic)
	logger.TurnProcessed(t.ctx, next.CurrentTopic, u.ToolsUsed, duration,
		"attempts", t.result.Attempts, "version", next.Version)
	t.emitter.TurnCompleted(next.CurrentTopic, u.ToolsUsed, duration, t.result.Attempts, true)
	t.endSpan(next, nil)
	return t.result, nil
}

func (t *turn) topicEvents(next *sessionctx.Context, r topic.Result) {
	t.emitter.TopicClassified(events.TopicClassifiedData{
		Topic:         r.Topic,
		Confidence:    r.Confidence,
		LowConfidence: r.LowConfidence,
		Tie:           r.Tie,
		Greeting:      r.Greeting,
	})
	if r.IsSwitch {
		logger.TopicSwitch(t.ctx, r.PreviousTopic, r.Topic, r.Confidence, next.ContextSwitchCount)
		t.emitter.TopicSwitched(r.PreviousTopic, r.Topic, r.Confidence, next.ContextSwitchCount)
	}
}

// loadFailed handles an unreadable store: nothing can be merged, so the user gets the
// fallback response and the caller gets ErrPersistence.
func (t *turn) loadFailed(err error) (*TurnResult, error) {
	duration := t.e.now().Sub(t.start)
	t.result.Response = t.e.fallback
	t.result.Failed = true
	t.result.Duration = duration
	t.result.Context = sessionctx.New(t.sessionID).Snapshot()

	logger.PersistenceFailure(t.ctx, err, 0, "stage", StageLoad)
	t.emitter.PersistenceFailed(err, 0)
	t.emitter.TurnFailed(StageLoad, err, duration)
	wrapped := fmt.Errorf("%w: load: %w", ErrPersistence, err)
	t.endSpan(nil, wrapped)
	return t.result, wrapped
}

// persistFailed returns the merged, unsaved context with persistence flagged as failed.
func (t *turn) persistFailed(next *sessionctx.Context, u TurnUpdate, err error) (*TurnResult, error) {
	duration := t.e.now().Sub(t.start)
	t.result.Duration = duration
	t.result.Topic = u.Topic
	t.result.Failed = t.failErr != nil
	if next != nil {
		t.result.Context = next.Snapshot()
	}

	logger.PersistenceFailure(t.ctx, err, t.result.Attempts)
	t.emitter.PersistenceFailed(err, t.result.Attempts)
	if t.failErr != nil {
		t.emitter.TurnFailed(t.failStage, t.failErr, duration)
	} else {
		t.emitter.TurnCompleted(u.Topic.Topic, u.ToolsUsed, duration, t.result.Attempts, false)
	}
	wrapped := fmt.Errorf("%w: %w", ErrPersistence, err)
	t.endSpan(next, wrapped)
	return t.result, wrapped
}

// cancelled abandons the turn without persisting anything.
func (t *turn) cancelled(current *sessionctx.Context, err error) (*TurnResult, error) {
	duration := t.e.now().Sub(t.start)
	t.result.Response = t.e.fallback
	t.result.Failed = true
	t.result.Duration = duration
	t.result.Context = current.Snapshot()

	logger.WarnContext(t.ctx, "turn cancelled before commit", "error", err)
	if t.started {
		t.emitter.TurnFailed(StageCommit, err, duration)
	}
	t.endSpan(nil, err)
	return t.result, err
}

func (t *turn) endSpan(next *sessionctx.Context, err error) {
	r := t.result
	t.span.SetAttributes(
		telemetry.AttrTopic.String(r.Topic.Topic),
		telemetry.AttrPreviousTopic.String(r.Topic.PreviousTopic),
		telemetry.AttrTopicSwitch.Bool(r.Topic.IsSwitch),
		telemetry.AttrConfidence.Float64(r.Topic.Confidence),
		telemetry.AttrToolsUsed.StringSlice(r.ToolsUsed),
		telemetry.AttrAttempts.Int(r.Attempts),
		telemetry.AttrPersisted.Bool(r.Persisted),
		telemetry.AttrTurnFailed.Bool(r.Failed),
	)
	if next != nil {
		t.span.SetAttributes(
			telemetry.AttrContextVersion.Int64(next.Version),
			telemetry.AttrHistoryLength.Int(len(next.ConversationHistory)),
		)
	}
	telemetry.EndSpan(t.span, err)
}

// guard runs fn, converting a panic into an ErrTurnFailed error.
func guard[T any](stage string, fn func() T) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", ErrTurnFailed, stage, r)
		}
	}()
	return fn(), nil
}

// toolNames returns the distinct tool names in call order.
func toolNames(results []entities.ToolResult) []string {
	names := make([]string, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if r.Tool == "" || seen[r.Tool] {
			continue
		}
		seen[r.Tool] = true
		names = append(names, r.Tool)
	}
	return names
}
