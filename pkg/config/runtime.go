package config

import (
	"context"
	"errors"
	"net/http"

	pkgerrors "github.com/khalid1313/ai-customer-care-agent-sub003/pkg/errors"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/engine"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/entities"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/events"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/logger"
	promexp "github.com/khalid1313/ai-customer-care-agent-sub003/runtime/metrics/prometheus"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/statestore"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/telemetry"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/topic"
)

const component = "config"

// Runtime is an engine assembled from an EngineConfig together with the resources
// it owns.
type Runtime struct {
	Engine  *engine.Engine
	Store   statestore.Store
	Bus     *events.EventBus
	Journal *events.FileEventStore

	exporter      *promexp.Exporter
	closeStore    func() error
	shutdownTrace func(context.Context) error
}

// Build assembles the engine described by the config. Extra options are applied after
// the ones derived from the config.
func (c *EngineConfig) Build(ctx context.Context, opts ...engine.Option) (_ *Runtime, err error) {
	if c.Spec.Logging != nil {
		if err := logger.Configure(c.Spec.Logging.LoggerSpec()); err != nil {
			return nil, pkgerrors.New(component, "ConfigureLogging", err)
		}
	}

	rt := &Runtime{}
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	store, closeStore, err := c.BuildStateStore()
	if err != nil {
		return nil, pkgerrors.New(component, "BuildStateStore", err).
			WithDetails(map[string]any{"type": c.GetStateStoreType()})
	}
	rt.Store, rt.closeStore = store, closeStore

	classifier, err := c.buildClassifier()
	if err != nil {
		return nil, pkgerrors.New(component, "LoadTopicRules", err)
	}
	tracker, err := c.buildTracker()
	if err != nil {
		return nil, pkgerrors.New(component, "LoadExtractionRules", err)
	}

	rt.Bus = events.NewEventBus(c.busOptions()...)

	if addr := c.GetMetricsAddress(); addr != "" {
		rt.exporter = promexp.NewExporter(addr)
		rt.exporter.AddReadinessCheck("state_store", func(ctx context.Context) error {
			_, err := store.Load(ctx, readinessProbeID)
			return err
		})
		rt.Bus.SubscribeAll(promexp.NewMetricsListener().Listener())
		go func() {
			if err := rt.exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics exporter stopped", "address", addr, "error", err)
			}
		}()
	}

	if ev := c.Spec.Events; ev != nil && ev.LogDir != "" {
		journal, err := events.NewFileEventStore(c.ResolvePath(ev.LogDir))
		if err != nil {
			return nil, pkgerrors.New(component, "OpenEventJournal", err)
		}
		rt.Journal = journal
		rt.Bus.SubscribeAll(journal.Recorder(func(err error) {
			logger.Warn("event journal append failed", "error", err)
		}))
	}

	if t := c.Spec.Telemetry; t != nil && t.Enabled {
		traceOpts := telemetry.Options{Endpoint: t.Endpoint, ServiceName: c.GetServiceName(), Attributes: t.Attributes}
		if t.SampleRatio != nil {
			traceOpts.SampleRatio = *t.SampleRatio
		}
		shutdown, err := telemetry.Setup(ctx, traceOpts)
		if err != nil {
			return nil, pkgerrors.New(component, "SetupTelemetry", err)
		}
		rt.shutdownTrace = shutdown
	}

	engineOpts := []engine.Option{
		engine.WithClassifier(classifier),
		engine.WithTracker(tracker),
		engine.WithEventBus(rt.Bus),
		engine.WithMaxConflictRetries(c.GetMaxConflictRetries()),
	}
	if n := c.Spec.Engine.MaxConcurrentTurns; n > 0 {
		engineOpts = append(engineOpts, engine.WithMaxConcurrentTurns(n))
	}
	if s := c.Spec.Engine.FallbackResponse; s != "" {
		engineOpts = append(engineOpts, engine.WithFallbackResponse(s))
	}
	engineOpts = append(engineOpts, opts...)

	eng, err := engine.New(store, engineOpts...)
	if err != nil {
		return nil, pkgerrors.New(component, "NewEngine", err)
	}
	rt.Engine = eng

	logger.Info("context engine ready",
		"store", c.GetStateStoreType(),
		"metrics", c.GetMetricsAddress() != "",
		"journal", rt.Journal != nil,
		"tracing", rt.shutdownTrace != nil)
	return rt, nil
}

func (c *EngineConfig) buildClassifier() (*topic.Classifier, error) {
	var opts []topic.Option
	if t := c.Spec.Engine.LowConfidenceThreshold; t != nil {
		opts = append(opts, topic.WithLowConfidenceThreshold(*t))
	}
	if c.Spec.TopicRulesFile == "" {
		return topic.New(topic.DefaultRules(), opts...)
	}
	rs, err := topic.LoadRuleSet(c.ResolvePath(c.Spec.TopicRulesFile))
	if err != nil {
		return nil, err
	}
	return topic.NewFromRuleSet(rs, opts...)
}

func (c *EngineConfig) buildTracker() (*entities.Tracker, error) {
	if c.Spec.ExtractionRulesFile == "" {
		return entities.Default(), nil
	}
	rs, err := entities.LoadRuleSet(c.ResolvePath(c.Spec.ExtractionRulesFile))
	if err != nil {
		return nil, err
	}
	return entities.NewFromRuleSet(rs)
}

func (c *EngineConfig) busOptions() []events.BusOption {
	ev := c.Spec.Events
	if ev == nil {
		return nil
	}
	var opts []events.BusOption
	if ev.Workers > 0 {
		opts = append(opts, events.WithWorkerPoolSize(ev.Workers))
	}
	if ev.BufferSize > 0 {
		opts = append(opts, events.WithEventBufferSize(ev.BufferSize))
	}
	return opts
}

// readinessProbeID is loaded, never saved, by the /ready check.
const readinessProbeID = "__readiness_probe__"

// Close drains the event bus, then releases the journal, exporter, tracer provider
// and store. It is safe to call on a partially built runtime.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.Journal != nil {
		errs = append(errs, r.Journal.Close())
	}
	if r.exporter != nil {
		errs = append(errs, r.exporter.Shutdown(ctx))
	}
	if r.shutdownTrace != nil {
		errs = append(errs, r.shutdownTrace(ctx))
	}
	if r.closeStore != nil {
		errs = append(errs, r.closeStore())
	}
	return errors.Join(errs...)
}
