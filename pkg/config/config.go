// Package config loads the EngineConfig manifest that wires a context engine together:
// which session store to use, engine limits, logging, metrics, tracing, the event
// journal and the rule files for topic classification and entity extraction.
//
// Manifests use the K8s resource layout:
//
//	apiVersion: ctxengine/v1alpha1
//	kind: EngineConfig
//	metadata:
//	  name: support
//	spec:
//	  state_store:
//	    type: redis
//	    redis:
//	      address: localhost:6379
//	      ttl: 7d
//	  engine:
//	    max_concurrent_turns: 64
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Manifest identifiers.
const (
	APIVersion       = "ctxengine/v1alpha1"
	KindEngineConfig = "EngineConfig"
)

// Defaults applied by the getters.
const (
	DefaultMetricsAddress     = ":9090"
	DefaultServiceName        = "ctxengine"
	DefaultMaxConflictRetries = 3
)

// EngineConfig is the top-level manifest.
type EngineConfig struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   metav1.ObjectMeta `yaml:"metadata,omitempty"`
	Spec       EngineConfigSpec  `yaml:"spec"`

	// ConfigDir is the base directory for relative file references (set by Load).
	ConfigDir string `yaml:"-"`
}

// EngineConfigSpec is the body of an EngineConfig.
type EngineConfigSpec struct {
	StateStore *StateStoreConfig  `yaml:"state_store,omitempty"`
	Engine     EngineSettings     `yaml:"engine,omitempty"`
	Logging    *LoggingConfigSpec `yaml:"logging,omitempty"`
	Metrics    *MetricsConfig     `yaml:"metrics,omitempty"`
	Telemetry  *TelemetryConfig   `yaml:"telemetry,omitempty"`
	Events     *EventsConfig      `yaml:"events,omitempty"`

	// TopicRulesFile points at a TopicRules manifest. Empty uses the built-in rules.
	TopicRulesFile string `yaml:"topic_rules_file,omitempty"`
	// ExtractionRulesFile points at an ExtractionRules manifest. Empty uses the built-in rules.
	ExtractionRulesFile string `yaml:"extraction_rules_file,omitempty"`
}

// EngineSettings tunes the turn orchestrator.
type EngineSettings struct {
	// MaxConcurrentTurns caps turns in flight across all sessions. 0 means unlimited.
	MaxConcurrentTurns int `yaml:"max_concurrent_turns,omitempty"`
	// MaxConflictRetries bounds commit retries after a version conflict. Default 3.
	MaxConflictRetries *int `yaml:"max_conflict_retries,omitempty"`
	// FallbackResponse replaces the built-in apology for failed turns.
	FallbackResponse string `yaml:"fallback_response,omitempty"`
	// LowConfidenceThreshold marks classifications below it as low confidence.
	LowConfidenceThreshold *float64 `yaml:"low_confidence_threshold,omitempty"`
}

// MetricsConfig configures the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address,omitempty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
	// SampleRatio is the fraction of turns traced; unset traces all of them.
	SampleRatio *float64 `yaml:"sample_ratio,omitempty"`
	// Attributes are added to the trace resource.
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

// EventsConfig configures the event bus and the on-disk event journal.
type EventsConfig struct {
	// LogDir enables the JSONL event journal in this directory.
	LogDir     string `yaml:"log_dir,omitempty"`
	Workers    int    `yaml:"workers,omitempty"`
	BufferSize int    `yaml:"buffer_size,omitempty"`
}

// ValidationError reports an invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
	Value   string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return "config validation error: " + e.Field + ": " + e.Message + " (got: " + e.Value + ")"
	}
	return "config validation error: " + e.Field + ": " + e.Message
}

// Load reads, schema-checks, decodes and validates a manifest file.
func Load(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg.ConfigDir = filepath.Dir(abs)
	return cfg, nil
}

// Parse decodes and validates a manifest. Unknown fields are rejected.
func Parse(data []byte) (*EngineConfig, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var cfg EngineConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns an in-memory configuration with built-in rules.
func Default() *EngineConfig {
	return &EngineConfig{
		APIVersion: APIVersion,
		Kind:       KindEngineConfig,
		Metadata:   metav1.ObjectMeta{Name: "default"},
	}
}

// Validate checks the manifest header and every section.
func (c *EngineConfig) Validate() error {
	if c.Kind != KindEngineConfig {
		return &ValidationError{Field: "kind", Message: "must be " + KindEngineConfig, Value: c.Kind}
	}
	if c.APIVersion == "" {
		return &ValidationError{Field: "apiVersion", Message: "is required"}
	}

	s := &c.Spec
	if s.StateStore != nil {
		if err := s.StateStore.Validate(); err != nil {
			return err
		}
	}
	if err := s.Engine.Validate(); err != nil {
		return err
	}
	if s.Logging != nil {
		if err := s.Logging.Validate(); err != nil {
			return err
		}
	}
	if s.Telemetry != nil && s.Telemetry.Enabled && s.Telemetry.Endpoint == "" {
		return &ValidationError{Field: "telemetry.endpoint", Message: "is required when telemetry is enabled"}
	}
	if t := s.Telemetry; t != nil && t.SampleRatio != nil && (*t.SampleRatio < 0 || *t.SampleRatio > 1) {
		return &ValidationError{Field: "telemetry.sample_ratio", Message: "must be between 0 and 1", Value: fmt.Sprint(*t.SampleRatio)}
	}
	if s.Events != nil && (s.Events.Workers < 0 || s.Events.BufferSize < 0) {
		return &ValidationError{Field: "events", Message: "workers and buffer_size must not be negative"}
	}
	return nil
}

// Validate checks the engine settings.
func (e *EngineSettings) Validate() error {
	if e.MaxConcurrentTurns < 0 {
		return &ValidationError{
			Field:   "engine.max_concurrent_turns",
			Message: "must not be negative",
			Value:   fmt.Sprint(e.MaxConcurrentTurns),
		}
	}
	if e.MaxConflictRetries != nil && *e.MaxConflictRetries < 0 {
		return &ValidationError{
			Field:   "engine.max_conflict_retries",
			Message: "must not be negative",
			Value:   fmt.Sprint(*e.MaxConflictRetries),
		}
	}
	if t := e.LowConfidenceThreshold; t != nil && (*t < 0 || *t > 1) {
		return &ValidationError{
			Field:   "engine.low_confidence_threshold",
			Message: "must be between 0 and 1",
			Value:   fmt.Sprint(*t),
		}
	}
	return nil
}

// ResolvePath resolves a file reference against ConfigDir.
func (c *EngineConfig) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.ConfigDir == "" {
		return p
	}
	return filepath.Join(c.ConfigDir, p)
}

// GetMaxConflictRetries returns the configured retry bound or the default.
func (c *EngineConfig) GetMaxConflictRetries() int {
	if r := c.Spec.Engine.MaxConflictRetries; r != nil {
		return *r
	}
	return DefaultMaxConflictRetries
}

// GetMetricsAddress returns the exporter address, or "" when metrics are disabled.
func (c *EngineConfig) GetMetricsAddress() string {
	m := c.Spec.Metrics
	if m == nil || !m.Enabled {
		return ""
	}
	if m.Address == "" {
		return DefaultMetricsAddress
	}
	return m.Address
}

// GetServiceName returns the service name reported on exported spans.
func (c *EngineConfig) GetServiceName() string {
	if t := c.Spec.Telemetry; t != nil && t.ServiceName != "" {
		return t.ServiceName
	}
	if c.Metadata.Name != "" {
		return c.Metadata.Name
	}
	return DefaultServiceName
}
