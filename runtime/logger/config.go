package logger

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ModuleConfig holds per-module levels and fields. Module names are dotted
// package paths; a setting for "runtime" applies to "runtime.engine" unless
// "runtime.engine" has its own.
type ModuleConfig struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	levels       map[string]slog.Level
	fields       map[string][]slog.Attr
}

// NewModuleConfig creates a ModuleConfig that logs at defaultLevel until told otherwise.
func NewModuleConfig(defaultLevel slog.Level) *ModuleConfig {
	return &ModuleConfig{
		defaultLevel: defaultLevel,
		levels:       make(map[string]slog.Level),
		fields:       make(map[string][]slog.Attr),
	}
}

// SetModuleLevel sets the level for module and its children.
func (m *ModuleConfig) SetModuleLevel(module string, level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[module] = level
}

// SetModuleFields attaches fields to every record logged by module and its children.
func (m *ModuleConfig) SetModuleFields(module string, fields map[string]string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, fields[k]))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields[module] = attrs
}

// SetDefaultLevel sets the level of modules without their own setting.
func (m *ModuleConfig) SetDefaultLevel(level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultLevel = level
}

// LevelFor returns the level of the closest configured ancestor of module,
// so "runtime.engine.locks" falls back to "runtime.engine", then "runtime",
// then the default.
func (m *ModuleConfig) LevelFor(module string) slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name := module; name != ""; name = parentModule(name) {
		if level, ok := m.levels[name]; ok {
			return level
		}
	}
	return m.defaultLevel
}

// FieldsFor returns the fields configured for module and its ancestors,
// outermost first.
func (m *ModuleConfig) FieldsFor(module string) []slog.Attr {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.fields) == 0 {
		return nil
	}
	var chain []string
	for name := module; name != ""; name = parentModule(name) {
		chain = append(chain, name)
	}
	var attrs []slog.Attr
	for i := len(chain) - 1; i >= 0; i-- {
		attrs = append(attrs, m.fields[chain[i]]...)
	}
	return attrs
}

// MinLevel is the lowest level any module logs at.
func (m *ModuleConfig) MinLevel() slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lowest := m.defaultLevel
	for _, level := range m.levels {
		lowest = min(lowest, level)
	}
	return lowest
}

func (m *ModuleConfig) hasOverrides() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.levels) > 0 || len(m.fields) > 0
}

func parentModule(name string) string {
	if i := strings.LastIndex(name, "."); i != -1 {
		return name[:i]
	}
	return ""
}

// globalModuleConfig is the global module configuration.
var globalModuleConfig = NewModuleConfig(slog.LevelInfo)

// LoggingConfigSpec defines the logging configuration for the Configure function.
// This mirrors the config.LoggingConfigSpec to avoid import cycles.
type LoggingConfigSpec struct {
	DefaultLevel string
	Format       string // "json" or "text"
	CommonFields map[string]string
	Modules      []ModuleLoggingSpec
}

// ModuleLoggingSpec configures logging for a specific module.
type ModuleLoggingSpec struct {
	Name   string
	Level  string
	Fields map[string]string
}

// Log format constants
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Configure applies a LoggingConfigSpec to the global logger.
// This reconfigures the logger with the new settings.
func Configure(cfg *LoggingConfigSpec) error {
	if cfg == nil {
		return nil
	}

	// If a custom logger was set via SetLogger(), preserve it.
	if customHandler != nil {
		return nil
	}

	// Parse and set default level
	defaultLevel := slog.LevelInfo
	if cfg.DefaultLevel != "" {
		defaultLevel = ParseLevel(cfg.DefaultLevel)
	}

	// Build common fields
	var commonFields []slog.Attr
	for k, v := range cfg.CommonFields {
		commonFields = append(commonFields, slog.String(k, v))
	}

	// Create new module config
	moduleConfig := NewModuleConfig(defaultLevel)
	for _, mod := range cfg.Modules {
		if mod.Level != "" {
			moduleConfig.SetModuleLevel(mod.Name, ParseLevel(mod.Level))
		}
		if len(mod.Fields) > 0 {
			moduleConfig.SetModuleFields(mod.Name, mod.Fields)
		}
	}

	// Update global module config
	globalModuleConfig = moduleConfig

	// Determine format
	useJSON := cfg.Format == FormatJSON

	// Reinitialize logger with new configuration
	initLoggerWithConfig(defaultLevel, commonFields, moduleConfig, useJSON)

	return nil
}

// initLoggerWithConfig creates the logger with full configuration.
func initLoggerWithConfig(level slog.Level, commonFields []slog.Attr, moduleConfig *ModuleConfig, useJSON bool) {
	var baseHandler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	if useJSON {
		baseHandler = slog.NewJSONHandler(logOutput, opts)
	} else {
		baseHandler = slog.NewTextHandler(logOutput, opts)
	}

	// Wrap with module-aware handler if we have module config
	var handler slog.Handler
	if moduleConfig != nil && moduleConfig.hasOverrides() {
		handler = NewModuleHandler(baseHandler, moduleConfig, commonFields...)
	} else {
		handler = NewContextHandler(baseHandler, commonFields...)
	}

	DefaultLogger = slog.New(handler)
	slog.SetDefault(DefaultLogger)
}

// GetModuleConfig returns the global module configuration.
// This is primarily for testing.
func GetModuleConfig() *ModuleConfig {
	return globalModuleConfig
}
