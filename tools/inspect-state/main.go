// Command inspect-state reads and replays conversation contexts held by a context engine
// session store.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/khalid1313/ai-customer-care-agent-sub003/pkg/config"
	pkgerrors "github.com/khalid1313/ai-customer-care-agent-sub003/pkg/errors"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/logger"
)

const (
	envPrefix  = "CTXENGINE"
	keyConfig  = "config"
	keyFormat  = "format"
	keyVerbose = "verbose"

	formatText = "text"
	formatJSON = "json"

	component = "inspect-state"

	exitConfig = 2
	exitStore  = 3
)

// app carries the settings shared by every subcommand.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "inspect-state",
		Short:         "Inspect conversation contexts stored by the context engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `inspect-state reads session contexts from the store configured in an
EngineConfig manifest. It can print, list and delete contexts, show the event
journal for a session, and replay a scripted conversation through the engine.

Without --config the in-memory store and built-in rules are used, which is only
useful for replay.

Settings can also be given as environment variables, e.g. CTXENGINE_CONFIG.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a.v.GetBool(keyVerbose) {
				logger.SetVerbose(true)
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringP(keyConfig, "c", "", "EngineConfig manifest path")
	flags.StringP(keyFormat, "o", formatText, "Output format: text, json")
	flags.BoolP(keyVerbose, "v", false, "Enable debug logging")
	for _, key := range []string{keyConfig, keyFormat, keyVerbose} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}

	root.AddCommand(
		a.getCmd(),
		a.listCmd(),
		a.deleteCmd(),
		a.eventsCmd(),
		a.replayCmd(),
	)
	return root
}

// loadConfig returns the configured manifest, or the defaults when none is given.
func (a *app) loadConfig() (*config.EngineConfig, error) {
	path := a.v.GetString(keyConfig)
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, pkgerrors.New(component, "LoadConfig", err).
			WithDetails(map[string]any{"path": path}).
			WithExitCode(exitConfig)
	}
	return cfg, nil
}

func (a *app) format() (string, error) {
	switch f := a.v.GetString(keyFormat); f {
	case formatText, formatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", f)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(pkgerrors.ExitCode(err))
	}
}
