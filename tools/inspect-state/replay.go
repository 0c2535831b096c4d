package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	pkgerrors "github.com/khalid1313/ai-customer-care-agent-sub003/pkg/errors"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/engine"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/entities"
)

// Script is a scripted conversation. Each turn carries the canned agent reply and
// tool outputs, so replaying it exercises the engine without a live agent.
//
//	session_id: demo
//	turns:
//	  - message: Show me noise cancelling headphones
//	    response: The Sony WH-1000XM5 is a good pick.
//	    tools:
//	      - name: search_products
//	        output: {products: [{id: sony-wh1000xm5, name: Sony WH-1000XM5}]}
//	  - message: What's the price of those headphones?
type Script struct {
	SessionID string       `yaml:"session_id"`
	Turns     []ScriptTurn `yaml:"turns"`
}

// ScriptTurn is one user message and the agent behaviour it triggers.
type ScriptTurn struct {
	Message  string       `yaml:"message"`
	Response string       `yaml:"response,omitempty"`
	Tools    []ScriptTool `yaml:"tools,omitempty"`
	// Error makes the agent fail the turn.
	Error string `yaml:"error,omitempty"`
}

// ScriptTool is a canned tool call.
type ScriptTool struct {
	Name     string `yaml:"name"`
	Output   any    `yaml:"output,omitempty"`
	Internal bool   `yaml:"internal,omitempty"`
	Error    string `yaml:"error,omitempty"`
}

// ReplayTurn is what replay reports for each scripted turn.
type ReplayTurn struct {
	Message  string             `json:"message"`
	Result   *engine.TurnResult `json:"result"`
	ErrorMsg string             `json:"error,omitempty"`
}

// LoadScript reads and checks a replay script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(s.Turns) == 0 {
		return nil, errors.New("script has no turns")
	}
	for i, t := range s.Turns {
		for j, tool := range t.Tools {
			if tool.Name == "" {
				return nil, fmt.Errorf("turn %d tool %d: name is required", i+1, j+1)
			}
		}
	}
	return &s, nil
}

// callback answers every invocation of the turn with the scripted reply.
func (t ScriptTurn) callback() (engine.ToolCallback, error) {
	results := make([]entities.ToolResult, 0, len(t.Tools))
	for _, tool := range t.Tools {
		r := entities.ToolResult{Tool: tool.Name, Internal: tool.Internal, Error: tool.Error}
		if tool.Output != nil {
			out, err := json.Marshal(tool.Output)
			if err != nil {
				return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
			}
			r.Output = out
		}
		results = append(results, r)
	}

	return func(context.Context, engine.ToolRequest) (*engine.AgentResult, error) {
		if t.Error != "" {
			return nil, errors.New(t.Error)
		}
		return &engine.AgentResult{Response: t.Response, ToolResults: results}, nil
	}, nil
}

// Replay drives every scripted turn through the engine in order.
func Replay(ctx context.Context, eng *engine.Engine, sessionID string, s *Script) ([]ReplayTurn, error) {
	out := make([]ReplayTurn, 0, len(s.Turns))
	for i, t := range s.Turns {
		cb, err := t.callback()
		if err != nil {
			return out, fmt.Errorf("turn %d: %w", i+1, err)
		}
		res, err := eng.ProcessTurn(ctx, sessionID, t.Message, cb)
		rt := ReplayTurn{Message: t.Message, Result: res}
		if err != nil {
			if res == nil {
				return out, fmt.Errorf("turn %d: %w", i+1, err)
			}
			rt.ErrorMsg = err.Error()
		}
		out = append(out, rt)
	}
	return out, nil
}

func (a *app) replayCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "replay SCRIPT",
		Short: "Run a scripted conversation through the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			format, err := a.format()
			if err != nil {
				return err
			}
			script, err := LoadScript(args[0])
			if err != nil {
				return pkgerrors.New(component, "LoadScript", err)
			}
			if sessionID == "" {
				sessionID = script.SessionID
			}
			if sessionID == "" {
				return errors.New("no session ID: set session_id in the script or pass --session")
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			rt, err := cfg.Build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := rt.Close(context.Background()); cerr != nil && err == nil {
					err = cerr
				}
			}()

			turns, err := Replay(cmd.Context(), rt.Engine, sessionID, script)
			if err != nil {
				return pkgerrors.New(component, "Replay", err)
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), turns)
			}
			writeReplay(cmd.OutOrStdout(), turns)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (overrides the script)")
	return cmd
}

func writeReplay(w io.Writer, turns []ReplayTurn) {
	for i, t := range turns {
		r := t.Result
		fmt.Fprintf(w, "Turn %d: %s\n", i+1, t.Message)
		if r.Resolution.Applied {
			fmt.Fprintf(w, "  resolved: %s\n", r.ResolvedMessage)
		}
		if r.FellBack {
			fmt.Fprintln(w, "  resolution produced no tool results; original message used")
		}
		switch {
		case r.Failed:
			fmt.Fprintln(w, "  turn failed")
		case r.Topic.IsSwitch:
			fmt.Fprintf(w, "  topic: %s (switched from %s, confidence %.2f)\n",
				r.Topic.Topic, orDash(r.Topic.PreviousTopic), r.Topic.Confidence)
		default:
			fmt.Fprintf(w, "  topic: %s (confidence %.2f)\n", r.Topic.Topic, r.Topic.Confidence)
		}
		fmt.Fprintf(w, "  response: %s\n", r.Response)
		if t.ErrorMsg != "" {
			fmt.Fprintf(w, "  error: %s\n", t.ErrorMsg)
		}
	}
	if len(turns) > 0 {
		last := turns[len(turns)-1].Result.Context
		fmt.Fprintf(w, "\nFinal context: version %d, topic %s, %d switches, %d products, %d orders, %d cart items\n",
			last.Version, orDash(last.CurrentTopic), last.ContextSwitchCount,
			len(last.MentionedProducts), len(last.MentionedOrders), last.CartItemCount)
	}
}
