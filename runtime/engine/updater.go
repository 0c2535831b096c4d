package engine

import (
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/logger"
	"github.com/khalid1313/ai-customer-care-agent-sub003/runtime/sessionctx"
)

// Apply merges one turn into prev and returns the new context. prev is not modified.
//
// The switch flag is derived from prev rather than taken from the classification, so
// the switch counter stays consistent with the topic sequence even when the update is
// re-applied on a context that changed after classification.
func Apply(prev *sessionctx.Context, u TurnUpdate) *sessionctx.Context {
	next := prev.Clone()

	if !u.Failed {
		if t := u.Topic.Topic; t != "" {
			next.SetTopic(t, next.CurrentTopic != "" && t != next.CurrentTopic)
		}
		for _, p := range u.Entities.Products {
			next.MentionProduct(p)
		}
		for _, o := range u.Entities.Orders {
			next.MentionOrder(o)
		}
		for _, d := range u.Entities.CartDeltas {
			if err := next.ApplyCartDelta(d); err != nil {
				logger.Warn("cart delta skipped", "session_id", next.SessionID, "turn_id", u.TurnID, "error", err)
			}
		}
	}

	rec := sessionctx.TurnRecord{
		TurnID:         u.TurnID,
		Input:          u.Input,
		Output:         u.Response,
		ToolsUsed:      u.ToolsUsed,
		Failed:         u.Failed,
		ProcessingTime: u.ProcessingTime,
		Timestamp:      u.Timestamp,
	}
	if u.ResolvedInput != u.Input {
		rec.ResolvedInput = u.ResolvedInput
	}
	if u.Failed {
		rec.ToolsUsed = nil
	} else {
		rec.Topic = next.CurrentTopic
	}
	next.AppendTurn(rec)
	return next
}
