package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/LucPettett/what-do-i-become/internal/llm"
)

// LLMComposer implements LLMTextComposer by asking an OpenAI-compatible chat
// model to author the cycle message body, falling back to the rule-based
// templates whenever the call fails or the configured key is absent.
// Grounded in _build_cycle_text_llm/_llm_prompt_context, adapted onto the
// teacher's internal/llm.Client instead of a bespoke Responses-API call.
type LLMComposer struct {
	client  *llm.Client
	timeout time.Duration
}

// NewLLMComposer builds a composer reading NOTIFY_* env vars with fallback
// to the shared OPENAI_* vars (see llm.NewTier). Returns nil when no API
// key is configured, so callers can leave the LLM path disabled.
func NewLLMComposer() *LLMComposer {
	client := llm.NewTier("NOTIFY")
	if !client.Configured() {
		return nil
	}
	return &LLMComposer{client: client, timeout: 20 * time.Second}
}

func (c *LLMComposer) promptContext(status StatusPayload, gitInfo GitInfo, runDate string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Date: %s\n", runDate)
	fmt.Fprintf(&b, "Day: %d\n", status.Day)
	fmt.Fprintf(&b, "Cycle status: %s (worker: %s)\n", status.Status, status.WorkerStatus)
	if status.Purpose != "" {
		fmt.Fprintf(&b, "Mission purpose: %s\n", status.Purpose)
	}
	if status.Becoming != "" {
		fmt.Fprintf(&b, "Current becoming: %s\n", status.Becoming)
	}
	if status.SystemProfile != "" {
		fmt.Fprintf(&b, "System profile: %s\n", status.SystemProfile)
	}
	if status.RecentActivity != "" {
		fmt.Fprintf(&b, "Recent activity: %s\n", status.RecentActivity)
	}
	if status.SelfObservation != "" {
		fmt.Fprintf(&b, "Self observation: %s\n", status.SelfObservation)
	}
	if len(status.CompletedTasks) > 0 {
		fmt.Fprintf(&b, "Completed tasks: %s\n", strings.Join(status.CompletedTasks, "; "))
	}
	if len(status.NextTasks) > 0 {
		fmt.Fprintf(&b, "Next tasks: %s\n", strings.Join(status.NextTasks, "; "))
	}
	if len(status.HardwareFocus) > 0 {
		fmt.Fprintf(&b, "Hardware focus: %s\n", strings.Join(status.HardwareFocus, "; "))
	}
	if len(status.EngineeringDetails) > 0 {
		fmt.Fprintf(&b, "Engineering details: %s\n", strings.Join(status.EngineeringDetails, "; "))
	}
	fmt.Fprintf(&b, "Commit pushed: %t\n", gitInfo.Pushed)
	return b.String()
}

const cycleTextSystemPrompt = `You write a short first-person journal update for a device narrating its own daily progress to the humans watching it. Voice: warm, concrete, no jargon from the device's own control software. Two to five short paragraphs or bullet lines. Never mention internal file names, schemas, or control-loop terminology.`

// ComposeCycleText asks the model to author the message body; the boolean
// result is false when no text could be produced and the caller should fall
// back to the rule-based templates.
func (c *LLMComposer) ComposeCycleText(status StatusPayload, gitInfo GitInfo, runDate string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	user := c.promptContext(status, gitInfo, runDate)
	content, _, err := c.client.Chat(ctx, cycleTextSystemPrompt, user)
	if err != nil {
		return "", false
	}
	text := llm.StripFences(content)
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}
