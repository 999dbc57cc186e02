// Webhook provider for the notification router: posts a Slack-compatible
// incoming-webhook payload to a generic "webhook" channel, with a
// context-timeout JSON POST.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const defaultWebhookTimeout = 8 * time.Second

// WebhookProvider posts cycle/failure text to a configured webhook URL.
type WebhookProvider struct {
	HTTPClient *http.Client
	LLM        LLMTextComposer
}

// LLMTextComposer optionally authors the cycle message body from an
// OpenAI-compatible chat model; nil disables the LLM-authored path and
// falls straight to the rule-based templates.
type LLMTextComposer interface {
	ComposeCycleText(status StatusPayload, gitInfo GitInfo, runDate string) (string, bool)
}

// NewWebhookProvider builds a WebhookProvider with an http.Client honoring
// WDIB_WEBHOOK_TIMEOUT_SECONDS (default 8s), and an optional LLM composer.
func NewWebhookProvider(llm LLMTextComposer) *WebhookProvider {
	return &WebhookProvider{
		HTTPClient: &http.Client{Timeout: timeoutSeconds()},
		LLM:        llm,
	}
}

func (w *WebhookProvider) Name() string { return "webhook" }

func webhookURL() string {
	return strings.TrimSpace(os.Getenv("WDIB_WEBHOOK_URL"))
}

func (w *WebhookProvider) IsConfigured() bool {
	return webhookURL() != ""
}

func timeoutSeconds() time.Duration {
	raw := strings.TrimSpace(os.Getenv("WDIB_WEBHOOK_TIMEOUT_SECONDS"))
	if raw == "" {
		return defaultWebhookTimeout
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 {
		return defaultWebhookTimeout
	}
	return time.Duration(value * float64(time.Second))
}

func ordinalDay(day int) string {
	if day%100 >= 10 && day%100 <= 20 {
		return fmt.Sprintf("%dth", day)
	}
	switch day % 10 {
	case 1:
		return fmt.Sprintf("%dst", day)
	case 2:
		return fmt.Sprintf("%dnd", day)
	case 3:
		return fmt.Sprintf("%drd", day)
	default:
		return fmt.Sprintf("%dth", day)
	}
}

func humanDate(runDate string) string {
	t, err := time.Parse("2006-01-02", runDate)
	if err != nil {
		return runDate
	}
	return fmt.Sprintf("%s %s %s", t.Format("Monday"), ordinalDay(t.Day()), t.Format("January"))
}

func legacyIconEmoji() string {
	return strings.TrimSpace(os.Getenv("WDIB_WEBHOOK_ICON_EMOJI"))
}

func awakeningIconEmoji() string {
	if v := strings.TrimSpace(os.Getenv("WDIB_WEBHOOK_AWAKENING_EMOJI")); v != "" {
		return v
	}
	if legacy := legacyIconEmoji(); legacy != "" {
		return legacy
	}
	return ":sunrise:"
}

func updateIconEmoji() string {
	if v := strings.TrimSpace(os.Getenv("WDIB_WEBHOOK_UPDATE_EMOJI")); v != "" {
		return v
	}
	if legacy := legacyIconEmoji(); legacy != "" {
		return legacy
	}
	return ":coffee:"
}

func pickMessageType(status StatusPayload) string {
	if strings.ToUpper(status.Status) == "TERMINATED" || strings.ToUpper(status.WorkerStatus) == "TERMINATED" {
		return "terminate"
	}
	if status.Day <= 1 {
		return "awakening"
	}
	return "update"
}

func cycleIconEmoji(status StatusPayload) string {
	if pickMessageType(status) == "terminate" {
		return ""
	}
	if status.Day <= 1 {
		return awakeningIconEmoji()
	}
	return updateIconEmoji()
}

func dayNumber(status StatusPayload) int {
	if status.Day < 0 {
		return 0
	}
	return status.Day
}

func cycleHeading(status StatusPayload, runDate string) string {
	messageType := pickMessageType(status)
	if messageType == "terminate" {
		return ""
	}
	day := dayNumber(status)
	dayLabel := fmt.Sprintf("DAY %d", day)
	if day <= 0 {
		dayLabel = "DAY ?"
	}
	if messageType == "awakening" {
		dayLabel = dayLabel + ": Awakening"
	}
	icon := updateIconEmoji()
	if messageType == "awakening" {
		icon = awakeningIconEmoji()
	}
	return fmt.Sprintf("%s *%s: %s*", icon, humanDate(runDate), dayLabel)
}

func engineeringDetailLines(status StatusPayload) []string {
	var lines []string
	for _, item := range status.EngineeringDetails {
		item = strings.TrimSpace(item)
		if item != "" {
			lines = append(lines, item)
		}
	}
	if len(lines) > 5 {
		lines = lines[:5]
	}
	return lines
}

func bulletLines(items []string, fallback string) []string {
	var cleaned []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			cleaned = append(cleaned, item)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{fallback}
	}
	if len(cleaned) > 3 {
		cleaned = cleaned[:3]
	}
	out := make([]string, len(cleaned))
	for i, item := range cleaned {
		out[i] = "• " + item
	}
	return out
}

func buildAwakeningText(status StatusPayload, runDate string) string {
	var lines []string
	lines = append(lines, cycleHeading(status, runDate), "")
	if status.SystemProfile != "" {
		lines = append(lines, "Explored myself. "+status.SystemProfile)
	} else {
		lines = append(lines, "Explored myself and mapped my local hardware/software baseline.")
	}
	if status.RecentActivity != "" {
		lines = append(lines, "What I did: "+status.RecentActivity)
	}
	if status.Becoming != "" {
		lines = append(lines, "I've reviewed my mission: "+status.Becoming)
	} else if status.Purpose != "" {
		lines = append(lines, "I've reviewed my mission: "+status.Purpose)
	}
	if status.SelfObservation != "" {
		lines = append(lines, "What I learned about myself: "+status.SelfObservation)
	}
	lines = append(lines, "", "What's next:")
	lines = append(lines, bulletLines(status.NextTasks, "Continue local inspection and propose the first concrete task.")...)
	if details := engineeringDetailLines(status); len(details) > 0 {
		lines = append(lines, "", "Engineering details:")
		lines = append(lines, details...)
	}
	return strings.Join(lines, "\n")
}

func buildUpdateText(status StatusPayload, runDate string) string {
	var lines []string
	lines = append(lines, cycleHeading(status, runDate), "")
	lines = append(lines, "*What I did*")
	if status.RecentActivity != "" {
		lines = append(lines, "What I did: "+status.RecentActivity)
	} else {
		lines = append(lines, "What I did: Kept momentum on mission-aligned tasks.")
	}
	for i, title := range status.CompletedTasks {
		if i >= 2 {
			break
		}
		lines = append(lines, "Completed: "+title)
	}
	if len(status.HardwareFocus) > 0 {
		lines = append(lines, "Hardware context: "+status.HardwareFocus[0])
	}
	lines = append(lines, "", "*What I'm thinking*")
	if status.Becoming != "" {
		lines = append(lines, "Becoming: "+status.Becoming)
	} else if status.Purpose != "" {
		lines = append(lines, "Mission anchor: "+status.Purpose)
	}
	if status.SelfObservation != "" {
		lines = append(lines, "Reflection: "+status.SelfObservation)
	}
	if details := engineeringDetailLines(status); len(details) > 0 {
		lines = append(lines, "", "*Engineering notes*")
		lines = append(lines, details...)
	}
	if len(status.NextTasks) > 0 {
		lines = append(lines, "", "*What's next*")
		lines = append(lines, bulletLines(status.NextTasks, "Continue with current in-progress work.")...)
	}
	return strings.Join(lines, "\n")
}

func buildTerminateText(status StatusPayload, runDate string) string {
	lines := []string{fmt.Sprintf("*Closing journal - ✌️ %s, I've been told to terminate*", humanDate(runDate)), ""}
	lines = append(lines, "I've just received a human termination instruction and gracefully ended this run.")
	if status.RecentActivity != "" {
		lines = append(lines, "Cycle context: "+status.RecentActivity)
	}
	lines = append(lines, "", "Final thoughts:")
	if len(status.CompletedTasks) > 0 {
		n := status.CompletedTasks
		if len(n) > 3 {
			n = n[:3]
		}
		lines = append(lines, "We completed: "+strings.Join(n, "; ")+".")
	}
	if details := engineeringDetailLines(status); len(details) > 0 {
		if len(details) > 2 {
			details = details[:2]
		}
		lines = append(lines, "Engineering highlights: "+strings.Join(details, "; ")+".")
	}
	if status.SelfObservation != "" {
		lines = append(lines, "I learned: "+status.SelfObservation)
	} else if status.Becoming != "" {
		lines = append(lines, "I learned to stay anchored on: "+status.Becoming)
	} else if status.Purpose != "" {
		lines = append(lines, "I learned to stay anchored on: "+status.Purpose)
	}
	lines = append(lines, "I'm terminating now. Goodbye.")
	return strings.Join(lines, "\n")
}

func buildCycleTextRuleBased(status StatusPayload, runDate string) string {
	switch pickMessageType(status) {
	case "terminate":
		return buildTerminateText(status, runDate)
	case "awakening":
		return buildAwakeningText(status, runDate)
	default:
		return buildUpdateText(status, runDate)
	}
}

func (w *WebhookProvider) buildCycleText(status StatusPayload, gitInfo GitInfo, runDate string) string {
	if w.LLM != nil {
		if text, ok := w.LLM.ComposeCycleText(status, gitInfo, runDate); ok && strings.TrimSpace(text) != "" {
			if heading := cycleHeading(status, runDate); heading != "" {
				return heading + "\n\n" + text
			}
			return text
		}
	}
	return buildCycleTextRuleBased(status, runDate)
}

func buildFailureText(deviceID, cycleID string, day int, ts time.Time) string {
	shortID := deviceID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	runDate := ts.Format("2006-01-02")
	return strings.Join([]string{
		fmt.Sprintf("*WDIB Cycle Failed* (%s)", runDate),
		fmt.Sprintf("- Device: `%s`", orDash(shortID)),
		fmt.Sprintf("- Day: `%03d`", day),
		fmt.Sprintf("- Cycle: `%s`", cycleID),
		"- Check device-local logs for details.",
	}, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

var (
	doubleAsteriskBoldRe  = regexp.MustCompile(`\*\*(\S.*?\S|\S)\*\*`)
	doubleUnderscoreBoldRe = regexp.MustCompile(`__(\S.*?\S|\S)__`)
)

// normalizeForMrkdwn converts common Markdown bold syntax into Slack
// mrkdwn's single-asterisk convention.
func normalizeForMrkdwn(text string) string {
	value := strings.TrimSpace(text)
	if value == "" {
		return ""
	}
	value = doubleAsteriskBoldRe.ReplaceAllString(value, "*$1*")
	value = doubleUnderscoreBoldRe.ReplaceAllString(value, "*$1*")
	return value
}

type webhookPayload struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
}

func (w *WebhookProvider) postText(text, iconEmojiOverride string) (Result, error) {
	url := webhookURL()
	if url == "" {
		return Result{Sent: false, Reason: "WDIB_WEBHOOK_URL is not configured"}, nil
	}

	payload := webhookPayload{Text: normalizeForMrkdwn(text)}
	payload.Username = strings.TrimSpace(os.Getenv("WDIB_WEBHOOK_USERNAME"))
	iconEmoji := iconEmojiOverride
	if iconEmoji == "" {
		iconEmoji = legacyIconEmoji()
	}
	payload.IconEmoji = iconEmoji

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Sent: false, Reason: fmt.Sprintf("webhook request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return Result{
			Sent:   false,
			Reason: fmt.Sprintf("unexpected response status %d", resp.StatusCode),
		}, nil
	}

	return Result{Sent: true, Reason: capBody(string(respBody))}, nil
}

func capBody(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

// NotifyCycle composes and posts the per-cycle message.
func (w *WebhookProvider) NotifyCycle(status StatusPayload, gitInfo GitInfo, runDate string) (Result, error) {
	text := w.buildCycleText(status, gitInfo, runDate)
	return w.postText(text, cycleIconEmoji(status))
}

// NotifyFailure composes and posts the cycle-failure message.
func (w *WebhookProvider) NotifyFailure(deviceID, cycleID string, day int, ts time.Time) (Result, error) {
	text := buildFailureText(deviceID, cycleID, day, ts)
	return w.postText(text, updateIconEmoji())
}
