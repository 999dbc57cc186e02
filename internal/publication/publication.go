// Package publication builds the two sanitized operator-facing artifacts
// each tick produces: public/status.json and public/daily/day_NNN_*.md.
package publication

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/LucPettett/what-do-i-become/internal/model"
)

var (
	urlRe         = regexp.MustCompile(`(?i)https?://\S+`)
	emailRe       = regexp.MustCompile(`\b[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}\b`)
	ipv4Re        = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	macRe         = regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}\b`)
	uuidRe        = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	mixedSecretRe = regexp.MustCompile(`\b[A-Za-z0-9]{12,}\b`)
	unixPathRe    = regexp.MustCompile(`(?:^|[\s(` + "`" + `"'])/(?:[A-Za-z0-9._-]+/)+[A-Za-z0-9._-]+`)
	spacesRe      = regexp.MustCompile(`\s+`)
	pairEvidenceRe = regexp.MustCompile("`([^`]+)`\\s*=>\\s*`([^`]+)`")
	verbEvidenceRe = regexp.MustCompile("(?i)`([^`]+)`\\s+(?:shows?|found|reported)\\s+([^;]+)")
	tempCRe        = regexp.MustCompile(`(?i)~\s*([0-9]+(?:\.[0-9]+)?)C`)
)

// hasDigitAndLetter filters mixedSecretRe matches down to tokens containing
// both a letter and a digit, emulating a lookahead regex Go's RE2 can't
// express directly.
func hasDigitAndLetter(s string) bool {
	var hasLetter, hasDigit bool
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
	}
	return hasLetter && hasDigit
}

func redactMixedSecrets(value string) string {
	return mixedSecretRe.ReplaceAllStringFunc(value, func(tok string) string {
		if hasDigitAndLetter(tok) {
			return "[redacted-token]"
		}
		return tok
	})
}

// Sanitize strips URLs, emails, IPv4/MAC addresses, UUIDs, long mixed
// alphanumeric tokens, and absolute Unix paths, collapses whitespace, and
// caps length at maxLen (default 180 when 0 is passed).
func Sanitize(text string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 180
	}
	if text == "" {
		return ""
	}
	value := text
	value = urlRe.ReplaceAllString(value, "[redacted-url]")
	value = emailRe.ReplaceAllString(value, "[redacted-email]")
	value = ipv4Re.ReplaceAllString(value, "[redacted-ip]")
	value = macRe.ReplaceAllString(value, "[redacted-mac]")
	value = uuidRe.ReplaceAllString(value, "[redacted-id]")
	value = redactMixedSecrets(value)
	value = unixPathRe.ReplaceAllString(value, " [redacted-path]")
	value = strings.TrimSpace(spacesRe.ReplaceAllString(value, " "))
	if len(value) > maxLen {
		keep := maxLen - 3
		if keep < 0 {
			keep = 0
		}
		cut := value[:keep]
		return strings.TrimRight(cut, " \t") + "..."
	}
	return value
}

func ordinal(day int) string {
	if day%100 >= 10 && day%100 <= 20 {
		return strconv.Itoa(day) + "th"
	}
	switch day % 10 {
	case 1:
		return strconv.Itoa(day) + "st"
	case 2:
		return strconv.Itoa(day) + "nd"
	case 3:
		return strconv.Itoa(day) + "rd"
	default:
		return strconv.Itoa(day) + "th"
	}
}

func countStatus[T any](items []T, status func(T) string, expected string) int {
	target := strings.ToUpper(expected)
	n := 0
	for _, item := range items {
		if strings.ToUpper(status(item)) == target {
			n++
		}
	}
	return n
}

func nextTaskTitles(tasks []model.Task) []string {
	var picked []string
	for _, desired := range []string{"IN_PROGRESS", "TODO"} {
		for _, task := range tasks {
			if strings.ToUpper(task.Status) != desired {
				continue
			}
			title := Sanitize(task.Title, 100)
			if title != "" && !contains(picked, title) {
				picked = append(picked, title)
			}
			if len(picked) >= 3 {
				return picked
			}
		}
	}
	return picked
}

func completedTaskTitles(tasks []model.Task, runDate string) []string {
	var doneToday, doneAny []string
	for _, task := range tasks {
		if strings.ToUpper(task.Status) != "DONE" {
			continue
		}
		title := Sanitize(task.Title, 100)
		if title == "" {
			continue
		}
		if task.UpdatedOn == runDate && !contains(doneToday, title) {
			doneToday = append(doneToday, title)
		}
		if !contains(doneAny, title) {
			doneAny = append(doneAny, title)
		}
	}
	if len(doneToday) > 0 {
		return capSlice(doneToday, 3)
	}
	return capSlice(doneAny, 3)
}

func hardwareFocus(requests []model.HardwareRequest) []string {
	var focus []string
	for _, req := range requests {
		status := strings.ToUpper(req.Status)
		if status != "OPEN" && status != "DETECTED" {
			continue
		}
		name := req.Name
		if name == "" {
			name = "Hardware item"
		}
		name = Sanitize(name, 80)
		reason := Sanitize(req.Reason, 120)
		line := name
		if reason != "" {
			line = name + ": " + reason
		}
		if status == "DETECTED" {
			line += " (detected, awaiting verification)"
		}
		focus = append(focus, line)
		if len(focus) >= 3 {
			break
		}
	}
	return focus
}

func extractSummaryEvidenceLines(summaryHint string) []string {
	raw := strings.TrimSpace(summaryHint)
	if raw == "" {
		return nil
	}
	var picked []string
	for _, m := range pairEvidenceRe.FindAllStringSubmatch(raw, -1) {
		cmd := Sanitize(m[1], 80)
		out := Sanitize(m[2], 120)
		if cmd == "" || out == "" {
			continue
		}
		line := fmt.Sprintf("`%s` -> %s", cmd, out)
		if !contains(picked, line) {
			picked = append(picked, line)
		}
		if len(picked) >= 5 {
			return picked
		}
	}
	for _, m := range verbEvidenceRe.FindAllStringSubmatch(raw, -1) {
		cmd := Sanitize(m[1], 80)
		out := Sanitize(m[2], 120)
		if cmd == "" || out == "" {
			continue
		}
		line := fmt.Sprintf("`%s` -> %s", cmd, out)
		if !contains(picked, line) {
			picked = append(picked, line)
		}
		if len(picked) >= 5 {
			return picked
		}
	}
	return picked
}

func systemProfileFromSummary(summaryHint string) string {
	raw := strings.TrimSpace(summaryHint)
	lowered := strings.ToLower(raw)
	if lowered == "" {
		return ""
	}
	var parts []string
	if strings.Contains(lowered, "raspberry pi") {
		parts = append(parts, "I am running on Raspberry Pi hardware")
	}
	if strings.Contains(lowered, "wlan0") && strings.Contains(lowered, "up") {
		parts = append(parts, "wlan0 is online")
	}
	if strings.Contains(lowered, "0% packet loss") || strings.Contains(lowered, "http/2 200") {
		parts = append(parts, "outbound connectivity checks passed")
	}
	if strings.Contains(lowered, "/dev/i2c") || strings.Contains(lowered, "i2c-") {
		parts = append(parts, "I2C buses are available")
	}
	if strings.Contains(lowered, "/dev/video") || strings.Contains(lowered, "v4l") {
		parts = append(parts, "video device nodes are present")
	}
	if strings.Contains(lowered, "arecord -l") && strings.Contains(lowered, "no capture device") {
		parts = append(parts, "no microphone capture device was detected")
	}
	if m := tempCRe.FindStringSubmatch(raw); m != nil {
		parts = append(parts, fmt.Sprintf("CPU temperature is around %sC", m[1]))
	}
	if len(parts) == 0 {
		return ""
	}
	return Sanitize(strings.Join(parts, "; ")+".", 240)
}

func engineeringDetails(summaryHint string, completedTasks []string, artifacts []model.Artifact) []string {
	var details []string
	for _, title := range capSlice(completedTasks, 2) {
		cleaned := Sanitize(title, 110)
		if cleaned != "" {
			details = append(details, "Completed task: "+cleaned)
		}
	}
	for _, line := range extractSummaryEvidenceLines(summaryHint) {
		if !contains(details, line) {
			details = append(details, line)
		}
		if len(details) >= 6 {
			return details
		}
	}
	for _, item := range lastN(artifacts, 3) {
		description := Sanitize(item.Description, 120)
		if description == "" {
			continue
		}
		line := "Artifact: " + description
		if !contains(details, line) {
			details = append(details, line)
		}
		if len(details) >= 6 {
			return details
		}
	}
	return details
}

var safeReflectionBlockedMarkers = []string{
	"`",
	"state.json",
	"events.ndjson",
	"worker_result",
	"incident-",
	"cycle-",
	"codex",
	"python3",
	"pytest",
	"trace",
}

func safeReflection(summaryHint string) string {
	cleaned := Sanitize(summaryHint, 160)
	if cleaned == "" {
		return ""
	}
	lowered := strings.ToLower(cleaned)
	for _, marker := range safeReflectionBlockedMarkers {
		if strings.Contains(lowered, marker) {
			return ""
		}
	}
	return cleaned
}

// extractMissionPurpose pulls the first bullet under a "# Mission" heading
// in mission.md, falling back to the first non-heading/non-fence line.
func extractMissionPurpose(missionText string) string {
	raw := missionText
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) == 0 {
		return ""
	}

	for idx, line := range lines {
		normalized := strings.ToLower(strings.TrimSpace(strings.TrimLeft(line, "#")))
		if normalized != "mission" {
			continue
		}
		for _, candidate := range lines[idx+1:] {
			if strings.HasPrefix(candidate, "#") {
				break
			}
			cleaned := strings.TrimSpace(strings.TrimLeft(candidate, "-* "))
			if cleaned != "" {
				return Sanitize(cleaned, 180)
			}
		}
		break
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
			continue
		}
		cleaned := strings.TrimSpace(strings.TrimLeft(line, "-* "))
		if cleaned != "" {
			return Sanitize(cleaned, 180)
		}
	}
	return ""
}

func recentActivity(summaryHint, objectiveHint string) string {
	summaryText := strings.TrimSpace(summaryHint)
	if summaryText != "" {
		trimmed := summaryText
		for _, marker := range []string{
			"Verification evidence:",
			"Commands run:",
			"State/context probes:",
			"Result contract verification:",
		} {
			if idx := strings.Index(trimmed, marker); idx != -1 {
				trimmed = strings.TrimSpace(trimmed[:idx])
			}
		}
		if reflected := safeReflection(trimmed); reflected != "" {
			lowered := strings.ToLower(reflected)
			if strings.Contains(lowered, "proposed next tasks") {
				return "Inspected local context and drafted the next tasks."
			}
			if strings.Contains(lowered, "capability discovery") {
				return "Completed capability discovery and mapped the next steps."
			}
			return reflected
		}
	}

	objective := strings.TrimSpace(objectiveHint)
	if objective != "" {
		if strings.HasPrefix(objective, "Advance task ") {
			_, suffix, found := strings.Cut(objective, ":")
			candidate := strings.TrimSpace(suffix)
			if !found || candidate == "" {
				candidate = objective
			}
			return "Worked on: " + Sanitize(candidate, 150)
		}
		lowered := strings.ToLower(objective)
		if strings.Contains(lowered, "hardware requests are pending") {
			return "Kept software work moving while waiting for hardware verification."
		}
		if strings.Contains(lowered, "inspect local physical/environment context") {
			return "Inspected local environment and planned practical next steps."
		}
		return Sanitize(objective, 160)
	}

	return "Made steady progress on mission-aligned work."
}

func selfObservation(tasks []model.Task, hardwareRequests []model.HardwareRequest, incidents []model.Incident) string {
	waitingHardware := 0
	for _, req := range hardwareRequests {
		status := strings.ToUpper(req.Status)
		if status == "OPEN" || status == "DETECTED" {
			waitingHardware++
		}
	}
	incidentsOpen := countStatus(incidents, func(i model.Incident) string { return i.Status }, "OPEN")
	inProgress := countStatus(tasks, func(t model.Task) string { return t.Status }, "IN_PROGRESS")
	todo := countStatus(tasks, func(t model.Task) string { return t.Status }, "TODO")

	switch {
	case waitingHardware > 0:
		return "I can reason and plan in software, but I still need physical hardware verification before I can complete this part of my mission."
	case incidentsOpen > 0:
		return "I found reliability issues that I need to resolve before I can trust this path."
	case inProgress > 0 || todo > 0:
		return "I have enough clarity and momentum to keep improving tomorrow."
	default:
		return "I am still mapping my environment and defining the next meaningful step."
	}
}

// TaskCounts, HardwareCounts, Counts, Status mirror the status.json shape.
type TaskCounts struct {
	Todo       int `json:"todo"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Blocked    int `json:"blocked"`
}

type HardwareCounts struct {
	Open     int `json:"open"`
	Detected int `json:"detected"`
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
}

type Counts struct {
	Tasks            TaskCounts     `json:"tasks"`
	HardwareRequests HardwareCounts `json:"hardware_requests"`
	IncidentsOpen    int            `json:"incidents_open"`
}

type Status struct {
	SchemaVersion      string   `json:"schema_version"`
	DeviceIDShort      string   `json:"device_id_short"`
	CycleID            string   `json:"cycle_id"`
	UpdatedAt          string   `json:"updated_at"`
	Date               string   `json:"date"`
	FirstAwokeOn       string   `json:"first_awoke_on"`
	Day                int      `json:"day"`
	Status             string   `json:"status"`
	WorkerStatus       string   `json:"worker_status"`
	Purpose            string   `json:"purpose"`
	Becoming           string   `json:"becoming"`
	RecentActivity     string   `json:"recent_activity"`
	SystemProfile      string   `json:"system_profile"`
	CompletedTasks     []string `json:"completed_tasks"`
	NextTasks          []string `json:"next_tasks"`
	HardwareFocus      []string `json:"hardware_focus"`
	EngineeringDetails []string `json:"engineering_details"`
	SelfObservation    string   `json:"self_observation"`
	Counts             Counts   `json:"counts"`
	PublicNotice       string   `json:"public_notice"`
}

// BuildStatusInput bundles the inputs BuildStatus needs.
type BuildStatusInput struct {
	DeviceID      string
	CycleID       string
	Day           int
	State         model.State
	WorkerStatus  string
	MissionText   string
	SummaryHint   string
	ObjectiveHint string
	Now           time.Time
}

// BuildStatus assembles the sanitized public/status.json payload, mirroring
// build_public_status.
func BuildStatus(in BuildStatusInput) Status {
	at := in.Now
	if at.IsZero() {
		at = time.Now()
	}
	runDate := at.Format("2006-01-02")
	stateStatus := in.State.Status
	if stateStatus == "" {
		stateStatus = "UNKNOWN"
	}
	terminated := strings.ToUpper(stateStatus) == "TERMINATED"

	completedTasks := completedTaskTitles(in.State.Tasks, runDate)
	var nextTasks, hardwareFocusLines []string
	var sysProfile string
	if !terminated {
		nextTasks = nextTaskTitles(in.State.Tasks)
		hardwareFocusLines = hardwareFocus(in.State.HardwareRequests)
		sysProfile = systemProfileFromSummary(in.SummaryHint)
	}
	engineering := engineeringDetails(in.SummaryHint, completedTasks, in.State.Artifacts)

	var selfObs string
	if terminated {
		selfObs = "I received a human termination command and gracefully closed this chapter."
	} else {
		selfObs = selfObservation(in.State.Tasks, in.State.HardwareRequests, in.State.Incidents)
	}

	purpose := extractMissionPurpose(in.MissionText)
	if purpose == "" {
		purpose = "Unset (add a mission in MISSION.md)."
	}

	awokeOn := in.State.AwokeOn
	if awokeOn == "" {
		awokeOn = at.Format("2006-01-02")
	}

	workerStatus := in.WorkerStatus
	if workerStatus == "" {
		workerStatus = "UNKNOWN"
	}

	deviceIDShort := in.DeviceID
	if len(deviceIDShort) > 8 {
		deviceIDShort = deviceIDShort[:8]
	}

	return Status{
		SchemaVersion: model.SchemaVersion,
		DeviceIDShort: deviceIDShort,
		CycleID:       in.CycleID,
		UpdatedAt:     at.Format(time.RFC3339),
		Date:          at.Format("2006-01-02"),
		FirstAwokeOn:  awokeOn,
		Day:           in.Day,
		Status:        stateStatus,
		WorkerStatus:  workerStatus,
		Purpose:       purpose,
		Becoming:      Sanitize(in.State.Purpose.Becoming, 0),
		RecentActivity: recentActivity(in.SummaryHint, in.ObjectiveHint),
		SystemProfile:  sysProfile,
		CompletedTasks: orEmpty(completedTasks),
		NextTasks:      orEmpty(nextTasks),
		HardwareFocus:  orEmpty(hardwareFocusLines),
		EngineeringDetails: orEmpty(engineering),
		SelfObservation:    selfObs,
		Counts: Counts{
			Tasks: TaskCounts{
				Todo:       countStatus(in.State.Tasks, func(t model.Task) string { return t.Status }, "TODO"),
				InProgress: countStatus(in.State.Tasks, func(t model.Task) string { return t.Status }, "IN_PROGRESS"),
				Done:       countStatus(in.State.Tasks, func(t model.Task) string { return t.Status }, "DONE"),
				Blocked:    countStatus(in.State.Tasks, func(t model.Task) string { return t.Status }, "BLOCKED"),
			},
			HardwareRequests: HardwareCounts{
				Open:     countStatus(in.State.HardwareRequests, func(h model.HardwareRequest) string { return h.Status }, "OPEN"),
				Detected: countStatus(in.State.HardwareRequests, func(h model.HardwareRequest) string { return h.Status }, "DETECTED"),
				Verified: countStatus(in.State.HardwareRequests, func(h model.HardwareRequest) string { return h.Status }, "VERIFIED"),
				Failed:   countStatus(in.State.HardwareRequests, func(h model.HardwareRequest) string { return h.Status }, "FAILED"),
			},
			IncidentsOpen: countStatus(in.State.Incidents, func(i model.Incident) string { return i.Status }, "OPEN"),
		},
		PublicNotice: "Sanitized publication only. Detailed logs remain on-device.",
	}
}

// BuildDaily renders the human-readable markdown companion to status,
// mirroring build_public_daily_summary.
func BuildDaily(status Status, objective, summaryHint string, now time.Time) string {
	at := now
	if at.IsZero() {
		at = time.Now()
	}
	humanDate := fmt.Sprintf("%s %s %s", at.Format("Monday"), ordinal(at.Day()), at.Format("January 2006"))

	cleanedObjective := Sanitize(objective, 200)
	cleanedHint := safeReflection(summaryHint)

	var b strings.Builder
	fmt.Fprintf(&b, "# Day %03d - %s\n\n", status.Day, humanDate)
	b.WriteString("I awoke and:\n")
	b.WriteString("- Reflected on what I should become.\n")
	if status.Becoming != "" {
		fmt.Fprintf(&b, "- Held this direction: %s\n", status.Becoming)
	}
	if cleanedObjective != "" {
		fmt.Fprintf(&b, "- Focused on this step: %s\n", cleanedObjective)
	}
	b.WriteString("- Inspected myself and my local environment.\n")
	fmt.Fprintf(&b, "- Finished this cycle with status `%s`.\n\n", status.Status)
	b.WriteString("## Snapshot\n")
	fmt.Fprintf(&b, "- Device: `%s`\n", orDash(status.DeviceIDShort))
	fmt.Fprintf(&b, "- Cycle: `%s`\n", orDash(status.CycleID))
	fmt.Fprintf(&b, "- Worker: `%s`\n", status.WorkerStatus)
	fmt.Fprintf(&b, "- Tasks: %d TODO, %d IN_PROGRESS, %d DONE, %d BLOCKED\n",
		status.Counts.Tasks.Todo, status.Counts.Tasks.InProgress, status.Counts.Tasks.Done, status.Counts.Tasks.Blocked)
	fmt.Fprintf(&b, "- Hardware requests: %d OPEN, %d DETECTED, %d VERIFIED, %d FAILED\n",
		status.Counts.HardwareRequests.Open, status.Counts.HardwareRequests.Detected, status.Counts.HardwareRequests.Verified, status.Counts.HardwareRequests.Failed)
	fmt.Fprintf(&b, "- Open incidents: %d\n\n", status.Counts.IncidentsOpen)
	b.WriteString("## Note\n")
	b.WriteString("- This is a sanitized public summary. Raw logs and detailed traces stay on-device.\n")

	if cleanedHint != "" {
		b.WriteString("\n## Reflection\n")
		fmt.Fprintf(&b, "- %s\n", cleanedHint)
	}

	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func capSlice[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func lastN[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
