// Package notify fans a cycle summary (or a cycle failure) out across
// configured notification channels: a small provider registry keyed by
// channel name, each entry carrying IsConfigured/NotifyCycle/NotifyFailure,
// with per-channel error isolation so one broken channel never blocks the
// others.
package notify

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/LucPettett/what-do-i-become/internal/publication"
)

// StatusPayload is the sanitized status snapshot notification text is
// composed from — the same document persisted to public/status.json.
type StatusPayload = publication.Status

// Result is one channel's outcome, folded into a NOTIFICATION_SENT/FAILED
// event by the runtime.
type Result struct {
	Channel string `json:"channel"`
	Sent    bool   `json:"sent"`
	Reason  string `json:"reason,omitempty"`
}

// Provider is a pluggable notification channel.
type Provider interface {
	Name() string
	IsConfigured() bool
	NotifyCycle(status StatusPayload, gitInfo GitInfo, runDate string) (Result, error)
	NotifyFailure(deviceID, cycleID string, day int, ts time.Time) (Result, error)
}

// GitInfo is the subset of the git adapter's outcome notification messages
// reference (whether the cycle's commit was pushed).
type GitInfo struct {
	Pushed bool
}

// Router holds the registered providers and reads which channels are
// active from WDIB_NOTIFICATION_CHANNELS.
type Router struct {
	providers map[string]Provider
}

// NewRouter registers the given providers by name.
func NewRouter(providers ...Provider) *Router {
	r := &Router{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// configuredChannelNames parses WDIB_NOTIFICATION_CHANNELS, a
// comma-separated, order-preserving, de-duplicated, lower-cased list.
func configuredChannelNames() []string {
	raw := strings.TrimSpace(os.Getenv("WDIB_NOTIFICATION_CHANNELS"))
	if raw == "" {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func (r *Router) dispatch(channel string, call func(Provider) (Result, error)) Result {
	provider, ok := r.providers[channel]
	if !ok {
		return Result{Channel: channel, Sent: false, Reason: "channel is not registered"}
	}
	if !provider.IsConfigured() {
		return Result{Channel: provider.Name(), Sent: false, Reason: "channel is not configured"}
	}
	result, err := call(provider)
	if err != nil {
		return Result{Channel: provider.Name(), Sent: false, Reason: fmt.Sprintf("channel notify failed: %v", err)}
	}
	result.Channel = provider.Name()
	return result
}

// SendCycleNotifications fans status out to every configured channel.
func (r *Router) SendCycleNotifications(status StatusPayload, gitInfo GitInfo, runDate string) []Result {
	var results []Result
	for _, channel := range configuredChannelNames() {
		results = append(results, r.dispatch(channel, func(p Provider) (Result, error) {
			return p.NotifyCycle(status, gitInfo, runDate)
		}))
	}
	return results
}

// SendFailureNotifications fans a cycle failure out to every configured channel.
func (r *Router) SendFailureNotifications(deviceID, cycleID string, day int, ts time.Time) []Result {
	var results []Result
	for _, channel := range configuredChannelNames() {
		results = append(results, r.dispatch(channel, func(p Provider) (Result, error) {
			return p.NotifyFailure(deviceID, cycleID, day, ts)
		}))
	}
	return results
}
