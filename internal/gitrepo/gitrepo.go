// Package gitrepo commits and optionally pushes a device's per-cycle trace
// directory, using `git -C <root>` instead of os.Chdir so the working
// directory of the calling process is never mutated.
package gitrepo

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const commandTimeout = 30 * time.Second

// Result mirrors commit_device_changes' return shape.
type Result struct {
	Committed bool   `json:"committed"`
	Pushed    bool   `json:"pushed"`
	Message   string `json:"message"`
}

// Adapter commits one device's trace directory under a git-tracked project
// root.
type Adapter struct {
	ProjectRoot string
}

// New returns an Adapter rooted at projectRoot.
func New(projectRoot string) *Adapter {
	return &Adapter{ProjectRoot: projectRoot}
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch raw {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func (a *Adapter) run(ctx context.Context, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	full := append([]string{"-C", a.ProjectRoot}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

// CommitDeviceChanges stages, commits, and (unless disabled) pushes the
// devices/<deviceID> subtree. WDIB_SKIP_GIT_COMMIT=true disables the whole
// step; WDIB_GIT_AUTO_PUSH (default true) controls whether a successful
// commit is pushed.
func (a *Adapter) CommitDeviceChanges(ctx context.Context, deviceID string, day int, status string) Result {
	if envBool("WDIB_SKIP_GIT_COMMIT", false) {
		return Result{Message: "Skipped git commit because WDIB_SKIP_GIT_COMMIT=true."}
	}

	deviceRel := fmt.Sprintf("devices/%s", deviceID)
	shortID := deviceID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	remote := strings.TrimSpace(os.Getenv("WDIB_GIT_REMOTE"))
	if remote == "" {
		remote = "origin"
	}
	branch := strings.TrimSpace(os.Getenv("WDIB_GIT_BRANCH"))
	autoPush := envBool("WDIB_GIT_AUTO_PUSH", true)
	userName := strings.TrimSpace(os.Getenv("WDIB_GIT_USER_NAME"))
	userEmail := strings.TrimSpace(os.Getenv("WDIB_GIT_USER_EMAIL"))

	if userName != "" {
		a.run(ctx, "config", "user.name", userName)
	}
	if userEmail != "" {
		a.run(ctx, "config", "user.email", userEmail)
	}

	if _, stderr, err := a.run(ctx, "add", deviceRel); err != nil {
		return Result{Message: fmt.Sprintf("git add failed: %s", firstLine(stderr))}
	}

	stdout, _, err := a.run(ctx, "diff", "--cached", "--name-only", "--", deviceRel)
	if err != nil {
		return Result{Message: fmt.Sprintf("git diff failed: %s", err)}
	}
	if strings.TrimSpace(stdout) == "" {
		return Result{Message: "No device changes to commit."}
	}

	message := fmt.Sprintf("%s day %03d - %s", shortID, day, status)
	if _, stderr, err := a.run(ctx, "commit", "-m", message, "--", deviceRel); err != nil {
		return Result{Message: fmt.Sprintf("git commit failed: %s", firstLine(stderr))}
	}

	if !autoPush {
		return Result{Committed: true, Message: message}
	}

	if _, _, err := a.run(ctx, "remote", "get-url", remote); err != nil {
		return Result{Committed: true, Message: fmt.Sprintf("%s (remote '%s' not configured)", message, remote)}
	}

	pushArgs := []string{"push", remote}
	if branch != "" {
		pushArgs = append(pushArgs, "HEAD:"+branch)
	}
	if _, stderr, err := a.run(ctx, pushArgs...); err != nil {
		return Result{Committed: true, Message: fmt.Sprintf("%s (push failed: %s)", message, capString(strings.TrimSpace(stderr), 200))}
	}

	return Result{Committed: true, Pushed: true, Message: message}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		s = s[:idx]
	}
	return capString(s, 200)
}

func capString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
