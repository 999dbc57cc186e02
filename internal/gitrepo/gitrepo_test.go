package gitrepo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", append([]string{"-C", root}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Skipf("git unavailable in this environment: %v (%s)", err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "device@example.com")
	run("config", "user.name", "WDIB Test")
	if err := os.MkdirAll(filepath.Join(root, "devices", "dev-1"), 0o755); err != nil {
		t.Fatalf("mkdir devices/dev-1: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "devices", "dev-1", "state.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("seed state.json: %v", err)
	}
	run("add", ".")
	run("commit", "-q", "-m", "seed")
	return root
}

// --- CommitDeviceChanges ---

func TestCommitDeviceChanges_SkipsWhenEnvDisabled(t *testing.T) {
	t.Setenv("WDIB_SKIP_GIT_COMMIT", "true")
	a := New(t.TempDir())
	result := a.CommitDeviceChanges(context.Background(), "dev-1", 1, "ACTIVE")
	if result.Committed {
		t.Error("expected no commit when WDIB_SKIP_GIT_COMMIT=true")
	}
}

func TestCommitDeviceChanges_NoChangesReportsNoCommit(t *testing.T) {
	root := initRepo(t)
	t.Setenv("WDIB_SKIP_GIT_COMMIT", "false")
	t.Setenv("WDIB_GIT_AUTO_PUSH", "false")
	a := New(root)
	result := a.CommitDeviceChanges(context.Background(), "dev-1", 2, "ACTIVE")
	if result.Committed {
		t.Errorf("expected no commit when nothing changed, got %+v", result)
	}
}

func TestCommitDeviceChanges_CommitsChangedDeviceFiles(t *testing.T) {
	root := initRepo(t)
	if err := os.WriteFile(filepath.Join(root, "devices", "dev-1", "state.json"), []byte(`{"day":2}`), 0o644); err != nil {
		t.Fatalf("updating state.json: %v", err)
	}
	t.Setenv("WDIB_SKIP_GIT_COMMIT", "false")
	t.Setenv("WDIB_GIT_AUTO_PUSH", "false")
	a := New(root)
	result := a.CommitDeviceChanges(context.Background(), "dev-1", 2, "ACTIVE")
	if !result.Committed {
		t.Fatalf("expected commit to succeed, got %+v", result)
	}
	if result.Pushed {
		t.Error("expected no push with WDIB_GIT_AUTO_PUSH=false")
	}
}

func TestCommitDeviceChanges_NoRemoteConfiguredStillReportsCommit(t *testing.T) {
	root := initRepo(t)
	if err := os.WriteFile(filepath.Join(root, "devices", "dev-1", "state.json"), []byte(`{"day":3}`), 0o644); err != nil {
		t.Fatalf("updating state.json: %v", err)
	}
	t.Setenv("WDIB_SKIP_GIT_COMMIT", "false")
	t.Setenv("WDIB_GIT_AUTO_PUSH", "true")
	a := New(root)
	result := a.CommitDeviceChanges(context.Background(), "dev-1", 3, "ACTIVE")
	if !result.Committed {
		t.Fatalf("expected commit to succeed even with no remote, got %+v", result)
	}
	if result.Pushed {
		t.Error("expected push to be skipped when no remote is configured")
	}
}
