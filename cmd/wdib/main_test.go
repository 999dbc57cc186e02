package main

import (
	"strings"
	"testing"

	"github.com/LucPettett/what-do-i-become/internal/wdibpath"
)

// --- capError ---

func TestCapError_ShortMessageUnchanged(t *testing.T) {
	if got := capError("boom"); got != "boom" {
		t.Errorf("expected unchanged message, got %q", got)
	}
}

func TestCapError_TruncatesAt2000Chars(t *testing.T) {
	long := strings.Repeat("x", 3000)
	got := capError(long)
	if len(got) != 2000 {
		t.Errorf("expected truncation to 2000 chars, got %d", len(got))
	}
}

// --- resolveDeviceIDForMessage ---

func TestResolveDeviceIDForMessage_GeneratesAndPersistsID(t *testing.T) {
	root := t.TempDir()
	paths := wdibpath.New(root)

	id, err := resolveDeviceIDForMessage(paths)
	if err != nil {
		t.Fatalf("resolveDeviceIDForMessage: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty device id")
	}

	again, err := resolveDeviceIDForMessage(paths)
	if err != nil {
		t.Fatalf("resolveDeviceIDForMessage (second call): %v", err)
	}
	if again != id {
		t.Errorf("expected stable device id across calls, got %q then %q", id, again)
	}
}
