package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSettingsRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "settings.yaml"))
	settings, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.Routing.TokenThreshold != 6000 {
		t.Fatalf("expected default token threshold, got %d", settings.Routing.TokenThreshold)
	}
	if settings.Uploads.CacheTTLDays != 30 {
		t.Fatalf("expected default cache ttl, got %d", settings.Uploads.CacheTTLDays)
	}
	if settings.Uploads.SweepSchedule != "@hourly" {
		t.Fatalf("expected default sweep schedule, got %q", settings.Uploads.SweepSchedule)
	}
	if settings.Turns.MaxConcurrent != 4 {
		t.Fatalf("expected default max concurrent turns, got %d", settings.Turns.MaxConcurrent)
	}

	settings.Routing.TokenThreshold = 9000
	settings.Routing.LightCapabilities = []string{"document-qa"}
	settings.Debug = true
	if err := store.Save(settings); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Routing.TokenThreshold != 9000 {
		t.Fatalf("expected saved threshold, got %d", loaded.Routing.TokenThreshold)
	}
	if len(loaded.Routing.LightCapabilities) != 1 || loaded.Routing.LightCapabilities[0] != "document-qa" {
		t.Fatalf("expected saved light capabilities, got %v", loaded.Routing.LightCapabilities)
	}
	if !loaded.Debug {
		t.Fatalf("expected debug to persist")
	}
}

func TestLoadBackfillsPartialFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "settings.yaml")
	partial := "routing:\n  token_threshold: 5000\n"
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatalf("write partial settings: %v", err)
	}

	store := NewStore(path)
	settings, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settings.SchemaVersion != schemaVersion {
		t.Fatalf("expected schema version backfill, got %d", settings.SchemaVersion)
	}
	if settings.Routing.TokenThreshold != 5000 {
		t.Fatalf("expected stored threshold, got %d", settings.Routing.TokenThreshold)
	}
	if settings.Turns.MaxTokens != 4096 {
		t.Fatalf("expected max tokens backfill, got %d", settings.Turns.MaxTokens)
	}
}

func TestUpdatePersists(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "settings.yaml"))
	if _, err := store.Update(func(s *Settings) {
		s.Turns.MaxConcurrent = 8
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Turns.MaxConcurrent != 8 {
		t.Fatalf("expected updated value, got %d", loaded.Turns.MaxConcurrent)
	}
}
