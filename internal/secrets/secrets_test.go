package secrets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSecretsRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "secrets.enc"), filepath.Join(root, "master.key"))
	if err := store.SetProviderKey("sk-test"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	key, err := store.GetProviderKey()
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if key != "sk-test" {
		t.Fatalf("expected key roundtrip, got %q", key)
	}
}

func TestGetProviderKeyMissingFile(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "secrets.enc"), filepath.Join(root, "master.key"))
	key, err := store.GetProviderKey()
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestClearProviderKey(t *testing.T) {
	root := t.TempDir()
	store := NewStore(filepath.Join(root, "secrets.enc"), filepath.Join(root, "master.key"))
	if err := store.SetProviderKey("sk-test"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if err := store.ClearProviderKey(); err != nil {
		t.Fatalf("clear key: %v", err)
	}
	key, err := store.GetProviderKey()
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if key != "" {
		t.Fatalf("expected cleared key, got %q", key)
	}
}

func TestCiphertextDoesNotLeakKey(t *testing.T) {
	root := t.TempDir()
	secretsPath := filepath.Join(root, "secrets.enc")
	store := NewStore(secretsPath, filepath.Join(root, "master.key"))
	if err := store.SetProviderKey("sk-very-secret"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	raw, err := os.ReadFile(secretsPath)
	if err != nil {
		t.Fatalf("read secrets file: %v", err)
	}
	if strings.Contains(string(raw), "sk-very-secret") {
		t.Fatalf("plaintext key on disk")
	}
	var payload encryptedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unexpected file format: %v", err)
	}
	if payload.Nonce == "" || payload.Ciphertext == "" {
		t.Fatalf("incomplete encrypted payload: %+v", payload)
	}
}
