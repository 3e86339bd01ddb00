package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const watcherYAMLv1 = `
agent:
  provider:
    name: gemini-live
    api_key: key-one
`

const watcherYAMLv2 = `
agent:
  provider:
    name: gemini-live
    api_key: key-two
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Nudge mtime forward; some filesystems have coarse timestamp resolution.
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Agent.Provider.APIKey; got != "key-one" {
		t.Errorf("api key = %q, want key-one", got)
	}
}

func TestWatcher_InitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherYAMLv1)

	type change struct{ old, new string }
	changes := make(chan change, 1)
	w, err := NewWatcher(path, func(old, new *Config) {
		changes <- change{old.Agent.Provider.APIKey, new.Agent.Provider.APIKey}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	writeConfig(t, path, watcherYAMLv2)

	select {
	case got := <-changes:
		if got.old != "key-one" || got.new != "key-two" {
			t.Errorf("change = %q -> %q, want key-one -> key-two", got.old, got.new)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("change never detected")
	}

	if got := w.Current().Agent.Provider.APIKey; got != "key-two" {
		t.Errorf("current api key = %q, want key-two", got)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherYAMLv1)

	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(_, _ *Config) {
		called <- struct{}{}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	// A broken edit must not replace the working config or fire the callback.
	writeConfig(t, path, "agent: [")

	select {
	case <-called:
		t.Fatal("callback fired for invalid config")
	case <-time.After(100 * time.Millisecond):
	}
	if got := w.Current().Agent.Provider.APIKey; got != "key-one" {
		t.Errorf("current api key = %q, want key-one", got)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
