package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type testConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadTestConfig(path string) (testConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return testConfig{}, err
	}
	var cfg testConfig
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startWatcher(t *testing.T, path string, loader func(string) (testConfig, error), opts ...WatcherOption[testConfig]) *Watcher[testConfig] {
	t.Helper()
	opts = append([]WatcherOption[testConfig]{WithDebounce[testConfig](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, loader, newTestLogger(), opts...)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
	return w
}

func tempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigWatcherReload(t *testing.T) {
	path := tempConfig(t, "name = \"initial\"\nvalue = 1\n")

	received := make(chan testConfig, 4)
	w := startWatcher(t, path, loadTestConfig)
	w.OnReload(func(cfg testConfig) { received <- cfg })

	if err := os.WriteFile(path, []byte("name = \"updated\"\nvalue = 42\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Name != "updated" || cfg.Value != 42 {
			t.Errorf("got %+v, want name=updated value=42", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcherRenameSave(t *testing.T) {
	path := tempConfig(t, "value = 1\n")

	received := make(chan testConfig, 4)
	w := startWatcher(t, path, loadTestConfig)
	w.OnReload(func(cfg testConfig) { received <- cfg })

	tmp := path + ".swp"
	if err := os.WriteFile(tmp, []byte("value = 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Value != 7 {
			t.Errorf("Value = %d, want 7", cfg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestConfigWatcherDebounce(t *testing.T) {
	path := tempConfig(t, "value = 0\n")

	var loads atomic.Int32
	loader := func(p string) (testConfig, error) {
		loads.Add(1)
		return loadTestConfig(p)
	}
	received := make(chan testConfig, 10)
	w := startWatcher(t, path, loader, WithDebounce[testConfig](150*time.Millisecond))
	w.OnReload(func(cfg testConfig) { received <- cfg })

	for i := 1; i <= 5; i++ {
		if err := os.WriteFile(path, []byte("value = "+string(rune('0'+i))+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case cfg := <-received:
		if cfg.Value != 5 {
			t.Errorf("Value = %d, want last write 5", cfg.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}

	time.Sleep(300 * time.Millisecond)
	if n := loads.Load(); n != 1 {
		t.Errorf("loader called %d times, want 1", n)
	}
}

func TestConfigWatcherUnsubscribe(t *testing.T) {
	path := tempConfig(t, "value = 0\n")

	var kept, removed atomic.Int32
	done := make(chan struct{}, 4)
	w := startWatcher(t, path, loadTestConfig)
	unsub := w.OnReload(func(testConfig) { removed.Add(1) })
	w.OnReload(func(testConfig) {
		kept.Add(1)
		done <- struct{}{}
	})
	unsub()

	if err := os.WriteFile(path, []byte("value = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}

	if kept.Load() != 1 || removed.Load() != 0 {
		t.Errorf("kept=%d removed=%d, want 1 and 0", kept.Load(), removed.Load())
	}
}

func TestConfigWatcherErrorHandler(t *testing.T) {
	path := tempConfig(t, "value = 0\n")

	errs := make(chan error, 4)
	called := make(chan testConfig, 4)
	w := startWatcher(t, path, loadTestConfig, WithErrorHandler[testConfig](func(err error) { errs <- err }))
	w.OnReload(func(cfg testConfig) { called <- cfg })

	if err := os.WriteFile(path, []byte("value = [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Error("error handler received nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
	select {
	case cfg := <-called:
		t.Errorf("handler called with %+v after failed load", cfg)
	default:
	}
}

func TestConfigWatcherIgnoresSiblings(t *testing.T) {
	path := tempConfig(t, "value = 0\n")

	called := make(chan testConfig, 4)
	w := startWatcher(t, path, loadTestConfig)
	w.OnReload(func(cfg testConfig) { called <- cfg })

	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.toml"), []byte("value = 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-called:
		t.Errorf("reload triggered by another file: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestConfigWatcherStop(t *testing.T) {
	path := tempConfig(t, "value = 0\n")
	w := NewConfigWatcher(path, loadTestConfig, newTestLogger(), WithDebounce[testConfig](20*time.Millisecond))

	if err := w.Stop(); err != nil {
		t.Errorf("Stop() before Start error = %v", err)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestConfigWatcherStartMissingDir(t *testing.T) {
	w := NewConfigWatcher(filepath.Join(t.TempDir(), "gone", "config.toml"), loadTestConfig, newTestLogger())
	if err := w.Start(context.Background()); err == nil {
		_ = w.Stop()
		t.Fatal("expected error watching a missing directory")
	}
}
