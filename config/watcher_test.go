package config

import (
	"os"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	// GIVEN a watched config file
	path := writeFile(t, "sim.yaml", "clock_speed: 1\n")
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	changed := make(chan *File, 1)
	w.OnChange(func(old, new *File) {
		select {
		case changed <- new:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// WHEN the file is rewritten
	if err := os.WriteFile(path, []byte("clock_speed: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// THEN the callback fires with the new configuration
	select {
	case cfg := <-changed:
		if cfg.ClockSpeed != 8 {
			t.Errorf("reloaded clock_speed: got %v, want 8", cfg.ClockSpeed)
		}
		if w.Current().ClockSpeed != 8 {
			t.Errorf("Current: got %v, want 8", w.Current().ClockSpeed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestWatcher_KeepsPreviousConfigOnBrokenReload(t *testing.T) {
	// GIVEN a watched config file
	path := writeFile(t, "sim.yaml", "clock_speed: 3\n")
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// WHEN the file turns invalid
	if err := os.WriteFile(path, []byte("clock_speed: -9\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// THEN after the debounce window the previous config is still served
	time.Sleep(500 * time.Millisecond)
	if w.Current().ClockSpeed != 3 {
		t.Errorf("Current after broken reload: got %v, want 3", w.Current().ClockSpeed)
	}
}

func TestNewWatcher_RejectsBrokenFile(t *testing.T) {
	path := writeFile(t, "sim.yaml", "workers: -1\n")
	if _, err := NewWatcher(path); err == nil {
		t.Error("NewWatcher accepted an invalid initial config")
	}
}
