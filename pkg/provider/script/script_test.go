package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testSession = `{
	"session": "training_dummy",
	"frames": [
		{"pools": [{"id": "mana", "current": 1000, "max": 1000}]},
		{"pools": [{"id": "mana", "current": 760, "max": 1000}]},
		{"pools": [{"id": "mana", "current": 790, "max": 1000}]}
	]
}`

func writeSession(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write session file: %v", err)
	}
	return path
}

func TestLoadAndReplay(t *testing.T) {
	s, err := Load("replay", writeSession(t, testSession))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Name() != "training_dummy" {
		t.Errorf("expected session name training_dummy, got %s", s.Name())
	}

	ctx := context.Background()
	want := []float64{1000, 760, 790}
	for i, w := range want {
		readings, err := s.Read(ctx)
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if len(readings) != 1 || readings[0].Current != w {
			t.Errorf("frame %d: expected mana %f, got %+v", i, w, readings)
		}
	}

	// Past the end: holds the last frame
	if !s.Done() {
		t.Errorf("expected playback done")
	}
	readings, _ := s.Read(ctx)
	if readings[0].Current != 790 {
		t.Errorf("expected held last frame, got %f", readings[0].Current)
	}
}

func TestLoopAndRewind(t *testing.T) {
	s, err := Load("replay", writeSession(t, testSession))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s.SetLoop(true)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		s.Read(ctx)
	}
	// Looped back to the first frame
	readings, _ := s.Read(ctx)
	if readings[0].Current != 1000 {
		t.Errorf("expected loop to first frame, got %f", readings[0].Current)
	}
	if s.Done() {
		t.Errorf("looping source must never be done")
	}

	s.SetLoop(false)
	s.Rewind()
	readings, _ = s.Read(ctx)
	if readings[0].Current != 1000 {
		t.Errorf("expected rewind to first frame, got %f", readings[0].Current)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("replay", "/nonexistent/session.json"); err == nil {
		t.Errorf("expected error for missing file")
	}
	if _, err := Load("replay", writeSession(t, `not json`)); err == nil {
		t.Errorf("expected error for malformed file")
	}
	if _, err := Load("replay", writeSession(t, `{"session":"empty","frames":[]}`)); err == nil {
		t.Errorf("expected error for empty session")
	}
}
