// Package script replays a recorded session from a JSON timeline. Each
// Read returns the next frame, at whatever cadence the caller polls; the
// frames were captured at the recorder's own sampling cadence, so stepping
// one frame per cycle reproduces the original session.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/pulseworks/readycheck/pkg/engine"
)

// Frame is one recorded sampling cycle.
type Frame struct {
	Pools []PoolValue `json:"pools"`
}

// PoolValue is one pool's value within a frame.
type PoolValue struct {
	ID      string  `json:"id"`
	Current float64 `json:"current"`
	Max     float64 `json:"max"`
}

// Session is the on-disk format of a recorded session.
type Session struct {
	Session string  `json:"session"`
	Frames  []Frame `json:"frames"`
}

// Source replays a session's frames in order.
type Source struct {
	id   string
	mu   sync.Mutex
	name string
	idx  int
	loop bool

	frames [][]engine.PoolReading
}

// Load reads a session file and returns a source replaying it.
func Load(id, path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", path, err)
	}
	if len(session.Frames) == 0 {
		return nil, fmt.Errorf("session file %s has no frames", path)
	}

	frames := make([][]engine.PoolReading, 0, len(session.Frames))
	for _, f := range session.Frames {
		readings := make([]engine.PoolReading, 0, len(f.Pools))
		for _, p := range f.Pools {
			readings = append(readings, engine.PoolReading{
				PoolID:  engine.PoolID(p.ID),
				Current: p.Current,
				Max:     p.Max,
			})
		}
		frames = append(frames, readings)
	}

	return &Source{id: id, name: session.Session, frames: frames}, nil
}

func (s *Source) ID() string {
	return s.id
}

// Name returns the recorded session's name.
func (s *Source) Name() string {
	return s.name
}

// SetLoop makes playback wrap around instead of holding the last frame.
func (s *Source) SetLoop(loop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = loop
}

// Rewind restarts playback from the first frame.
func (s *Source) Rewind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx = 0
}

// Done reports whether playback has reached the last frame. A looping
// source is never done.
func (s *Source) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.loop && s.idx >= len(s.frames)-1
}

// Read returns the next frame. Past the end it holds the last frame, or
// wraps when looping.
func (s *Source) Read(ctx context.Context) ([]engine.PoolReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := s.frames[s.idx]
	if s.idx < len(s.frames)-1 {
		s.idx++
	} else if s.loop {
		s.idx = 0
	}

	out := make([]engine.PoolReading, len(frame))
	copy(out, frame)
	return out, nil
}
