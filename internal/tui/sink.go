package tui

import (
	"github.com/charlesnicholson/envy/internal/key"
	"github.com/charlesnicholson/envy/internal/phase"
)

// Sink adapts pipeline.OutputSink to the dashboard's Event channel. Every
// package's driver goroutine calls Line/Transition concurrently, so writes
// go through a buffered channel rather than direct model mutation.
type Sink struct {
	events chan Event
}

// NewSink returns a Sink whose Events channel the dashboard reads from.
// buf sizes the channel so a burst of phase transitions across many
// concurrently-driving packages doesn't block the engine.
func NewSink(buf int) *Sink {
	return &Sink{events: make(chan Event, buf)}
}

// Events is the channel to pass to tui.New/tui.RunDashboard.
func (s *Sink) Events() <-chan Event { return s.events }

// Close signals the dashboard that no more events are coming.
func (s *Sink) Close() { close(s.events) }

func (s *Sink) Line(k key.Key, line string) {
	s.events <- Event{Key: k.String(), Line: line, IsLine: true}
}

func (s *Sink) Transition(k key.Key, p phase.Phase) {
	s.events <- Event{Key: k.String(), Phase: p.String(), Failed: p == phase.Failed}
}
