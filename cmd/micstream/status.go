package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// terminalStatus prints capture status changes and a loudness meter
type terminalStatus struct {
	mu    sync.Mutex
	out   io.Writer
	state string
}

func newTerminalStatus(out io.Writer) *terminalStatus {
	return &terminalStatus{out: out, state: "idle"}
}

func (s *terminalStatus) set(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == state {
		return
	}
	s.state = state
	fmt.Fprintf(s.out, "[%s]\n", state)
}

func (s *terminalStatus) SetIdle()      { s.set("idle") }
func (s *terminalStatus) SetRecording() { s.set("recording") }
func (s *terminalStatus) SetMuted()     { s.set("muted") }
func (s *terminalStatus) SetError()     { s.set("error") }

// Meter prints the current level while recording.
func (s *terminalStatus) Meter(level int, sent int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != "recording" {
		return
	}
	fmt.Fprintf(s.out, "%-20s %8d bytes\n", strings.Repeat("#", level), sent)
}
