package cci

import (
	"sync"

	"github.com/ardnew/cxlfab/pkg"
)

// BackgroundSlot models the single outstanding background-operation
// state a Fabric Manager CCI dispatcher holds, per spec.md §6/§7:
// BIND_VPPB/UNBIND_VPPB are long-running commands that return
// BACKGROUND_COMMAND_STARTED immediately, pollable via
// BACKGROUND_OPERATION_STATUS until the percent-complete reaches 100.
// Only one background operation may be outstanding at a time.
type BackgroundSlot struct {
	mu         sync.Mutex
	running    bool
	opcode     Opcode
	percent    uint8
	returnCode pkg.CompletionStatus
}

// Start marks op as the in-progress background operation. It fails
// with pkg.ErrBackgroundBusy if one is already running.
func (s *BackgroundSlot) Start(op Opcode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return pkg.ErrBackgroundBusy
	}
	s.running = true
	s.opcode = op
	s.percent = 0
	s.returnCode = pkg.StatusBackgroundStarted
	return nil
}

// Progress updates the running operation's percent-complete.
func (s *BackgroundSlot) Progress(percent uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.percent = percent
	}
}

// Complete marks the running operation finished with the given
// terminal return code and frees the slot for the next operation.
func (s *BackgroundSlot) Complete(code pkg.CompletionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.percent = 100
	s.returnCode = code
}

// Status returns the current operation's opcode, percent-complete, and
// return code. ok is false if no operation has ever been started.
func (s *BackgroundSlot) Status() (op Opcode, percent uint8, code pkg.CompletionStatus, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running && s.percent == 0 && s.returnCode == 0 {
		return 0, 0, 0, false
	}
	return s.opcode, s.percent, s.returnCode, true
}

// Running reports whether a background operation is currently in
// progress.
func (s *BackgroundSlot) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
