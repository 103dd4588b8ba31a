// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// Spinner animates one status line while a model call is in flight. With
// a total set it also counts finished steps, e.g. filled plan sections.
// Machine personality prints a single PROGRESS line instead of frames.
type Spinner struct {
	out io.Writer

	mu      sync.Mutex
	label   string
	steps   int
	total   int
	running bool
	quit    chan struct{}
	exited  chan struct{}
}

// NewSpinner creates a stopped spinner drawing to the status writer.
func NewSpinner(label string) *Spinner {
	out, _ := writers()
	return &Spinner{label: label, out: out}
}

// WithWriter sets where frames are drawn.
func (s *Spinner) WithWriter(w io.Writer) *Spinner {
	if w != nil {
		s.out = w
	}
	return s
}

// WithTotal shows a steps/total counter after the label.
func (s *Spinner) WithTotal(total int) *Spinner {
	s.total = total
	return s
}

// SetLabel replaces the label while running.
func (s *Spinner) SetLabel(label string) {
	s.mu.Lock()
	s.label = label
	s.mu.Unlock()
}

// Step records one finished step. Safe for concurrent use.
func (s *Spinner) Step() {
	s.mu.Lock()
	s.steps++
	s.mu.Unlock()
}

// Steps returns the finished step count.
func (s *Spinner) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// line must be called with mu held.
func (s *Spinner) line() string {
	if s.total > 0 {
		return fmt.Sprintf("%s [%d/%d]", s.label, s.steps, s.total)
	}
	return s.label
}

// Start begins drawing. Starting a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(s.out, "PROGRESS: %s\n", s.line())
		return
	}

	s.quit = make(chan struct{})
	s.exited = make(chan struct{})
	go s.draw(s.quit, s.exited)
}

func (s *Spinner) draw(quit <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for frame := 0; ; frame = (frame + 1) % len(spinnerFrames) {
		select {
		case <-quit:
			fmt.Fprint(s.out, "\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			fmt.Fprintf(s.out, "\r%s %s", Styles.Highlight.Render(spinnerFrames[frame]), s.line())
			s.mu.Unlock()
		}
	}
}

// Stop clears the line and waits for the drawing goroutine to exit.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	quit, exited := s.quit, s.exited
	s.quit, s.exited = nil, nil
	s.mu.Unlock()

	if quit != nil {
		close(quit)
		<-exited
	}
}

// WithSpinner runs fn behind a spinner and reports its outcome.
func WithSpinner(label string, fn func() error) error {
	spin := NewSpinner(label)
	spin.Start()
	err := fn()
	spin.Stop()

	if err != nil {
		Error(fmt.Sprintf("%s: %v", label, err))
		return err
	}
	Success(label)
	return nil
}
