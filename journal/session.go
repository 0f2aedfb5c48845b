// Copyright (c) 2024 The ESGF2-US Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package journal

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// A Session is an in-memory, append-only log of the notable events of one
// search / resolution / acquisition sequence. It answers "why did I get
// these results?" after the fact: which indices reported, which failed,
// which facets were relaxed, which hosts were tried. Events are also
// forwarded to the process log as they are appended.

// one logged session event
type Event struct {
	// time at which the event occurred
	Time time.Time `json:"time"`
	// event category ("search", "resolve", "relax", "transfer", "warning", ...)
	Type string `json:"type"`
	// human-readable description
	Message string `json:"message"`
}

type Session struct {
	mutex  sync.Mutex
	events []Event
	// clock hook (overridden in tests)
	now func() time.Time
}

// creates a new empty session log
func NewSession() *Session {
	return &Session{
		events: make([]Event, 0),
		now:    time.Now,
	}
}

// appends an event with the given category and formatted message
func (s *Session) Log(eventType, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	slog.Debug(fmt.Sprintf("%s: %s", eventType, message))

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, Event{
		Time:    s.now(),
		Type:    eventType,
		Message: message,
	})
}

// appends a warning event (these are also surfaced at a visible log level)
func (s *Session) Warn(format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	slog.Warn(message)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, Event{
		Time:    s.now(),
		Type:    "warning",
		Message: message,
	})
}

// returns a copy of all events logged so far, in order of appending
func (s *Session) Events() []Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Event(nil), s.events...)
}

// returns the messages of all warning events logged so far
func (s *Session) Warnings() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	warnings := make([]string, 0)
	for _, event := range s.events {
		if event.Type == "warning" {
			warnings = append(warnings, event.Message)
		}
	}
	return warnings
}
