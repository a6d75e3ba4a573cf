// Package notify delivers transient, user-facing messages such as "saved"
// or "failed to save positions". Delivery is fire-and-forget: a Sink must
// not block its caller.
package notify

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Severity ranks a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Sink receives notifications.
type Sink interface {
	Notify(message string, severity Severity)
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(string, Severity) {}

// Func adapts a function to a Sink.
type Func func(message string, severity Severity)

func (f Func) Notify(message string, severity Severity) { f(message, severity) }

// LogSink writes notifications to a logger at a level matching the severity.
type LogSink struct {
	Logger *log.Logger
}

// Notify implements Sink.
func (s LogSink) Notify(message string, severity Severity) {
	if s.Logger == nil {
		return
	}
	switch severity {
	case SeverityError:
		s.Logger.Error(message)
	case SeverityWarning:
		s.Logger.Warn(message)
	default:
		s.Logger.Info(message, "severity", string(severity))
	}
}

// Message is one recorded notification.
type Message struct {
	Text     string
	Severity Severity
}

// Recorder keeps every notification in memory. The zero value is ready.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

// Notify implements Sink.
func (r *Recorder) Notify(message string, severity Severity) {
	r.mu.Lock()
	r.msgs = append(r.msgs, Message{Text: message, Severity: severity})
	r.mu.Unlock()
}

// Messages returns a copy of the recorded notifications.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Count returns how many notifications of the given severity were recorded.
func (r *Recorder) Count(severity Severity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Severity == severity {
			n++
		}
	}
	return n
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Notify(message string, severity Severity) {
	for _, s := range m {
		if s != nil {
			s.Notify(message, severity)
		}
	}
}
