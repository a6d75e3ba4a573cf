package notify

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})

	s := LogSink{Logger: logger}
	s.Notify("positions saved", SeveritySuccess)
	s.Notify("save failed", SeverityError)
	s.Notify("slow backend", SeverityWarning)

	out := buf.String()
	for _, want := range []string{"positions saved", "severity=success", "ERRO", "save failed", "WARN"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}

	// A nil logger is a no-op.
	LogSink{}.Notify("dropped", SeverityError)
}

func TestRecorderAndMulti(t *testing.T) {
	var a, b Recorder
	var called int
	m := Multi{&a, nil, &b, Func(func(string, Severity) { called++ })}

	m.Notify("one", SeverityError)
	m.Notify("two", SeverityInfo)

	if got := a.Count(SeverityError); got != 1 {
		t.Errorf("a.Count(error) = %d, want 1", got)
	}
	msgs := b.Messages()
	if len(msgs) != 2 || msgs[1] != (Message{Text: "two", Severity: SeverityInfo}) {
		t.Errorf("b.Messages() = %v", msgs)
	}
	if called != 2 {
		t.Errorf("func sink called %d times, want 2", called)
	}

	Discard{}.Notify("ignored", SeverityError)
}
