package logger

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Logger emits one JSON object per line, tagged with the component name.
type Logger struct {
	component string
	mu        *sync.Mutex
	out       io.Writer
}

func New(component string) *Logger {
	return &Logger{component: component, mu: &sync.Mutex{}, out: os.Stdout}
}

// NewWithOutput is used by tests to capture log lines.
func NewWithOutput(component string, out io.Writer) *Logger {
	return &Logger{component: component, mu: &sync.Mutex{}, out: out}
}

// Named returns a logger for a sub-component sharing the same output.
func (l *Logger) Named(component string) *Logger {
	return &Logger{component: component, mu: l.mu, out: l.out}
}

func (l *Logger) log(level, action string, fields map[string]any, err error) {
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"component": l.component,
		"action":    action,
		"hostname":  hostname(),
	}
	for k, v := range fields {
		entry[k] = v
	}
	if err != nil {
		entry["error"] = err.Error()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = json.NewEncoder(l.out).Encode(entry)
}

func (l *Logger) Debug(action string, fields map[string]any) { l.log("DEBUG", action, fields, nil) }
func (l *Logger) Info(action string, fields map[string]any)  { l.log("INFO", action, fields, nil) }
func (l *Logger) Warn(action string, fields map[string]any)  { l.log("WARN", action, fields, nil) }
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.log("ERROR", action, fields, err)
}

func hostname() string { h, _ := os.Hostname(); return h }
