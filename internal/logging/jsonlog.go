package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type entry struct {
	Level   string         `json:"level"`
	Time    string         `json:"time"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

var levels = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

var (
	mu       sync.Mutex
	out      io.Writer = os.Stdout
	minLevel           = levels["info"]
)

func init() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		SetLevel(v)
	}
}

// SetOutput redirects log lines, mostly for tests and the status command.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the minimum level written. Unknown names are ignored.
func SetLevel(name string) {
	if l, ok := levels[strings.ToLower(name)]; ok {
		mu.Lock()
		minLevel = l
		mu.Unlock()
	}
}

func Log(level, msg string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()
	if levels[level] < minLevel {
		return
	}
	e := entry{Level: level, Time: time.Now().UTC().Format(time.RFC3339Nano), Message: msg, Fields: fields}
	b, err := json.Marshal(e)
	if err != nil {
		// fields carried something unencodable; keep the line
		b, _ = json.Marshal(entry{Level: level, Time: e.Time, Message: msg, Fields: map[string]any{"encode_error": err.Error()}})
	}
	fmt.Fprintln(out, string(b))
}

func Debug(msg string, fields map[string]any) { Log("debug", msg, fields) }
func Info(msg string, fields map[string]any)  { Log("info", msg, fields) }
func Warn(msg string, fields map[string]any)  { Log("warn", msg, fields) }
func Error(msg string, fields map[string]any) { Log("error", msg, fields) }

// Err is a shorthand for fields that carry only an error.
func Err(err error) map[string]any {
	if err == nil {
		return nil
	}
	return map[string]any{"error": err.Error()}
}
