package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogEmitter writes one JSON line per event to writer. Mirrors the
// teacher's LogEmitter (graph/emit/log.go), dropping its text-mode
// formatting since this stream is always structured (the audit log
// component requires machine-parseable output, not a human console).
type LogEmitter struct {
	mu     sync.Mutex
	writer io.Writer
}

func NewLogEmitter(writer io.Writer) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer}
}

func (l *LogEmitter) Emit(_ context.Context, room, eventType string, payload map[string]interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(Event{
		Room:      room,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("emit: marshal event: %w", err)
	}
	_, err = l.writer.Write(append(line, '\n'))
	return err
}
