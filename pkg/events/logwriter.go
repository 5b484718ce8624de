package events

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
)

// LogWriter returns a zerolog-compatible writer that republishes every log
// line as a TypeLog event. Lines that are not JSON objects are published
// verbatim as the message.
func (h *Hub) LogWriter() io.Writer {
	return &logWriter{hub: h}
}

type logWriter struct {
	hub *Hub
}

// reserved zerolog keys that map onto Event fields instead of Data.
var logReserved = map[string]struct{}{
	zerolog.LevelFieldName:     {},
	zerolog.MessageFieldName:   {},
	zerolog.TimestampFieldName: {},
	"session_id":               {},
	"trace_id":                 {},
}

func (w *logWriter) Write(p []byte) (int, error) {
	// Skip the marshal work entirely when nobody is listening.
	if w.hub.Subscribers() == 0 {
		return len(p), nil
	}

	ev := Event{Type: TypeLog, Level: LevelInfo}

	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		ev.Message = string(p)
		w.hub.Emit(context.Background(), ev)
		return len(p), nil
	}

	if lvl, ok := fields[zerolog.LevelFieldName].(string); ok {
		ev.Level = lvl
	}
	if msg, ok := fields[zerolog.MessageFieldName].(string); ok {
		ev.Message = msg
	}
	if sid, ok := fields["session_id"].(string); ok {
		ev.SessionID = sid
	}
	if tid, ok := fields["trace_id"].(string); ok {
		ev.TraceID = tid
	}

	for k, v := range fields {
		if _, skip := logReserved[k]; skip {
			continue
		}
		if ev.Data == nil {
			ev.Data = make(map[string]any, len(fields))
		}
		ev.Data[k] = v
	}

	w.hub.Emit(context.Background(), ev)
	return len(p), nil
}
