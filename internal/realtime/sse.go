package realtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Server-sent event names used on the change stream.
const (
	EventChange = "change"
	EventStatus = "status"
)

type statusFrame struct {
	Health Health `json:"health"`
}

// WriteFrame encodes env as one server-sent event.  Changes carry an id of
// "<spot>:<version>" so that a client can spot duplicates.
func WriteFrame(w io.Writer, env Envelope) error {
	if env.Event != nil {
		data, err := json.Marshal(env.Event)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "event: %s\nid: %d:%d\ndata: %s\n\n", EventChange, env.Event.SpotID(), env.Event.Version(), data)
		return err
	}
	data, err := json.Marshal(statusFrame{Health: env.Health})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventStatus, data)
	return err
}

// ReadFrames decodes server-sent events from r and calls fn for each one
// until r ends or fn returns an error.  Comments and unknown events are
// skipped.
func ReadFrames(r io.Reader, fn func(Envelope) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var event string
	var data strings.Builder
	dispatch := func() error {
		defer func() { event = ""; data.Reset() }()
		if data.Len() == 0 {
			return nil
		}
		switch event {
		case EventChange:
			var env Envelope
			if err := json.Unmarshal([]byte(data.String()), &env.Event); err != nil {
				return fmt.Errorf("decode change: %w", err)
			}
			return fn(env)
		case EventStatus:
			var st statusFrame
			if err := json.Unmarshal([]byte(data.String()), &st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			return fn(Envelope{Health: st.Health})
		}
		return nil
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return dispatch()
}
