package push

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"promptctl/internal/domain"
)

// maxLine caps a single SSE line.
const maxLine = 1 << 20

type frame struct {
	event string
	data  strings.Builder
	id    string
	has   bool
}

// ReadEvents parses an SSE stream from r and calls emit for every event
// until r ends or emit returns false. Frames that carry an event name map
// straight to that kind; unnamed frames carry a JSON {type, content, id}
// object. Frames that cannot be decoded are logged and skipped.
func ReadEvents(r io.Reader, log *slog.Logger, emit func(domain.PushEvent) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLine)

	var f frame
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			if f.has {
				ev, err := decodeFrame(&f)
				if err != nil {
					log.Warn("skipping push frame", "err", err)
				} else if !emit(ev) {
					return nil
				}
			}
			f = frame{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.event = value
			f.has = true
		case "data":
			if f.data.Len() > 0 {
				f.data.WriteByte('\n')
			}
			f.data.WriteString(value)
			f.has = true
		case "id":
			f.id = value
		}
	}
	return sc.Err()
}

func decodeFrame(f *frame) (domain.PushEvent, error) {
	data := f.data.String()
	if f.event != "" && f.event != "message" {
		return domain.PushEvent{Type: domain.EventKind(f.event), Content: data, ID: f.id}, nil
	}

	var ev domain.PushEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return domain.PushEvent{}, &domain.ProtocolError{What: "push frame is not JSON", Err: err}
	}
	if ev.Type == "" {
		return domain.PushEvent{}, &domain.ProtocolError{What: "push frame has no type"}
	}
	return ev, nil
}
