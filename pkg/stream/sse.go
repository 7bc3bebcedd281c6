package stream

import (
	"bufio"
	"io"
	"strings"
)

// frame is a single server-sent event as read off the wire, before the
// type is validated and the payload decoded.
type frame struct {
	// Type is the value of the "event:" field. Empty if the server sent
	// a default (unnamed) event.
	Type string

	// Data is the payload assembled from one or more "data:" lines,
	// joined with newlines per the SSE specification.
	Data string

	// ID is the value of the "id:" field, when present. Monotonic only
	// within one connection generation — never compare across reconnects.
	ID string
}

// scanner reads server-sent events from an [io.Reader].
//
// Events are delimited by blank lines. Lines starting with "data:" carry
// the payload, "event:" names the type, "id:" sets the event id. Comment
// lines (starting with ":") and unknown fields are ignored.
type scanner struct {
	reader  *bufio.Reader
	current frame
	err     error
}

func newScanner(r io.Reader) *scanner {
	return &scanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// next advances to the next event. Returns false on EOF or error; call
// scanErr afterwards to distinguish the two.
func (s *scanner) next() bool {
	s.current = frame{}

	var dataLines []string
	var eventType, eventID string
	hasData := false

	for {
		line, err := s.reader.ReadString('\n')

		// Partial last line: no trailing newline before EOF.
		if err != nil && line == "" {
			if err == io.EOF {
				if hasData {
					s.current = frame{Type: eventType, Data: strings.Join(dataLines, "\n"), ID: eventID}
					s.err = io.EOF
					return true
				}
				return false
			}
			s.err = err
			return false
		}

		line = strings.TrimRight(line, "\r\n")

		// Blank line = event boundary.
		if line == "" {
			if hasData {
				s.current = frame{Type: eventType, Data: strings.Join(dataLines, "\n"), ID: eventID}
				return true
			}
			eventType = ""
			eventID = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			// Per spec: remove exactly one leading space from the value.
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			eventID = value
		case "retry":
			// Recognized but unused — reconnect pacing is ours, not the server's.
		default:
			// Unknown fields are ignored per the SSE specification.
		}
	}
}

func (s *scanner) event() frame {
	return s.current
}

func (s *scanner) scanErr() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
