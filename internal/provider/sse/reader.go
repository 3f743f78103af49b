// Package sse decodes Server-Sent Events from an upstream provider response.
package sse

import (
	"bufio"
	"io"
	"strings"
)

const maxLineBytes = 1 << 20

// Event is a single dispatched server-sent event.
type Event struct {
	// Event is the value of the "event:" field, empty for data-only events.
	Event string
	// Data joins multiple "data:" lines with newlines.
	Data string
}

// Reader yields events from a stream until io.EOF.
type Reader struct {
	scanner *bufio.Scanner
	body    io.ReadCloser
}

// NewReader wraps body. Closing the Reader closes body.
func NewReader(body io.ReadCloser) *Reader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner, body: body}
}

// Next returns the next event, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (Event, error) {
	var event Event
	var hasData bool

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		if line == "" {
			if hasData {
				return event, nil
			}
			event = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := parseLine(line)
		switch field {
		case "data":
			if hasData {
				event.Data += "\n" + value
			} else {
				event.Data = value
				hasData = true
			}
		case "event":
			event.Event = value
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if hasData {
		return event, nil
	}
	return Event{}, io.EOF
}

// Close releases the underlying body.
func (r *Reader) Close() error {
	return r.body.Close()
}

func parseLine(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	if value != "" && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}
