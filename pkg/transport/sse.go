package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// event is one dispatched server-sent event.
type event struct {
	Type string
	ID   string
	Data []byte
}

// eventReader parses a text/event-stream body. Multiple data lines are
// joined with a newline, comment lines are skipped, and an event is
// dispatched at each blank line.
type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event with a non-empty data field. At end of
// stream it returns io.EOF; a partially accumulated event is discarded.
func (er *eventReader) Next() (event, error) {
	var (
		ev      event
		data    bytes.Buffer
		hasData bool
		size    int
	)
	for {
		line, err := er.readLine(maxFrameSize - size)
		if errors.Is(err, errFrameTooLarge) {
			return event{}, err
		}
		size += len(line)
		if err != nil && !(err == io.EOF && line != "") {
			return event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				ev.Data = data.Bytes()
				return ev, nil
			}
			ev = event{}
			size = 0
		} else if !strings.HasPrefix(line, ":") {
			field, value := line, ""
			if i := strings.IndexByte(line, ':'); i >= 0 {
				field, value = line[:i], strings.TrimPrefix(line[i+1:], " ")
			}
			switch field {
			case "event":
				ev.Type = value
			case "id":
				ev.ID = value
			case "data":
				if hasData {
					data.WriteByte('\n')
				}
				data.WriteString(value)
				hasData = true
			}
		}

		if err == io.EOF {
			return event{}, io.EOF
		}
	}
}

// readLine reads through the next newline, failing with errFrameTooLarge
// once more than limit bytes have been read without finding one.
func (er *eventReader) readLine(limit int) (string, error) {
	var line []byte
	for {
		chunk, err := er.r.ReadSlice('\n')
		if len(line)+len(chunk) > limit {
			return "", errFrameTooLarge
		}
		line = append(line, chunk...)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return string(line), err
		}
	}
}

type sseError string

func (e sseError) Error() string { return string(e) }

const errFrameTooLarge = sseError("event exceeds maximum frame size")
