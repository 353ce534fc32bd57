// internal/codec/codec.go
//
// Package codec implements the newline-delimited JSON framing used between
// the bridge and the game server. Frames are UTF-8 JSON objects terminated
// by LF. The TCP port is not an HTTP port: a frame that looks like an HTTP
// request line kills the connection.
package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrHTTPRequest is returned by Reader.Next when the peer sent an HTTP
// request line. The caller must terminate the connection.
var ErrHTTPRequest = errors.New("http request received on game port")

// httpVerbs are the ASCII request-line prefixes we refuse to speak.
var httpVerbs = [][]byte{[]byte("GET "), []byte("HEAD "), []byte("POST ")}

// Reader decodes newline-delimited JSON frames from a stream.
//
// Empty frames and frames that do not begin with '{' or '[' are skipped
// silently; frames that fail to parse are logged and skipped. Only an HTTP
// prefix or a transport error ends the stream.
type Reader struct {
	br     *bufio.Reader
	logger logrus.FieldLogger
}

// NewReader wraps r. logger may not be nil.
func NewReader(r io.Reader, logger logrus.FieldLogger) *Reader {
	return &Reader{br: bufio.NewReader(r), logger: logger}
}

// Next blocks until a decodable frame arrives and returns it. It returns
// ErrHTTPRequest if the peer speaks HTTP, or the underlying read error
// (io.EOF on a clean close).
func (r *Reader) Next() (map[string]interface{}, error) {
	for {
		line, err := r.br.ReadBytes('\n')
		if err != nil {
			if len(bytes.TrimSpace(line)) > 0 {
				// A final unterminated frame is still a frame.
				if msg, ok := r.decode(bytes.TrimSpace(line)); ok {
					return msg, nil
				}
			}
			return nil, err
		}

		frame := bytes.TrimSpace(line)
		if len(frame) == 0 {
			continue
		}
		for _, verb := range httpVerbs {
			if bytes.HasPrefix(frame, verb) {
				return nil, ErrHTTPRequest
			}
		}
		if frame[0] != '{' && frame[0] != '[' {
			continue
		}
		if msg, ok := r.decode(frame); ok {
			return msg, nil
		}
	}
}

// decode parses a frame into a JSON object. Arrays and scalars are legal
// JSON but carry no message type, so they are dropped like parse failures.
func (r *Reader) decode(frame []byte) (map[string]interface{}, bool) {
	var v interface{}
	if err := json.Unmarshal(frame, &v); err != nil {
		r.logger.Warnf("codec: dropping unparseable frame: %v", err)
		return nil, false
	}
	msg, ok := v.(map[string]interface{})
	if !ok {
		r.logger.Warnf("codec: dropping non-object frame")
		return nil, false
	}
	return msg, true
}

// Writer serializes values as LF-terminated JSON frames. Writes on the same
// Writer never interleave.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write marshals v, appends LF, and writes the frame as a single write call.
func (w *Writer) Write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.w.Write(data)
	return err
}
