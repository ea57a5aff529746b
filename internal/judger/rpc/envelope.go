// Package rpc carries file, solution and log messages between the supervisor
// and its workers as newline-delimited JSON envelopes.
package rpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"judger/internal/judger/model"
)

// MessageType names the envelope payload.
type MessageType string

const (
	TypeLog      MessageType = "log"
	TypeFile     MessageType = "file"
	TypeSolution MessageType = "solution"
)

// Envelope is one line on the wire.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// FileRequest asks the supervisor to resolve a file id.
type FileRequest struct {
	ID        string `json:"id"`
	RequestID uint64 `json:"requestID"`
}

// SolutionRequest forwards a verdict snapshot.
type SolutionRequest struct {
	ID        string         `json:"id"`
	Solution  model.Solution `json:"solution"`
	RequestID uint64         `json:"requestID"`
}

// Response answers a file or solution request.
type Response struct {
	RequestID uint64      `json:"requestID"`
	Success   bool        `json:"success"`
	File      *model.File `json:"file,omitempty"`
	Error     string      `json:"error,omitempty"`
}

var errMalformed = errors.New("malformed envelope")

type encoder struct {
	mu sync.Mutex
	w  io.Writer
}

func (e *encoder) send(t MessageType, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload failed: %w", t, err)
	}
	line, err := json.Marshal(Envelope{Type: t, Payload: body})
	if err != nil {
		return fmt.Errorf("encode envelope failed: %w", err)
	}
	line = append(line, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(line)
	return err
}

type decoder struct {
	r *bufio.Reader
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: bufio.NewReader(r)}
}

// next returns the next envelope. Undecodable lines yield an error wrapping
// errMalformed and leave the stream usable; any other error is terminal.
func (d *decoder) next() (Envelope, error) {
	line, err := d.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return decodeLine(line)
		}
		return Envelope{}, err
	}
	return decodeLine(line)
}

func decodeLine(line []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", errMalformed)
	}
	return env, nil
}
