package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"judger/internal/judger/model"
	pkgerrors "judger/pkg/errors"
)

// ErrConnectionLost is returned for every pending and future call once the
// supervisor side of the connection is gone.
var ErrConnectionLost = errors.New("rpc connection lost")

// Client is the worker side of the connection. It is also an io.Writer so it
// can serve as the worker's log sink.
type Client struct {
	enc    *encoder
	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Response
	lost    bool
	done    chan struct{}
}

// NewClient starts reading responses from r and sends requests to w.
func NewClient(r io.Reader, w io.Writer) *Client {
	c := &Client{
		enc:     &encoder{w: w},
		pending: make(map[uint64]chan Response),
		done:    make(chan struct{}),
	}
	go c.readLoop(newDecoder(r))
	return c
}

// Done is closed when the connection is lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ResolveFile asks the supervisor for the local copy of a file.
func (c *Client) ResolveFile(ctx context.Context, id string) (model.File, error) {
	resp, err := c.call(ctx, TypeFile, func(requestID uint64) interface{} {
		return FileRequest{ID: id, RequestID: requestID}
	})
	if err != nil {
		return model.File{}, err
	}
	if resp.File == nil {
		return model.File{}, pkgerrors.Newf(pkgerrors.RPCMalformed, "file response for %s carries no file", id)
	}
	return *resp.File, nil
}

// UpdateSolution forwards a verdict snapshot and waits for it to be stored.
func (c *Client) UpdateSolution(ctx context.Context, id string, solution model.Solution) error {
	_, err := c.call(ctx, TypeSolution, func(requestID uint64) interface{} {
		return SolutionRequest{ID: id, Solution: solution, RequestID: requestID}
	})
	return err
}

// Write sends p as one log envelope.
func (c *Client) Write(p []byte) (int, error) {
	if c.isLost() {
		return 0, connectionLost()
	}
	line := string(bytes.TrimRight(p, "\n"))
	if err := c.enc.send(TypeLog, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Client) call(ctx context.Context, t MessageType, build func(uint64) interface{}) (Response, error) {
	requestID := c.nextID.Add(1)
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.lost {
		c.mu.Unlock()
		return Response{}, connectionLost()
	}
	c.pending[requestID] = ch
	c.mu.Unlock()

	if err := c.enc.send(t, build(requestID)); err != nil {
		c.forget(requestID)
		return Response{}, pkgerrors.Wrapf(err, pkgerrors.RPCRequestFailed, "send %s request failed: %v", t, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, connectionLost()
		}
		if !resp.Success {
			return Response{}, pkgerrors.Newf(pkgerrors.RPCRequestFailed, "%s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(requestID)
		return Response{}, ctx.Err()
	}
}

func (c *Client) forget(requestID uint64) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

func (c *Client) readLoop(dec *decoder) {
	defer c.fail()
	for {
		env, err := dec.next()
		if err != nil {
			if errors.Is(err, errMalformed) {
				continue
			}
			return
		}
		if env.Type != TypeFile && env.Type != TypeSolution {
			continue
		}
		var resp Response
		if err := json.Unmarshal(env.Payload, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost {
		return
	}
	c.lost = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.done)
}

func (c *Client) isLost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

func connectionLost() error {
	return pkgerrors.Wrap(ErrConnectionLost, pkgerrors.RPCConnectionLost)
}
