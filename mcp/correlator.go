package mcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaharia-lab/mcpclient/observability"
)

// pendingRequest is an outstanding request waiting for its response. It is
// completed exactly once, by whoever removes it from the correlator.
type pendingRequest struct {
	id     RequestID
	method string
	done   chan struct{}
	timer  *time.Timer

	resp *Response
	err  error
}

func (p *pendingRequest) complete(resp *Response, err error) {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.resp = resp
	p.err = err
	close(p.done)
}

// correlator hands out request ids and matches responses to waiters.
type correlator struct {
	nextID  atomic.Int64
	logger  observability.Logger
	mu      sync.Mutex
	pending map[RequestID]*pendingRequest
	closed  error
}

func newCorrelator(logger observability.Logger) *correlator {
	return &correlator{
		logger:  logger,
		pending: make(map[RequestID]*pendingRequest),
	}
}

// allocate returns a fresh id. Ids are never reused within a session.
func (c *correlator) allocate() RequestID {
	return NewRequestID(c.nextID.Add(1))
}

// register records a pending request. A positive timeout arms a deadline
// that fails the request with KindTimeout.
func (c *correlator) register(id RequestID, method string, timeout time.Duration) (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed != nil {
		return nil, Translate(method, id, c.closed).withRequest(method, id)
	}
	if _, exists := c.pending[id]; exists {
		return nil, newError(KindProtocol, method, fmt.Sprintf("request id %s already in use", id), nil)
	}

	p := &pendingRequest{id: id, method: method, done: make(chan struct{})}
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			c.fail(id, &Error{
				Kind:    KindTimeout,
				Method:  method,
				ID:      id,
				Message: fmt.Sprintf("no response within %s", timeout),
				Err:     context.DeadlineExceeded,
			})
		})
	}
	c.pending[id] = p
	return p, nil
}

func (c *correlator) take(id RequestID) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

// resolve delivers a response. Responses for unknown, expired or already
// answered ids are dropped and reported as false.
func (c *correlator) resolve(resp *Response) bool {
	p := c.take(resp.ID)
	if p == nil {
		c.logger.WithFields(map[string]interface{}{"id": string(resp.ID)}).
			Debug("Dropping response for unknown or expired request")
		return false
	}
	p.complete(resp, nil)
	return true
}

// fail completes a pending request with err. It returns false when the
// request was already completed.
func (c *correlator) fail(id RequestID, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.complete(nil, err)
	return true
}

// cancelAll fails every pending request with cause and refuses new
// registrations. It returns the number of requests it failed.
func (c *correlator) cancelAll(cause error) int {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = cause
	}
	pending := c.pending
	c.pending = make(map[RequestID]*pendingRequest)
	c.mu.Unlock()

	for id, p := range pending {
		p.complete(nil, Translate(p.method, id, cause).withRequest(p.method, id))
	}
	return len(pending)
}

func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
