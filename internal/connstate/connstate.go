// Package connstate models the lifecycle of one client connection as an
// explicit state machine.
//
//	Idle → ReadingRequest → ForwardingUpstream → StreamingResponse → Idle
//
// Any state may move to Closed, which is terminal. A connection may also
// return to Idle or go straight to StreamingResponse when the proxy answers a
// request itself (for example with 400 or 502).
package connstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the phase a client connection is in.
type State int

const (
	Idle State = iota
	ReadingRequest
	ForwardingUpstream
	StreamingResponse
	Closed
)

var stateNames = [...]string{
	Idle:               "idle",
	ReadingRequest:     "reading_request",
	ForwardingUpstream: "forwarding_upstream",
	StreamingResponse:  "streaming_response",
	Closed:             "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// LiveStates lists every non-terminal state.
func LiveStates() []State {
	return []State{Idle, ReadingRequest, ForwardingUpstream, StreamingResponse}
}

// ErrInvalidTransition is returned for a transition the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid connection state transition")

var allowed = map[State][]State{
	Idle:               {ReadingRequest, Closed},
	ReadingRequest:     {ForwardingUpstream, StreamingResponse, Idle, Closed},
	ForwardingUpstream: {StreamingResponse, Idle, Closed},
	StreamingResponse:  {Idle, Closed},
}

// CanTransition reports whether a connection in state from may move to to.
// Staying in the same live state is always allowed.
func CanTransition(from, to State) bool {
	if from == Closed {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Observer is told about every accepted state change of a connection.
type Observer func(from, to State)

// Conn is the state of a single client connection.
type Conn struct {
	mu       sync.Mutex
	state    State
	observer Observer
}

// NewConn returns a connection in the Idle state.
func NewConn(observer Observer) *Conn {
	return &Conn{state: Idle, observer: observer}
}

// State returns the current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition moves the connection to the given state.
func (c *Conn) Transition(to State) error {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
	}
	c.state = to
	c.mu.Unlock()

	if from != to && c.observer != nil {
		c.observer(from, to)
	}
	return nil
}

type connKey struct{}

// WithConn returns a context carrying c.
func WithConn(ctx context.Context, c *Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// FromContext returns the connection stored in ctx, if any.
func FromContext(ctx context.Context) (*Conn, bool) {
	c, ok := ctx.Value(connKey{}).(*Conn)
	return c, ok
}

// Mark transitions the connection carried by ctx. Contexts without a
// connection (tests, handlers mounted outside a tracked server) are ignored.
func Mark(ctx context.Context, to State) error {
	c, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return c.Transition(to)
}
