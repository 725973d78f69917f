package connstate

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
)

// Tracker follows every connection of an http.Server. Install it with
// ConnContext and ConnState on the server.
type Tracker struct {
	logger *slog.Logger
	conns  sync.Map // net.Conn → *Conn
	counts [Closed + 1]atomic.Int64
}

// NewTracker creates a Tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{logger: logger.With("component", "conn_tracker")}
}

// Install hooks the tracker into srv.
func (t *Tracker) Install(srv *http.Server) {
	srv.ConnContext = t.ConnContext
	srv.ConnState = t.ConnState
}

// ConnContext registers a freshly accepted connection and attaches its state
// to the connection's base context.
func (t *Tracker) ConnContext(ctx context.Context, nc net.Conn) context.Context {
	c := NewConn(t.observe)
	t.counts[Idle].Add(1)
	t.conns.Store(nc, c)
	return WithConn(ctx, c)
}

// ConnState maps net/http connection states onto the state machine.
func (t *Tracker) ConnState(nc net.Conn, hs http.ConnState) {
	v, ok := t.conns.Load(nc)
	if !ok {
		return
	}
	c := v.(*Conn)

	var to State
	switch hs {
	case http.StateNew:
		return
	case http.StateActive:
		to = ReadingRequest
	case http.StateIdle:
		to = Idle
	case http.StateHijacked, http.StateClosed:
		to = Closed
		t.conns.Delete(nc)
	default:
		return
	}

	if err := c.Transition(to); err != nil {
		t.logger.Warn("connection state", "err", err, "remote_addr", nc.RemoteAddr().String())
	}
}

// Count returns the number of connections currently in s. For Closed it is
// the total number of connections closed so far.
func (t *Tracker) Count(s State) int64 {
	if s < 0 || s > Closed {
		return 0
	}
	return t.counts[s].Load()
}

func (t *Tracker) observe(from, to State) {
	if from != Closed {
		t.counts[from].Add(-1)
	}
	t.counts[to].Add(1)
	t.logger.Debug("connection state", "from", from.String(), "to", to.String())
}
