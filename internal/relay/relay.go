// Package relay streams bodies between the client and the upstream with a
// fixed-size buffer.
package relay

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
)

// BufferSize is the size of each pooled copy buffer. Memory held per stream
// never exceeds it, whatever the body length.
const BufferSize = 32 * 1024

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, BufferSize)
		return &b
	},
}

type options struct {
	flush bool
}

// Option configures a Copy.
type Option func(*options)

// WithFlush flushes dst after every write when it implements http.Flusher.
// Used for responses of unknown length so streamed data reaches the client
// as soon as the upstream produces it.
func WithFlush() Option {
	return func(o *options) { o.flush = true }
}

// Copy copies src to dst until EOF, an error, or ctx is done. When ctx ends
// and src implements io.Closer it is closed to unblock a pending read, and
// ctx.Err() is returned.
func Copy(ctx context.Context, dst io.Writer, src io.Reader, opts ...Option) (int64, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if c, ok := src.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	var flusher http.Flusher
	if o.flush {
		flusher, _ = dst.(http.Flusher)
	}

	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	buf := *bp

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, &WriteError{Err: werr}
			}
			if nw != nr {
				return written, &WriteError{Err: io.ErrShortWrite}
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			// A read failing because ctx closed src reports the cancellation.
			if err := ctx.Err(); err != nil {
				return written, err
			}
			return written, &ReadError{Err: rerr}
		}
	}
}

// ReadError wraps a failure reading from the source stream.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string { return "relay read: " + e.Err.Error() }

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failure writing to the destination stream.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string { return "relay write: " + e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }
