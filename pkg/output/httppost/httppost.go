// Package httppost sends each reading set to the collector as a small,
// hand-framed HTTP/1.1 POST over a fresh TCP connection.
package httppost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/ericogr/ds18b20-to-http/pkg/clock"
	"github.com/ericogr/ds18b20-to-http/pkg/config"
	"github.com/ericogr/ds18b20-to-http/pkg/output"
	"github.com/ericogr/ds18b20-to-http/pkg/retry"
	"github.com/ericogr/ds18b20-to-http/pkg/sensor"
)

// responseBufferSize bounds the single response read.
const responseBufferSize = 8 * 1024

// ErrEmptyResponse is returned when the collector closes the connection
// without sending anything.
var ErrEmptyResponse = errors.New("server closed connection without response")

// TransportError wraps a connect, write or read failure (including
// timeouts) of one exchange.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// Dialer opens the connection for one exchange. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type HTTPOutput struct {
	addr    string
	path    string
	timeout time.Duration
	retry   retry.Policy
	dialer  Dialer
	clk     clock.Clock
	logger  *slog.Logger
}

type Option func(*HTTPOutput)

func WithDialer(d Dialer) Option { return func(o *HTTPOutput) { o.dialer = d } }

func WithLogger(l *slog.Logger) Option { return func(o *HTTPOutput) { o.logger = l } }

func WithClock(c clock.Clock) Option { return func(o *HTTPOutput) { o.clk = c } }

// New returns an output posting to cfg.Address, which must be an IPv4
// address and port.
func New(cfg config.HTTPConfig, opts ...Option) (*HTTPOutput, error) {
	ap, err := config.ParseCollector(cfg.Address)
	if err != nil {
		return nil, err
	}
	o := &HTTPOutput{
		addr:    ap.String(),
		path:    cfg.Path,
		timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		retry:   cfg.Retry.Policy(),
		dialer:  &net.Dialer{},
		clk:     clock.Real(),
		logger:  slog.Default(),
	}
	if o.path == "" {
		o.path = "/"
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

var _ output.Output = (*HTTPOutput)(nil)

// Publish serializes set and sends it. Any failure drops this set; the
// next one supersedes it.
func (o *HTTPOutput) Publish(ctx context.Context, set sensor.ReadingSet) error {
	payload := NewBuffer(PayloadCapacity(len(set.Readings)))
	if err := EncodePayload(payload, set.Temperatures()); err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req := NewBuffer(RequestCapacity(o.path, o.addr, payload.Len()))
	if err := BuildRequest(req, o.path, o.addr, payload.Bytes()); err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return o.retry.Do(ctx, o.clk, func(attempt int) error {
		status, err := o.exchange(ctx, req.Bytes())
		if err != nil {
			o.logger.Debug("post failed", "collector", o.addr, "attempt", attempt+1, "error", err)
			return err
		}
		o.logger.Info("collector response", "collector", o.addr, "seq", set.Seq, "status", status)
		return nil
	})
}

// exchange connects, writes req and reads the first chunk of the response,
// all within one timeout. It returns the first response line.
func (o *HTTPOutput) exchange(ctx context.Context, req []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	conn, err := o.dialer.DialContext(ctx, "tcp", o.addr)
	if err != nil {
		return "", &TransportError{Op: "connect", Err: err}
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return "", &TransportError{Op: "connect", Err: err}
		}
	}
	// unblock I/O when the caller is cancelled before the deadline
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(req); err != nil {
		return "", &TransportError{Op: "write", Err: err}
	}

	buf := make([]byte, responseBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			err = ErrEmptyResponse
		}
		return "", &TransportError{Op: "read", Err: err}
	}
	line, _, _ := bytes.Cut(buf[:n], []byte("\n"))
	return string(bytes.TrimRight(line, "\r")), nil
}

func (o *HTTPOutput) Close() error { return nil }
