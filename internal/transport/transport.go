// Package transport implements the single-shot transfer channel: one side
// listens and drains exactly one connection, the other dials once and writes
// one framed payload.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/quantarax/chainxfer/internal/ratelimit"
	"github.com/quantarax/chainxfer/internal/validation"
)

// DefaultMaxPayloadSize bounds how much a Listener reads from one connection.
const DefaultMaxPayloadSize int64 = 10_000_000

var (
	// ErrPayloadTooLarge is returned when the peer sends more than MaxPayloadSize bytes.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrUnsupportedNetwork is returned for a network other than tcp or quic.
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid channel state")

	// ErrConnectFailed is returned by Send when the listener cannot be reached.
	ErrConnectFailed = errors.New("connect failed")
)

// Network selects the byte-stream implementation.
type Network string

const (
	NetworkTCP  Network = "tcp"
	NetworkQUIC Network = "quic"
)

// Options configures both roles of the channel.
type Options struct {
	Network        Network
	Address        string
	MaxPayloadSize int64

	// RateLimit caps the Initiator's send rate in bytes per second. Zero
	// means unlimited.
	RateLimit int64

	// TLSConfig is used by the quic network. When nil, listeners generate a
	// self-signed certificate and dialers skip verification.
	TLSConfig *tls.Config
}

// Validate checks the options and fills defaults.
func (o *Options) Validate() error {
	if o.Network == "" {
		o.Network = NetworkTCP
	}
	if o.Network != NetworkTCP && o.Network != NetworkQUIC {
		return fmt.Errorf("%w: %q", ErrUnsupportedNetwork, o.Network)
	}
	if err := validation.ValidateAddr(o.Address); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if o.MaxPayloadSize == 0 {
		o.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if o.RateLimit < 0 {
		return fmt.Errorf("transport: rate limit must not be negative, got %d", o.RateLimit)
	}
	if o.MaxPayloadSize < 0 {
		return fmt.Errorf("transport: max payload size must be positive, got %d", o.MaxPayloadSize)
	}
	return nil
}

// State is a position in the Listener or Initiator state machine.
type State int

const (
	StateIdle State = iota
	StateBound
	StateAccepting
	StateConnecting
	StateConnected
	StateDraining
	StateSending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBound:
		return "BOUND"
	case StateAccepting:
		return "ACCEPTING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDraining:
		return "DRAINING"
	case StateSending:
		return "SENDING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// inbound is the receiving half of one accepted connection.
type inbound interface {
	io.Reader
	RemoteAddr() net.Addr
	Close() error
}

// outbound is the sending half of one dialed connection.
type outbound interface {
	io.Writer
	// CloseWrite signals end of payload to the peer.
	CloseWrite() error
	Close() error
}

// acceptor is a bound listener of a specific network.
type acceptor interface {
	Addr() net.Addr
	accept(ctx context.Context) (inbound, error)
	Close() error
}

// Listener accepts exactly one connection and drains its payload.
type Listener struct {
	opts Options
	ln   acceptor

	mu     sync.Mutex
	state  State
	remote net.Addr
}

// Listen binds the listener. The returned Listener is in StateBound.
func Listen(ctx context.Context, opts Options) (*Listener, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var (
		ln  acceptor
		err error
	)
	switch opts.Network {
	case NetworkQUIC:
		ln, err = listenQUIC(opts)
	default:
		ln, err = listenTCP(ctx, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("bind %s %s: %w", opts.Network, opts.Address, err)
	}

	return &Listener{opts: opts, ln: ln, state: StateBound}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Network returns the network the listener is bound on.
func (l *Listener) Network() Network {
	return l.opts.Network
}

// State returns the current state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RemoteAddr returns the peer of the accepted connection, or nil.
func (l *Listener) RemoteAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remote
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Accept blocks for one connection, reads until the peer closes its write
// side and returns the payload. The connection and the listener are closed
// on every return path.
func (l *Listener) Accept(ctx context.Context) ([]byte, error) {
	l.mu.Lock()
	if l.state != StateBound {
		st := l.state
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: accept in state %s", ErrInvalidState, st)
	}
	l.state = StateAccepting
	l.mu.Unlock()
	defer l.Close()

	conn, err := l.ln.accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept on %s: %w", l.ln.Addr(), err)
	}
	defer conn.Close()

	l.mu.Lock()
	l.state = StateConnected
	l.remote = conn.RemoteAddr()
	l.mu.Unlock()

	l.setState(StateDraining)
	stop := closeOnDone(ctx, conn)
	payload, err := drain(conn, l.opts.MaxPayloadSize)
	stop()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, fmt.Errorf("read from %s: %w", conn.RemoteAddr(), err)
	}
	return payload, nil
}

// closeOnDone closes c when ctx is done, unblocking any pending I/O on it.
// The returned stop function ends the watch.
func closeOnDone(ctx context.Context, c io.Closer) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// Close releases the listener. It is safe to call more than once.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return nil
	}
	l.state = StateClosed
	l.mu.Unlock()
	return l.ln.Close()
}

func drain(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, max)
	}
	return data, nil
}

// Initiator dials the listener once and writes one payload.
type Initiator struct {
	opts Options

	mu    sync.Mutex
	state State
}

// NewInitiator validates opts and returns an idle Initiator.
func NewInitiator(opts Options) (*Initiator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := validation.ValidateDialAddr(opts.Address); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	return &Initiator{opts: opts, state: StateIdle}, nil
}

// String names the network and address the Initiator dials.
func (i *Initiator) String() string {
	return string(i.opts.Network) + "://" + i.opts.Address
}

// Network returns the network the Initiator dials.
func (i *Initiator) Network() Network {
	return i.opts.Network
}

// MaxPayloadSize returns the largest payload Send accepts.
func (i *Initiator) MaxPayloadSize() int64 {
	return i.opts.MaxPayloadSize
}

// State returns the current state.
func (i *Initiator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Initiator) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// Send connects, writes the whole payload, closes the write side and then
// the connection. A failed connect is returned as is; there is no retry.
func (i *Initiator) Send(ctx context.Context, payload []byte) error {
	i.mu.Lock()
	if i.state != StateIdle {
		st := i.state
		i.mu.Unlock()
		return fmt.Errorf("%w: send in state %s", ErrInvalidState, st)
	}
	i.state = StateConnecting
	i.mu.Unlock()
	defer i.setState(StateClosed)

	if int64(len(payload)) > i.opts.MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), i.opts.MaxPayloadSize)
	}

	var (
		conn outbound
		err  error
	)
	switch i.opts.Network {
	case NetworkQUIC:
		conn, err = dialQUIC(ctx, i.opts)
	default:
		conn, err = dialTCP(ctx, i.opts)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrConnectFailed, i.opts.Network, i.opts.Address, err)
	}
	i.setState(StateConnected)

	i.setState(StateSending)
	var w io.Writer = conn
	if i.opts.RateLimit > 0 {
		w = ratelimit.NewWriter(ctx, conn, i.opts.RateLimit)
	}
	if _, err := w.Write(payload); err != nil {
		conn.Close()
		return fmt.Errorf("write payload: %w", err)
	}
	if err := conn.CloseWrite(); err != nil {
		conn.Close()
		return fmt.Errorf("close write side: %w", err)
	}
	return conn.Close()
}
