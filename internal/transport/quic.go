package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quantarax/chainxfer/internal/quicutil"
	"github.com/quic-go/quic-go"
)

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 60 * time.Second,
		InitialStreamReceiveWindow:     8 << 20,   // 8 MiB
		InitialConnectionReceiveWindow: 128 << 20, // 128 MiB
	}
}

type quicAcceptor struct {
	ln *quic.Listener
}

func listenQUIC(opts Options) (*quicAcceptor, error) {
	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		certPEM, keyPEM, err := quicutil.GenerateSelfSignedCert()
		if err != nil {
			return nil, err
		}
		tlsConfig, err = quicutil.MakeTLSConfig(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
	}
	tlsConfig = withALPN(tlsConfig)

	ln, err := quic.ListenAddr(opts.Address, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	return &quicAcceptor{ln: ln}, nil
}

func (a *quicAcceptor) Addr() net.Addr { return a.ln.Addr() }

func (a *quicAcceptor) Close() error { return a.ln.Close() }

func (a *quicAcceptor) accept(ctx context.Context) (inbound, error) {
	conn, err := a.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(1, "no stream")
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	return &quicInbound{conn: conn, stream: stream}, nil
}

type quicInbound struct {
	conn   *quic.Conn
	stream *quic.Stream
}

func (q *quicInbound) Read(p []byte) (int, error) { return q.stream.Read(p) }

func (q *quicInbound) RemoteAddr() net.Addr { return q.conn.RemoteAddr() }

// Close tells the sender the payload was consumed.
func (q *quicInbound) Close() error {
	q.stream.CancelRead(0)
	return q.conn.CloseWithError(0, "done")
}

type quicOutbound struct {
	ctx    context.Context
	conn   *quic.Conn
	stream *quic.Stream
}

func dialQUIC(ctx context.Context, opts Options) (outbound, error) {
	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = quicutil.MakeClientTLSConfig()
	}
	tlsConfig = withALPN(tlsConfig)

	conn, err := quic.DialAddr(ctx, opts.Address, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(1, "open stream failed")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	return &quicOutbound{ctx: ctx, conn: conn, stream: stream}, nil
}

func (q *quicOutbound) Write(p []byte) (int, error) { return q.stream.Write(p) }

// CloseWrite sends FIN on the stream.
func (q *quicOutbound) CloseWrite() error { return q.stream.Close() }

// Close waits for the receiver to close the connection so that buffered
// stream data is not discarded by an early CONNECTION_CLOSE.
func (q *quicOutbound) Close() error {
	select {
	case <-q.conn.Context().Done():
	case <-q.ctx.Done():
	}
	q.conn.CloseWithError(0, "done")
	return nil
}

func withALPN(cfg *tls.Config) *tls.Config {
	c := cfg.Clone()
	if len(c.NextProtos) == 0 {
		c.NextProtos = []string{quicutil.ALPN}
	}
	return c
}
