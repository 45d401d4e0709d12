package transport

import (
	"context"
	"net"
)

type tcpAcceptor struct {
	ln net.Listener
}

func listenTCP(ctx context.Context, opts Options) (*tcpAcceptor, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, err
	}
	return &tcpAcceptor{ln: ln}, nil
}

func (a *tcpAcceptor) Addr() net.Addr { return a.ln.Addr() }

func (a *tcpAcceptor) Close() error { return a.ln.Close() }

// accept unblocks when ctx is done by closing the listener.
func (a *tcpAcceptor) accept(ctx context.Context) (inbound, error) {
	defer closeOnDone(ctx, a.ln)()

	conn, err := a.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

type tcpOutbound struct {
	*net.TCPConn
}

func dialTCP(ctx context.Context, opts Options) (outbound, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, err
	}
	return tcpOutbound{conn.(*net.TCPConn)}, nil
}
