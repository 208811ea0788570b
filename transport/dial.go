package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// UpgraderOptions exposes a small set of websocket upgrader controls for Upgrade.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// Upgrade upgrades an HTTP request to a websocket connection and wraps it as
// a BinaryTransport ready to carry sptps frames.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*WebSocketBinaryTransport, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketBinaryTransport(c), nil
}

// DialOptions provides optional headers and a custom dialer for Dial.
type DialOptions struct {
	Header http.Header
	Dialer *websocket.Dialer
}

// Dial opens a websocket connection with a deadline-aware handshake and
// wraps it as a BinaryTransport ready to carry sptps frames.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*WebSocketBinaryTransport, *http.Response, error) {
	var d websocket.Dialer
	if opts.Dialer != nil {
		d = *opts.Dialer
	}
	if deadline, ok := ctx.Deadline(); ok {
		dl := time.Until(deadline)
		if d.HandshakeTimeout == 0 || d.HandshakeTimeout > dl {
			d.HandshakeTimeout = dl
		}
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		return nil, resp, err
	}
	return NewWebSocketBinaryTransport(c), resp, nil
}
