package transport

import (
	"context"

	"github.com/floegence/sptps-go/sptps"
)

// SendDataFunc returns an sptps.SendDataFunc that writes every frame to t,
// using ctx for each write's deadline and cancellation. sptps's SendData
// callback is synchronous and context-free, so the transport's lifetime
// context is bound once here rather than threaded through every call.
func SendDataFunc(ctx context.Context, t BinaryTransport) sptps.SendDataFunc {
	return func(_ *sptps.Session, _ uint8, frame []byte) bool {
		return t.WriteBinary(ctx, frame) == nil
	}
}

// RunLoop reads frames from t and feeds them to session until ReadBinary or
// the session itself returns an error, or ctx is done. It never returns nil:
// once ctx is done it returns ctx.Err() (or the error ReadBinary reported for
// the cancellation), and otherwise the read or session error that stopped it.
func RunLoop(ctx context.Context, session *sptps.Session, t BinaryTransport) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := t.ReadBinary(ctx)
		if err != nil {
			return err
		}
		if session.Datagram() {
			err = session.ReceiveDatagram(frame)
		} else {
			_, err = session.Receive(frame)
		}
		if err != nil {
			return err
		}
	}
}
