// Package observability defines the metric events a sptps session reports,
// independent of where those events end up (Prometheus, logs, nothing).
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// HandshakeResult is the outcome of a completed (or abandoned) handshake.
type HandshakeResult string

const (
	HandshakeResultOK             HandshakeResult = "ok"
	HandshakeResultBadSignature   HandshakeResult = "bad_signature"
	HandshakeResultNoCommonSuite  HandshakeResult = "no_common_suite"
	HandshakeResultBadVersion     HandshakeResult = "bad_version"
	HandshakeResultTransportError HandshakeResult = "transport_error"
)

// RecordResult is the outcome of decoding one inbound record.
type RecordResult string

const (
	RecordResultOK               RecordResult = "ok"
	RecordResultDecryptFail      RecordResult = "decrypt_fail"
	RecordResultReplay           RecordResult = "replay"
	RecordResultFarFuture        RecordResult = "far_future"
	RecordResultShortOrMalformed RecordResult = "short_or_malformed"
)

// SessionObserver receives per-session metric events. All methods must be
// safe for concurrent use, including for a single session: sptpsconn.Conn
// reports sent records from the writing goroutine while its read loop
// reports received records and handshake events.
type SessionObserver interface {
	HandshakeStart(initiator bool)
	HandshakeComplete(d time.Duration, suite uint8)
	HandshakeFailed(result HandshakeResult)
	RekeyStart()
	RekeyComplete(d time.Duration)
	RecordSent(typ uint8, n int)
	RecordReceived(typ uint8, n int, result RecordResult)
	SessionClosed()
}

type noopSessionObserver struct{}

func (noopSessionObserver) HandshakeStart(bool)                     {}
func (noopSessionObserver) HandshakeComplete(time.Duration, uint8)  {}
func (noopSessionObserver) HandshakeFailed(HandshakeResult)         {}
func (noopSessionObserver) RekeyStart()                             {}
func (noopSessionObserver) RekeyComplete(time.Duration)             {}
func (noopSessionObserver) RecordSent(uint8, int)                   {}
func (noopSessionObserver) RecordReceived(uint8, int, RecordResult) {}
func (noopSessionObserver) SessionClosed()                          {}

// NoopSessionObserver is a zero-cost observer used when metrics are disabled.
var NoopSessionObserver SessionObserver = noopSessionObserver{}

// AtomicSessionObserver swaps its delegate at runtime without requiring
// callers to hold a lock; sessions typically install one process-wide
// instance and reach it through a package-level variable or Params.Handle.
type AtomicSessionObserver struct {
	once sync.Once
	v    atomic.Value
}

type sessionObserverHolder struct {
	obs SessionObserver
}

// NewAtomicSessionObserver returns an initialized atomic observer defaulting
// to NoopSessionObserver.
func NewAtomicSessionObserver() *AtomicSessionObserver {
	a := &AtomicSessionObserver{}
	a.once.Do(func() { a.v.Store(&sessionObserverHolder{obs: NoopSessionObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicSessionObserver) Set(obs SessionObserver) {
	if obs == nil {
		obs = NoopSessionObserver
	}
	a.once.Do(func() { a.v.Store(&sessionObserverHolder{obs: NoopSessionObserver}) })
	a.v.Store(&sessionObserverHolder{obs: obs})
}

func (a *AtomicSessionObserver) load() SessionObserver {
	a.once.Do(func() { a.v.Store(&sessionObserverHolder{obs: NoopSessionObserver}) })
	return a.v.Load().(*sessionObserverHolder).obs
}

func (a *AtomicSessionObserver) HandshakeStart(initiator bool) { a.load().HandshakeStart(initiator) }
func (a *AtomicSessionObserver) HandshakeComplete(d time.Duration, suite uint8) {
	a.load().HandshakeComplete(d, suite)
}
func (a *AtomicSessionObserver) HandshakeFailed(result HandshakeResult) {
	a.load().HandshakeFailed(result)
}
func (a *AtomicSessionObserver) RekeyStart()                   { a.load().RekeyStart() }
func (a *AtomicSessionObserver) RekeyComplete(d time.Duration) { a.load().RekeyComplete(d) }
func (a *AtomicSessionObserver) RecordSent(typ uint8, n int)   { a.load().RecordSent(typ, n) }
func (a *AtomicSessionObserver) RecordReceived(typ uint8, n int, result RecordResult) {
	a.load().RecordReceived(typ, n, result)
}
func (a *AtomicSessionObserver) SessionClosed() { a.load().SessionClosed() }
