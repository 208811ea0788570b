package sptps

// replayWindow is the sliding-bitmap duplicate/late detector for datagram
// mode. late[] is a circular buffer of replaywin bytes covering sequence
// numbers [inseqno - replaywin*8, inseqno), where a *set* bit means "not
// yet received" (still outstanding/late) and a clear bit means "already
// received or never expected". replaywin == 0 disables replay checking
// entirely.
type replayWindow struct {
	replaywin int // configured window size in bytes; 0 disables checking
	inseqno   uint32
	late      []byte // len == replaywin
	farfuture int
	received  uint64 // post-handshake received-record counter
}

func newReplayWindow(size int) *replayWindow {
	w := &replayWindow{replaywin: size}
	if size > 0 {
		w.late = make([]byte, size)
	}
	return w
}

// check evaluates seqno against the window. When update is false (used by
// VerifyDatagram's early-reject path) the decision is computed but no state
// is mutated. Returns nil on acceptance, one of ErrFarFuture/ErrLateOrReplay
// on rejection. warnf, if non-nil, receives a diagnostic line when the
// window is wiped after a run of far-future packets and the intervening
// sequence numbers are written off as lost.
func (w *replayWindow) check(seqno uint32, update bool, warnf func(format string, args ...any)) error {
	if w.replaywin > 0 {
		if seqno != w.inseqno {
			if seqno >= w.inseqno+uint32(w.replaywin)*8 {
				// Prevent packets that jump far ahead of the queue from
				// causing many others to be dropped.
				farfuture := w.farfuture < w.replaywin>>2

				if update {
					w.farfuture++
				}

				if farfuture {
					return ErrFarFuture
				}

				// We've seen lots of these; consider the others lost.
				if update {
					if warnf != nil {
						warnf("lost %d packets", seqno-w.inseqno)
					}
					for i := range w.late {
						w.late[i] = 0xff
					}
				}
			} else if seqno < w.inseqno {
				// Farther in the past than the bitmap covers, or already
				// received: drop it.
				tooOld := w.inseqno >= uint32(w.replaywin)*8 && seqno < w.inseqno-uint32(w.replaywin)*8
				stillOutstanding := w.late[(seqno/8)%uint32(w.replaywin)]&(1<<(seqno%8)) != 0
				if tooOld || !stillOutstanding {
					return ErrLateOrReplay
				}
			} else if update {
				// We missed some packets in between; mark them late.
				for i := w.inseqno; i < seqno; i++ {
					w.late[(i/8)%uint32(w.replaywin)] |= 1 << (i % 8)
				}
			}
		}

		if update {
			// Mark the current packet as not being late.
			w.late[(seqno/8)%uint32(w.replaywin)] &^= 1 << (seqno % 8)
			w.farfuture = 0
		}
	}

	if update {
		if seqno >= w.inseqno {
			w.inseqno = seqno + 1
		}
		if w.inseqno == 0 {
			w.received = 0
		} else {
			w.received++
		}
	}

	return nil
}
