package fserrors

import (
	"context"
	"errors"

	"github.com/floegence/sptps-go/sptps"
)

// ClassifyDialCode maps a transport-dial-layer error to a stable Code.
func ClassifyDialCode(err error) Code {
	return classifyContextCode(err, CodeDialFailed)
}

// ClassifyHandshakeCode maps a sptps handshake error to a stable Code.
func ClassifyHandshakeCode(err error) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, sptps.ErrBadVersion):
		return CodeBadVersion
	case errors.Is(err, sptps.ErrNoCommonSuite):
		return CodeNoCommonSuite
	case errors.Is(err, sptps.ErrBadSignature):
		return CodeBadSignature
	case errors.Is(err, sptps.ErrECDHFailed):
		return CodeECDHFailed
	case errors.Is(err, sptps.ErrPRFFailed):
		return CodeKeyDeriveFailed
	case errors.Is(err, sptps.ErrCipherInitFailed):
		return CodeCipherInitFailed
	case errors.Is(err, sptps.ErrInvalidState):
		return CodeInvalidState
	default:
		return CodeHandshakeFailed
	}
}

// ClassifyRecordCode maps a sptps record decode/decrypt error to a stable Code.
func ClassifyRecordCode(err error) Code {
	switch {
	case errors.Is(err, sptps.ErrDecryptFailed):
		return CodeDecryptFailed
	case errors.Is(err, sptps.ErrLateOrReplay):
		return CodeReplay
	case errors.Is(err, sptps.ErrFarFuture):
		return CodeFarFuture
	case errors.Is(err, sptps.ErrShortPacket), errors.Is(err, sptps.ErrBadLength):
		return CodeShortOrMalformed
	case errors.Is(err, sptps.ErrInvalidRecordType), errors.Is(err, sptps.ErrInvalidState):
		return CodeInvalidState
	default:
		return CodeRecordFailed
	}
}

func classifyContextCode(err error, fallback Code) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		return fallback
	}
}
