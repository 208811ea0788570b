package fserrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/floegence/sptps-go/sptps"
)

func TestClassifyHandshakeCode(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{context.DeadlineExceeded, CodeTimeout},
		{context.Canceled, CodeCanceled},
		{sptps.ErrBadVersion, CodeBadVersion},
		{sptps.ErrNoCommonSuite, CodeNoCommonSuite},
		{sptps.ErrBadSignature, CodeBadSignature},
		{fmt.Errorf("wrapped: %w", sptps.ErrECDHFailed), CodeECDHFailed},
		{sptps.ErrPRFFailed, CodeKeyDeriveFailed},
		{sptps.ErrCipherInitFailed, CodeCipherInitFailed},
		{sptps.ErrInvalidState, CodeInvalidState},
		{errors.New("something else"), CodeHandshakeFailed},
	}
	for _, tc := range cases {
		if got := ClassifyHandshakeCode(tc.err); got != tc.want {
			t.Errorf("ClassifyHandshakeCode(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestClassifyRecordCode(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{sptps.ErrDecryptFailed, CodeDecryptFailed},
		{fmt.Errorf("context: %w", sptps.ErrLateOrReplay), CodeReplay},
		{sptps.ErrFarFuture, CodeFarFuture},
		{sptps.ErrShortPacket, CodeShortOrMalformed},
		{sptps.ErrBadLength, CodeShortOrMalformed},
		{sptps.ErrInvalidRecordType, CodeInvalidState},
		{errors.New("something else"), CodeRecordFailed},
	}
	for _, tc := range cases {
		if got := ClassifyRecordCode(tc.err); got != tc.want {
			t.Errorf("ClassifyRecordCode(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestErrorFormatsAndUnwraps(t *testing.T) {
	inner := sptps.ErrBadSignature
	err := Wrap(PathWebSocket, StageHandshake, CodeBadSignature, inner)

	if !errors.Is(err, inner) {
		t.Fatalf("wrapped error should unwrap to the sptps sentinel")
	}

	var fe *Error
	if !errors.As(err, &fe) {
		t.Fatalf("expected a *fserrors.Error")
	}
	if fe.Path != PathWebSocket || fe.Stage != StageHandshake || fe.Code != CodeBadSignature {
		t.Fatalf("unexpected fields: %+v", fe)
	}

	msg := err.Error()
	if msg == "" || msg == "<nil>" {
		t.Fatalf("unexpected message %q", msg)
	}
}
