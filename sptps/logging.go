package sptps

import (
	"fmt"
	"os"
)

// LogFunc receives a diagnostic line for a session: the errno-equivalent
// (zero for warnings, non-zero for the error that caused an operation to
// fail) and a fully formatted message.
type LogFunc func(s *Session, code int, msg string)

// LogStderr writes every log line to os.Stderr. It is the package default.
func LogStderr(s *Session, code int, msg string) {
	if code != 0 {
		fmt.Fprintf(os.Stderr, "sptps: %s (errno=%d)\n", msg, code)
		return
	}
	fmt.Fprintf(os.Stderr, "sptps: %s\n", msg)
}

// LogQuiet discards every log line.
func LogQuiet(*Session, int, string) {}

// logHook is the process-wide log sink; SetLogFunc replaces it.
var logHook LogFunc = LogStderr

// SetLogFunc installs the process-wide log sink used by every Session that
// does not set Params.Log. Passing nil restores LogStderr.
func SetLogFunc(f LogFunc) {
	if f == nil {
		f = LogStderr
	}
	logHook = f
}

func (s *Session) logf(code int, format string, args ...any) {
	log := s.log
	if log == nil {
		log = logHook
	}
	log(s, code, fmt.Sprintf(format, args...))
}

func (s *Session) warnf(format string, args ...any) {
	s.logf(0, format, args...)
}
