package asr

import (
	"errors"
	"os"
)

// errTransient/errPermanent classify HTTP responses for Session/PostProcessor's
// retry-with-backoff policy: 5xx and network errors are transient and
// retried; other non-2xx statuses are permanent.
var (
	errTransient = errors.New("asr: transient failure")
	errPermanent = errors.New("asr: permanent failure")
)

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, errTransient)
}

func tempFile(pattern string) (*os.File, error) {
	return os.CreateTemp("", pattern)
}

func removeTempFile(path string) {
	_ = os.Remove(path)
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
