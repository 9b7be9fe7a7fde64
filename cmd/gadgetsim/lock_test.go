package main

import (
	"testing"

	"github.com/gofrs/flock"
)

func newTestLock(t *testing.T, path string) (release func()) {
	t.Helper()
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil || !ok {
		t.Fatalf("lock %s: ok=%v err=%v", path, ok, err)
	}
	return func() { _ = l.Unlock() }
}
