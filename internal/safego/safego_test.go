package safego

import (
	"testing"
	"time"
)

func TestGo_RunsFunction(t *testing.T) {
	done := make(chan struct{})
	Go(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("function was not executed")
	}
}

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go(func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
		// The panic must not propagate to the test process.
	case <-time.After(time.Second):
		t.Fatal("panicking function did not complete")
	}
}
