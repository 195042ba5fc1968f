package fanout

import "testing"

func TestHubClientCountEmpty(t *testing.T) {
	h := NewHub()
	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}

func TestHubBroadcastDoesNotBlockWhenChannelFull(t *testing.T) {
	h := NewHub()
	// Fill the buffered channel without a Run() loop draining it, then
	// confirm one more Broadcast call still returns instead of blocking.
	for i := 0; i < cap(h.broadcast); i++ {
		h.broadcast <- []byte("x")
	}
	done := make(chan struct{})
	go func() {
		h.Broadcast([]byte("overflow"))
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done
}
