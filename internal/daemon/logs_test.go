package daemon

import (
	"testing"
	"time"
)

func TestLogBroadcasterDefaultHistorySize(t *testing.T) {
	// Zero or negative should default to 1000
	lb := NewLogBroadcaster(0)
	if lb.maxHist != 1000 {
		t.Errorf("Expected default maxHist=1000, got %d", lb.maxHist)
	}

	lb = NewLogBroadcaster(-1)
	if lb.maxHist != 1000 {
		t.Errorf("Expected default maxHist=1000 for negative value, got %d", lb.maxHist)
	}
}

func TestLogBroadcasterSubscribeAndBroadcast(t *testing.T) {
	lb := NewLogBroadcaster(100)

	ch := lb.Subscribe()
	defer lb.Unsubscribe(ch)

	lb.Broadcast("hello")

	select {
	case msg := <-ch:
		if msg != "hello" {
			t.Errorf("Expected %q, got %q", "hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for broadcast message")
	}
}

func TestLogBroadcasterMultipleSubscribers(t *testing.T) {
	lb := NewLogBroadcaster(100)

	ch1 := lb.Subscribe()
	defer lb.Unsubscribe(ch1)
	ch2 := lb.Subscribe()
	defer lb.Unsubscribe(ch2)

	lb.Broadcast("test")

	for i, ch := range []chan string{ch1, ch2} {
		select {
		case msg := <-ch:
			if msg != "test" {
				t.Errorf("Subscriber %d: expected %q, got %q", i, "test", msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d: timed out", i)
		}
	}
}

func TestLogBroadcasterUnsubscribe(t *testing.T) {
	lb := NewLogBroadcaster(100)

	ch := lb.Subscribe()
	lb.Unsubscribe(ch)

	// Channel should be closed
	_, ok := <-ch
	if ok {
		t.Error("Expected channel to be closed after unsubscribe")
	}
}

func TestLogBroadcasterSubscribeWithHistory(t *testing.T) {
	lb := NewLogBroadcaster(100)

	lb.Broadcast("msg1")
	lb.Broadcast("msg2")
	lb.Broadcast("msg3")

	ch, history := lb.SubscribeWithHistory(2)
	defer lb.Unsubscribe(ch)

	if len(history) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(history))
	}
	if history[0] != "msg2" {
		t.Errorf("Expected first history entry %q, got %q", "msg2", history[0])
	}
	if history[1] != "msg3" {
		t.Errorf("Expected second history entry %q, got %q", "msg3", history[1])
	}
}

func TestLogBroadcasterSubscribeWithHistoryMoreThanAvailable(t *testing.T) {
	lb := NewLogBroadcaster(100)

	lb.Broadcast("only one")

	ch, history := lb.SubscribeWithHistory(10)
	defer lb.Unsubscribe(ch)

	if len(history) != 1 {
		t.Fatalf("Expected 1 history entry, got %d", len(history))
	}
	if history[0] != "only one" {
		t.Errorf("Expected %q, got %q", "only one", history[0])
	}
}

func TestLogBroadcasterHistoryRingBuffer(t *testing.T) {
	lb := NewLogBroadcaster(3) // Only 3 entries max

	lb.Broadcast("a")
	lb.Broadcast("b")
	lb.Broadcast("c")
	lb.Broadcast("d") // Pushes out "a"

	ch, history := lb.SubscribeWithHistory(10)
	defer lb.Unsubscribe(ch)

	if len(history) != 3 {
		t.Fatalf("Expected 3 history entries, got %d", len(history))
	}
	if history[0] != "b" || history[1] != "c" || history[2] != "d" {
		t.Errorf("Expected [b,c,d], got %v", history)
	}
}

func TestLogWriterWrite(t *testing.T) {
	lb := NewLogBroadcaster(100)
	lw := &LogWriter{broadcaster: lb}

	ch := lb.Subscribe()
	defer lb.Unsubscribe(ch)

	msg := "test log message\n"
	n, err := lw.Write([]byte(msg))
	if err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if n != len(msg) {
		t.Errorf("Write() returned %d, want %d", n, len(msg))
	}

	select {
	case got := <-ch:
		if got != msg {
			t.Errorf("Expected broadcast %q, got %q", msg, got)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for broadcast from LogWriter")
	}
}

func TestLogBroadcasterSlowSubscriberDoesNotBlock(t *testing.T) {
	lb := NewLogBroadcaster(100)

	// Never drained: its buffer fills and further broadcasts skip it
	ch := lb.Subscribe()
	defer lb.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			lb.Broadcast("spam")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
}
