package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryPublishDeliversToSubscriber(t *testing.T) {
	b := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub, err := b.Subscribe(ctx, "job:1")
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	if err := b.Publish(ctx, Message{Channel: "job:1", Kind: "status", Payload: "running"}); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-ch:
		if msg.Kind != "status" || msg.Payload != "running" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryPublishDoesNotCrossChannels(t *testing.T) {
	b := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chA, unsubA, _ := b.Subscribe(ctx, "job:a")
	defer unsubA()
	chB, unsubB, _ := b.Subscribe(ctx, "job:b")
	defer unsubB()

	_ = b.Publish(ctx, Message{Channel: "job:a", Kind: "status"})

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("expected job:a subscriber to receive message")
	}
	select {
	case <-chB:
		t.Fatal("job:b subscriber should not receive job:a's message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryUnsubscribeClosesChannel(t *testing.T) {
	b := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub, _ := b.Subscribe(ctx, "job:1")
	unsub()

	_, ok := <-ch
	if ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestMemorySubscribeUnsubscribesOnContextCancel(t *testing.T) {
	b := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, _ := b.Subscribe(ctx, "job:1")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed after context cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close after context cancel")
	}
}

func TestNewRedisRejectsEmptyAddr(t *testing.T) {
	if _, err := NewRedis("", ""); err == nil {
		t.Fatal("expected error for empty redis addr")
	}
}
