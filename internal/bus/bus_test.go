package bus

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"callerbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	b.Publish(domain.InboundMessage{Channel: "telegram", ChatID: "1", Content: "hi"})

	msg := <-b.Subscribe()
	if msg.Content != "hi" {
		t.Fatalf("expected hi, got %q", msg.Content)
	}
}

func TestBus_SendOutboundRoutesByChannel(t *testing.T) {
	b := New(1, testLogger())
	var got domain.OutboundMessage
	b.OnOutbound("cli", func(ctx context.Context, msg domain.OutboundMessage) error {
		got = msg
		return nil
	})

	if err := b.SendOutbound(context.Background(), domain.OutboundMessage{Channel: "cli", Content: "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "ok" {
		t.Fatalf("handler not called, got %+v", got)
	}
}

func TestBus_SendOutboundPropagatesHandlerError(t *testing.T) {
	b := New(1, testLogger())
	want := errors.New("boom")
	b.OnOutbound("cli", func(ctx context.Context, msg domain.OutboundMessage) error { return want })

	if err := b.SendOutbound(context.Background(), domain.OutboundMessage{Channel: "cli"}); !errors.Is(err, want) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestBus_SendOutboundUnknownChannel(t *testing.T) {
	b := New(1, testLogger())
	if err := b.SendOutbound(context.Background(), domain.OutboundMessage{Channel: "nowhere"}); err == nil {
		t.Fatal("expected error for unregistered channel")
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close() // idempotent

	b.Publish(domain.InboundMessage{Channel: "cli"})
	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("expected closed inbound channel")
	}
}
