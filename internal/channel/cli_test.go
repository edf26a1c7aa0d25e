package channel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"callerbot/internal/domain"
)

type captureBus struct {
	mu        sync.Mutex
	published []domain.InboundMessage
	handlers  map[string]domain.OutboundHandler
}

func newCaptureBus() *captureBus {
	return &captureBus{handlers: make(map[string]domain.OutboundHandler)}
}

func (b *captureBus) Publish(msg domain.InboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, msg)
}

func (b *captureBus) Subscribe() <-chan domain.InboundMessage { return nil }

func (b *captureBus) SendOutbound(ctx context.Context, msg domain.OutboundMessage) error {
	b.mu.Lock()
	h := b.handlers[msg.Channel]
	b.mu.Unlock()
	return h(ctx, msg)
}

func (b *captureBus) OnOutbound(name string, handler domain.OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = handler
}

func (b *captureBus) Close() {}

func TestCLI_PublishesLinesUntilQuit(t *testing.T) {
	in := strings.NewReader("+91 98765 43210\n\n/start\nhello\n/quit\nafter quit\n")
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: in, Out: &out})
	bus := newCaptureBus()

	if err := cli.Start(context.Background(), bus); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(bus.published) != 3 {
		t.Fatalf("expected 3 published messages, got %d", len(bus.published))
	}
	first := bus.published[0]
	if first.Channel != "cli" || first.ChatID != "direct" || first.MessageID != "1" || first.Command != "" {
		t.Fatalf("unexpected first message: %+v", first)
	}
	if bus.published[1].Command != "start" || bus.published[1].MessageID != "2" {
		t.Fatalf("expected start command with id 2: %+v", bus.published[1])
	}
	if bus.published[2].Content != "hello" {
		t.Fatalf("unexpected content %q", bus.published[2].Content)
	}
	if _, ok := bus.handlers["cli"]; !ok {
		t.Fatal("outbound handler not registered")
	}
}

func TestCLI_CommandWithBotSuffix(t *testing.T) {
	cli := NewCLI(CLIConfig{Logger: testLogger(), Out: &bytes.Buffer{}})
	if msg := cli.inbound("/help@callerbot extra"); msg.Command != "help" {
		t.Fatalf("expected help, got %q", msg.Command)
	}
}

func TestCLI_PrintsReplies(t *testing.T) {
	var out bytes.Buffer
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader(""), Out: &out})
	bus := newCaptureBus()
	if err := cli.Start(context.Background(), bus); err != nil {
		t.Fatalf("Start: %v", err)
	}
	out.Reset()

	err := bus.SendOutbound(context.Background(), domain.OutboundMessage{
		Channel: "cli", Content: "No phone number detected!", Format: domain.FormatBold, ReplyToMessageID: "4",
	})
	if err != nil {
		t.Fatalf("SendOutbound: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "[reply to #4] No phone number detected!") {
		t.Fatalf("unexpected output %q", got)
	}

	out.Reset()
	_ = bus.SendOutbound(context.Background(), domain.OutboundMessage{Channel: "cli", Content: "Jane Roe"})
	if got := out.String(); strings.Contains(got, "reply to") || !strings.HasPrefix(got, "Jane Roe") {
		t.Fatalf("name reply should be unthreaded, got %q", got)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestCLI_WriteFailureIsTransportError(t *testing.T) {
	cli := NewCLI(CLIConfig{Logger: testLogger(), Out: failingWriter{}})
	err := cli.print(context.Background(), domain.OutboundMessage{Content: "x"})

	var de *domain.DeliveryError
	if !errors.As(err, &de) || de.Kind != domain.DeliveryTransport {
		t.Fatalf("expected transport delivery error, got %v", err)
	}
}
