package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"callerbot/internal/domain"
)

// CLI implements domain.Channel for an interactive terminal session. Each
// line typed is published as one inbound message.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader

	outMu sync.Mutex
	out   io.Writer

	nextID int
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

var _ domain.Channel = (*CLI)(nil)

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL and blocks until EOF, /quit or context cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound(c.Name(), c.print)

	c.write("callerbot CLI. Type a phone number and press Enter. Type /quit to exit.\n> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.write("> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.bus.Publish(c.inbound(line))
	}
}

// inbound builds the message for one typed line. A leading slash marks a
// command, mirroring Telegram's bot_command entity.
func (c *CLI) inbound(line string) domain.InboundMessage {
	c.nextID++
	msg := domain.InboundMessage{
		Channel:    "cli",
		ChatID:     "direct",
		MessageID:  strconv.Itoa(c.nextID),
		SenderID:   "local",
		SenderName: "local",
		Content:    line,
		Timestamp:  time.Now(),
	}
	if strings.HasPrefix(line, "/") {
		cmd := strings.TrimPrefix(strings.Fields(line)[0], "/")
		if at := strings.Index(cmd, "@"); at >= 0 {
			cmd = cmd[:at]
		}
		msg.Command = cmd
	}
	return msg
}

func (c *CLI) print(_ context.Context, msg domain.OutboundMessage) error {
	var b strings.Builder
	if msg.Threaded() {
		fmt.Fprintf(&b, "[reply to #%s] ", msg.ReplyToMessageID)
	}
	b.WriteString(msg.Content)
	b.WriteString("\n> ")
	return c.write(b.String())
}

func (c *CLI) write(s string) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if _, err := io.WriteString(c.out, s); err != nil {
		return &domain.DeliveryError{Kind: domain.DeliveryTransport, Message: "write to terminal", Err: err}
	}
	return nil
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
