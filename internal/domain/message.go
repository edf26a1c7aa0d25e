package domain

import "time"

// Reply formats understood by channels.
const (
	FormatText     = "text"     // sent verbatim, no parse mode
	FormatBold     = "bold"     // whole body emphasized
	FormatMarkdown = "markdown" // body already carries markup
)

type InboundMessage struct {
	Channel      string
	ChatID       string
	MessageID    string
	SenderID     string
	SenderName   string
	SenderHandle string // optional
	Content      string // empty for non-text updates
	Command      string // set when the message is a bot command, without the slash
	Timestamp    time.Time
}

type OutboundMessage struct {
	Channel          string
	ChatID           string
	Content          string
	Format           string // text | bold | markdown
	ReplyToMessageID string // empty = not threaded
}

// Threaded reports whether the reply references the originating message.
func (m OutboundMessage) Threaded() bool {
	return m.ReplyToMessageID != ""
}
