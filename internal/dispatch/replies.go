package dispatch

import "callerbot/internal/domain"

// Fixed reply bodies. The channel applies emphasis according to Format.
const (
	ReplyNoNumber = "No phone number detected!"
	ReplyNoInfo   = "No information found for the given number!"
	ReplyError    = "Error occurred!"
	ReplyFallback = "An error occurred"

	ReplyWelcome = "*Welcome! ✨*\n_Send a phone number._"
	ReplyHelp    = "*@anzubo Project.*\n\n_This is a personal bot to serve as an alternative for caller ID notifications to the Truecaller app._"
)

// threaded builds a bold template reply that references the original message.
func threaded(msg domain.InboundMessage, body string) domain.OutboundMessage {
	return domain.OutboundMessage{
		Channel:          msg.Channel,
		ChatID:           msg.ChatID,
		Content:          body,
		Format:           domain.FormatBold,
		ReplyToMessageID: msg.MessageID,
	}
}

func nameReply(msg domain.InboundMessage, name string) domain.OutboundMessage {
	return domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: name,
		Format:  domain.FormatText,
	}
}

func commandReply(msg domain.InboundMessage, body string) domain.OutboundMessage {
	return domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: body,
		Format:  domain.FormatMarkdown,
	}
}

// commandReplies maps bot commands to their static replies.
var commandReplies = map[string]string{
	"start": ReplyWelcome,
	"help":  ReplyHelp,
}
