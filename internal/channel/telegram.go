package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"callerbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram error code for "Forbidden": bot blocked, kicked or user deactivated.
const telegramForbidden = 403

// Telegram implements domain.Channel for a Telegram bot using long polling.
type Telegram struct {
	token       string
	allowFrom   []int64 // Allowed user IDs (empty = allow all)
	parseMode   string
	pollTimeout int

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token       string
	AllowFrom   []string // User IDs as strings
	ParseMode   string
	PollTimeout int
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	return &Telegram{
		token:       cfg.Token,
		allowFrom:   allowed,
		parseMode:   cfg.ParseMode,
		pollTimeout: cfg.PollTimeout,
		logger:      cfg.Logger,
	}
}

var _ domain.Channel = (*Telegram)(nil)

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound(t.Name(), t.deliver)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.pollTimeout
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil || msg.Chat == nil {
		return
	}

	if msg.From != nil && !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		_, _ = t.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, "⛔ Unauthorized. Your user ID is not in the allow list."))
		return
	}

	t.bus.Publish(toInbound(msg))
}

// toInbound maps a Telegram message or channel post onto the domain message.
func toInbound(msg *tgbotapi.Message) domain.InboundMessage {
	in := domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID),
		Content:   msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		in.SenderID = strconv.FormatInt(msg.From.ID, 10)
		in.SenderName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		in.SenderHandle = msg.From.UserName
	} else {
		in.SenderID = in.ChatID
	}
	if in.SenderName == "" {
		in.SenderName = msg.Chat.Title
	}
	if msg.IsCommand() {
		in.Command = msg.Command()
	}
	return in
}

// deliver sends one reply. A Markdown entity error is retried once as plain
// text; every other failure is returned as a *domain.DeliveryError.
func (t *Telegram) deliver(ctx context.Context, out domain.OutboundMessage) error {
	chatID, err := strconv.ParseInt(out.ChatID, 10, 64)
	if err != nil {
		return &domain.DeliveryError{Kind: domain.DeliveryUnknown, Message: "invalid chat id " + out.ChatID, Err: err}
	}

	msg := t.buildMessage(chatID, out)
	_, err = t.bot.Send(msg)
	if err != nil && msg.ParseMode != "" && isEntityParseError(err) {
		t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err, "parseMode", msg.ParseMode)
		plain := msg
		plain.Text = out.Content
		plain.ParseMode = ""
		_, err = t.bot.Send(plain)
	}
	return classifySendError(err)
}

func (t *Telegram) buildMessage(chatID int64, out domain.OutboundMessage) tgbotapi.MessageConfig {
	text, parseMode := renderText(out, t.parseMode)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	if out.ReplyToMessageID != "" {
		if id, err := strconv.Atoi(out.ReplyToMessageID); err == nil {
			msg.ReplyToMessageID = id
		}
	}
	return msg
}

// renderText applies the reply format for the configured parse mode.
func renderText(out domain.OutboundMessage, parseMode string) (string, string) {
	switch out.Format {
	case domain.FormatBold:
		escaped := tgbotapi.EscapeText(parseMode, out.Content)
		if parseMode == tgbotapi.ModeHTML {
			return "<b>" + escaped + "</b>", parseMode
		}
		return "*" + escaped + "*", parseMode
	case domain.FormatMarkdown:
		return out.Content, tgbotapi.ModeMarkdown
	default:
		return out.Content, ""
	}
}

// classifySendError maps Telegram send errors onto delivery kinds by error
// code rather than by description text.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	if code, message, ok := apiError(err); ok {
		kind := domain.DeliveryRejected
		if code == telegramForbidden {
			kind = domain.DeliveryBlocked
		}
		return &domain.DeliveryError{Kind: kind, Code: code, Message: message, Err: err}
	}
	return &domain.DeliveryError{Kind: domain.DeliveryTransport, Message: err.Error(), Err: err}
}

func apiError(err error) (int, string, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, ptr.Message, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val.Code, val.Message, true
	}
	return 0, "", false
}

func isEntityParseError(err error) bool {
	code, message, ok := apiError(err)
	return ok && code == 400 && strings.Contains(message, "can't parse entities")
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}
