package audit

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"opguard/internal/domain"
)

// Sender is the part of tgbotapi.BotAPI used for alerts.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramOutput forwards selected record kinds to an operator chat.
type TelegramOutput struct {
	sender  Sender
	chatID  int64
	kinds   map[domain.AuditKind]bool
	limiter *RateLimiter
}

// NewTelegramOutput connects to the Bot API with token. An empty kinds list
// forwards every kind.
func NewTelegramOutput(token string, chatID int64, kinds []domain.AuditKind) (*TelegramOutput, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: writeTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramOutputWithSender(bot, chatID, kinds), nil
}

func NewTelegramOutputWithSender(sender Sender, chatID int64, kinds []domain.AuditKind) *TelegramOutput {
	o := &TelegramOutput{sender: sender, chatID: chatID}
	if len(kinds) > 0 {
		o.kinds = make(map[domain.AuditKind]bool, len(kinds))
		for _, k := range kinds {
			o.kinds[k] = true
		}
	}
	return o
}

// WithLimiter throttles sends through rl. Records over the limit fail with
// ErrRateLimited.
func (o *TelegramOutput) WithLimiter(rl *RateLimiter) *TelegramOutput {
	o.limiter = rl
	return o
}

func (o *TelegramOutput) Name() string { return "telegram" }

// Wants reports whether rec's kind is forwarded.
func (o *TelegramOutput) Wants(kind domain.AuditKind) bool {
	return o.kinds == nil || o.kinds[kind]
}

// Write sends rec to the chat. It returns when ctx is done even if the send
// is still in flight.
func (o *TelegramOutput) Write(ctx context.Context, rec domain.AuditRecord) error {
	if !o.Wants(rec.Kind) {
		return nil
	}
	if o.limiter != nil && !o.limiter.Allow() {
		return ErrRateLimited
	}
	msg := tgbotapi.NewMessage(o.chatID, Format(rec))
	msg.DisableWebPagePreview = true
	done := make(chan error, 1)
	go func() {
		_, err := o.sender.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *TelegramOutput) Close() error { return nil }
