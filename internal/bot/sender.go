package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// MessageAPI is the sending half of *tgbotapi.BotAPI.
type MessageAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotSender paces outgoing messages to stay under Telegram's global send
// limit.
type BotSender struct {
	api     MessageAPI
	limiter *rate.Limiter
}

func NewSender(api MessageAPI, perSecond float64) *BotSender {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &BotSender{api: api, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (s *BotSender) Send(ctx context.Context, chatID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	if _, err := s.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}
