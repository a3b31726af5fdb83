package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Telegram posts milestones to a chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{bot: bot, chatID: chatID, logger: logger}, nil
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Warn("telegram send failed", zap.Error(err))
	}
}

func (t *Telegram) GroupDone(group string, processed, skipped int) {
	t.send(fmt.Sprintf("Group %s finished: %d processed, %d skipped.", group, processed, skipped))
}

func (t *Telegram) RunAborted(group, siren, reason string) {
	t.send(fmt.Sprintf("Run aborted in group %s at %s: %s", group, siren, reason))
}

func (t *Telegram) BatchDone(groups int) {
	t.send(fmt.Sprintf("Batch finished: %d group(s) processed.", groups))
}
