package service

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func (n *Notifier) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	account, ok := n.accounts[chatID]
	if !ok {
		n.reply(chatID, "Чат не привязан ни к одному аккаунту")
		return
	}
	ctrl := n.controller()
	if ctrl == nil {
		n.reply(chatID, "Бот ещё запускается, попробуй позже")
		return
	}

	switch msg.Command() {
	case "positions":
		recs, err := ctrl.OpenPositions(ctx, account)
		if err != nil {
			n.log.Warn("[TG] positions failed", zap.String("account", account), zap.Error(err))
			n.reply(chatID, "❗️ Ошибка получения позиций")
			return
		}
		n.reply(chatID, formatPositions(recs))

	case "reset":
		symbol := strings.ToUpper(strings.TrimSpace(msg.CommandArguments()))
		if symbol == "" {
			n.reply(chatID, "Формат: /reset BTC-USDT-SWAP")
			return
		}
		if err := ctrl.ResetFailures(ctx, account, symbol); err != nil {
			n.log.Warn("[TG] reset failed", zap.String("account", account), zap.String("symbol", symbol), zap.Error(err))
			n.reply(chatID, "❗️ Не удалось сбросить счётчик ошибок")
			return
		}
		n.reply(chatID, "✅ Торговля по "+symbol+" снова включена")

	default:
		n.reply(chatID, "Команды: /positions, /reset <symbol>")
	}
}

// reply — ответ на команду, через ту же очередь.
func (n *Notifier) reply(chatID int64, text string) {
	n.enqueue(chatID, text, n.accounts[chatID])
}
