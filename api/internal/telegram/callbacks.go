package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (r *Router) handleCallback(ctx context.Context, cq tgbotapi.CallbackQuery) {
	// убираем "часики" на кнопке
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cq.ID, ""))
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	switch cq.Data {
	case cbMore:
		r.more(ctx, cq.Message.Chat.ID)
	default:
		r.Log.Debug("unknown callback", "data", cq.Data)
	}
}
