package telegram

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotClient is the subset of *bot.Bot the adapter depends on, kept as
// an interface so tests can substitute a fake without a live token.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	GetMe(ctx context.Context) (*models.User, error)
	RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc)
	Start(ctx context.Context)
}

type realBotClient struct{ bot *bot.Bot }

func newRealBotClient(b *bot.Bot) BotClient { return &realBotClient{bot: b} }

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) GetMe(ctx context.Context) (*models.User, error) {
	return r.bot.GetMe(ctx)
}

func (r *realBotClient) RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc) {
	r.bot.RegisterHandler(handlerType, pattern, matchType, handler)
}

func (r *realBotClient) Start(ctx context.Context) { r.bot.Start(ctx) }
