package alert

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram rejects messages over 4096 characters.
const maxTelegramText = 4000

// TelegramBot is the subset of the bot API the poster needs.
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotFactory creates bots; tests substitute a fake.
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var DefaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

type TelegramPoster struct {
	bot    TelegramBot
	chatID int64
}

func NewTelegramPoster(token, chatID string, factory BotFactory) (*TelegramPoster, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	if factory == nil {
		factory = DefaultBotFactory
	}
	bot, err := factory(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramPoster{bot: bot, chatID: id}, nil
}

func (p *TelegramPoster) Post(ctx context.Context, msg Message) error {
	text := FormatMessage(msg)
	for len(text) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := text
		if len(chunk) > maxTelegramText {
			if idx := strings.LastIndex(chunk[:maxTelegramText], "\n"); idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxTelegramText]
			}
		}
		text = strings.TrimPrefix(text[len(chunk):], "\n")

		if _, err := p.bot.Send(tgbotapi.NewMessage(p.chatID, chunk)); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// FormatMessage renders the plain-text body sent to operators.
func FormatMessage(msg Message) string {
	var b strings.Builder
	headline := "Action needs confirmation"
	switch {
	case msg.BlockedBy != "":
		headline = "Action blocked by " + msg.BlockedBy
	case msg.Decision == "block":
		headline = "Action blocked"
	}
	fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(string(msg.Level)), headline)
	fmt.Fprintf(&b, "Action: %s\n", msg.Action)
	if msg.Target != "" {
		fmt.Fprintf(&b, "Target: %s\n", msg.Target)
	}
	if msg.Category != "" {
		fmt.Fprintf(&b, "Risk: %d (%s)\n", msg.RiskScore, msg.Category)
	} else {
		fmt.Fprintf(&b, "Risk: %d\n", msg.RiskScore)
	}
	if msg.ThreatID != "" {
		fmt.Fprintf(&b, "Threat: %s\n", msg.ThreatID)
	}
	if msg.Reasoning != "" {
		fmt.Fprintf(&b, "Reason: %s\n", msg.Reasoning)
	}
	fmt.Fprintf(&b, "Request: %s", msg.RequestID)
	return b.String()
}
