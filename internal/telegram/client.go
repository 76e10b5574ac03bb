// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/eventdrift/internal/config"
	"github.com/rewired-gh/eventdrift/internal/logger"
	"github.com/rewired-gh/eventdrift/internal/models"
)

const parseMode = "MarkdownV2"

// Client sends alerts to a single chat and answers bot commands.
type Client struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	retries int
	backoff time.Duration
}

// NewClient validates cfg and connects to the Bot API.
func NewClient(cfg config.TelegramConfig) (*Client, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID %q: %w", cfg.ChatID, err)
	}

	c := &Client{chatID: chatID, retries: cfg.MaxRetries, backoff: cfg.RetryDelayBase}
	if c.retries <= 0 {
		c.retries = 3
	}
	if c.backoff <= 0 {
		c.backoff = time.Second
	}

	if c.bot, err = tgbotapi.NewBotAPI(cfg.BotToken); err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return c, nil
}

// ListenForCommands answers bot commands in the background until ctx is
// cancelled. records may be nil, which disables /record.
func (c *Client) ListenForCommands(ctx context.Context, stats StatsReader, records RecordLookup) {
	h := &commandHandler{stats: stats, records: records}

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := c.bot.GetUpdatesChan(cfg)

	go func() {
		for {
			var update tgbotapi.Update
			var ok bool
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok = <-updates:
				if !ok {
					return
				}
			}

			msg := update.Message
			if msg == nil || !msg.IsCommand() {
				continue
			}
			text, mode, handled := h.reply(msg.Command(), msg.CommandArguments())
			if !handled {
				continue
			}
			out := tgbotapi.NewMessage(msg.Chat.ID, text)
			out.ParseMode = mode
			if _, err := c.bot.Send(out); err != nil {
				logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
			}
		}
	}()
}

// deliver sends text to the configured chat, backing off linearly between attempts.
func (c *Client) deliver(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = parseMode

	var err error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if _, err = c.bot.Send(msg); err == nil {
			return nil
		}
		logger.Debug("Telegram send attempt %d/%d failed: %v", attempt, c.retries, err)
		if attempt < c.retries {
			time.Sleep(c.backoff * time.Duration(attempt))
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", c.retries, err)
}

// SendError reports a detection failure. The monitor only calls it for the
// first failure of a run of consecutive ones.
func (c *Client) SendError(pollErr error) error {
	return c.deliver(fmt.Sprintf("⚠️ *Detection error*\n`%s`", escapeMarkdownV2(pollErr.Error())))
}

// SendRecovery reports that detection works again.
func (c *Client) SendRecovery(failureCount int) error {
	return c.deliver(fmt.Sprintf("✅ *Detection recovered* after %d consecutive failure\\(s\\)", failureCount))
}

// SendEventAlert announces a newly detected event with the current estimate.
func (c *Client) SendEventAlert(event models.Event, snap models.Snapshot) error {
	return c.deliver(formatEventAlert(event, snap))
}

// SendOutcome reports a finished session and the updated statistics.
func (c *Client) SendOutcome(result models.TrackingResult, snap models.Snapshot) error {
	return c.deliver(formatOutcome(result, snap))
}

func formatEventAlert(event models.Event, snap models.Snapshot) string {
	var b strings.Builder
	b.WriteString("🚨 *New post detected*\n\n")
	b.WriteString(fmt.Sprintf("📅 %s\n", escapeMarkdownV2(event.Time().Format(timeLayout))))
	if event.Content != "" {
		b.WriteString(fmt.Sprintf("💬 %s\n", escapeMarkdownV2(event.Content)))
	}
	b.WriteString(fmt.Sprintf("\nEstimated success rate: *%s* over %d events\n", percent(snap.SuccessRate), snap.Total))
	return b.String()
}

func formatOutcome(result models.TrackingResult, snap models.Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s *Session %s*\n", outcomeEmoji(result.Outcome), escapeMarkdownV2(string(result.Outcome))))
	b.WriteString(fmt.Sprintf("Event: %s\n", escapeMarkdownV2(result.Event.Time().Format(timeLayout))))
	if result.Outcome != models.OutcomeUnknown {
		base := escapeMarkdownV2(fmt.Sprintf("%.2f", result.BasePrice))
		b.WriteString(fmt.Sprintf("Change: *%s* from %s\n", signedPercent(result.FinalRatio), base))
	}
	b.WriteString(fmt.Sprintf("Samples: %d ok, %d failed\n\n", result.Samples, result.Failures))
	b.WriteString(formatSnapshot(snap))
	return b.String()
}

func formatSnapshot(snap models.Snapshot) string {
	return fmt.Sprintf("📊 Success rate *%s* \\(%d/%d, %d unknown\\), mean change %s",
		percent(snap.SuccessRate), snap.SuccessCount, snap.Total, snap.UnknownCount, signedPercent(snap.MeanRatio))
}

const timeLayout = "2006-01-02 15:04:05"

func outcomeEmoji(o models.Outcome) string {
	switch o {
	case models.OutcomeUp:
		return "📈"
	case models.OutcomeDown:
		return "📉"
	default:
		return "❔"
	}
}

func percent(ratio float64) string {
	return escapeMarkdownV2(fmt.Sprintf("%.3f%%", ratio*100))
}

func signedPercent(ratio float64) string {
	return escapeMarkdownV2(fmt.Sprintf("%+.3f%%", ratio*100))
}

var markdownV2Escaper = strings.NewReplacer(
	`_`, `\_`, `*`, `\*`, `[`, `\[`, `]`, `\]`, `(`, `\(`, `)`, `\)`,
	`~`, `\~`, "`", "\\`", `>`, `\>`, `#`, `\#`, `+`, `\+`, `-`, `\-`,
	`=`, `\=`, `|`, `\|`, `{`, `\{`, `}`, `\}`, `.`, `\.`, `!`, `\!`,
)

// escapeMarkdownV2 escapes every character MarkdownV2 reserves outside entities.
func escapeMarkdownV2(text string) string {
	return markdownV2Escaper.Replace(text)
}
