package telegram

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rewired-gh/eventdrift/internal/models"
	"github.com/rewired-gh/eventdrift/internal/storage"
)

// historyLimit caps how many entries /history lists.
const historyLimit = 5

// StatsReader is the read side of the stats store.
type StatsReader interface {
	Snapshot() models.Snapshot
	History() []models.Record
}

// RecordLookup finds a persisted outcome by session ID.
type RecordLookup interface {
	GetRecord(id string) (*models.Record, error)
}

type commandHandler struct {
	stats   StatsReader
	records RecordLookup
}

// reply builds the answer to a bot command. handled is false for commands
// the bot does not know, which are ignored.
func (h *commandHandler) reply(command, args string) (text, mode string, handled bool) {
	switch command {
	case "ping":
		return "Pong", "", true
	case "stats":
		return formatSnapshot(h.stats.Snapshot()), parseMode, true
	case "history":
		return formatHistory(h.stats.History(), historyLimit), parseMode, true
	case "record":
		return h.lookup(strings.TrimSpace(args)), parseMode, true
	}
	return "", "", false
}

func (h *commandHandler) lookup(id string) string {
	if h.records == nil {
		return escapeMarkdownV2("Persistence is disabled.")
	}
	if id == "" {
		return escapeMarkdownV2("Usage: /record <session id>")
	}
	rec, err := h.records.GetRecord(id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Sprintf("No record `%s`", escapeMarkdownV2(id))
	}
	if err != nil {
		return fmt.Sprintf("⚠️ Lookup failed: %s", escapeMarkdownV2(err.Error()))
	}
	return formatRecord(*rec)
}

// formatHistory lists the newest entries first.
func formatHistory(history []models.Record, limit int) string {
	if len(history) == 0 {
		return escapeMarkdownV2("No outcomes recorded yet.")
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🗂 *Last %d of %d outcomes*\n", min(limit, len(history)), len(history)))
	for i := len(history) - 1; i >= 0 && len(history)-i <= limit; i-- {
		rec := history[i]
		b.WriteString(fmt.Sprintf("%s %s %s `%s`\n",
			outcomeEmoji(rec.Outcome),
			escapeMarkdownV2(rec.Event.Time().Format(timeLayout)),
			recordChange(rec),
			escapeMarkdownV2(rec.ID)))
	}
	return b.String()
}

func formatRecord(rec models.Record) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s *Outcome %s*\n", outcomeEmoji(rec.Outcome), escapeMarkdownV2(string(rec.Outcome))))
	b.WriteString(fmt.Sprintf("Event: %s\n", escapeMarkdownV2(rec.Event.Time().Format(timeLayout))))
	if rec.Event.Content != "" {
		b.WriteString(fmt.Sprintf("💬 %s\n", escapeMarkdownV2(rec.Event.Content)))
	}
	b.WriteString(fmt.Sprintf("Change: %s from %s\n", recordChange(rec), escapeMarkdownV2(fmt.Sprintf("%.2f", rec.BasePrice))))
	b.WriteString(fmt.Sprintf("Samples: %d ok, %d failed\n", rec.Samples, rec.Failures))
	b.WriteString(fmt.Sprintf("Recorded: %s", escapeMarkdownV2(rec.RecordedAt.Format(timeLayout))))
	return b.String()
}

func recordChange(rec models.Record) string {
	if rec.Outcome == models.OutcomeUnknown {
		return escapeMarkdownV2("n/a")
	}
	return signedPercent(rec.FinalRatio)
}
