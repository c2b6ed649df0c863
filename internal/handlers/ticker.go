package handlers

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TickInterval is how often open challenge screens recompute their nudge buttons.
const TickInterval = time.Minute

// RunTicker refreshes open challenge screens every interval until ctx is done.
func (h *BotHandler) RunTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Tick()
		}
	}
}

// Tick edits the keyboard of every open challenge screen whose nudge captions changed.
// Cached details are used, so a tick costs no requests unless a mutation invalidated them.
func (h *BotHandler) Tick() {
	for _, sc := range h.openDetails() {
		h.refresh(sc)
	}
}

func (h *BotHandler) openDetails() []*screen {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*screen
	for _, sc := range h.screens {
		if sc.kind == screenDetail && sc.messageID != 0 {
			out = append(out, sc)
		}
	}
	return out
}

func (h *BotHandler) refresh(sc *screen) {
	ctx := sc.ctx
	sess, err := h.service.Session(ctx, sc.from)
	if err != nil {
		return
	}
	detail, err := sess.Detail(ctx, sc.challengeID, false)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Printf("⚠️ tick challenge %d for %d: %v", sc.challengeID, sc.from.ID, err)
		}
		return
	}
	v, labels := h.detailView(ctx, sess, detail)

	h.mu.Lock()
	if h.screens[sc.chatID] != sc || sc.labels == labels {
		h.mu.Unlock()
		return
	}
	messageID := sc.messageID
	h.mu.Unlock()

	edit := tgbotapi.NewEditMessageReplyMarkup(sc.chatID, messageID, v.keyboard)
	if _, err := h.bot.Request(edit); err != nil {
		h.logger.Printf("⚠️ tick edit %d/%d: %v", sc.chatID, messageID, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.screens[sc.chatID] == sc {
		sc.labels = labels
	}
}
