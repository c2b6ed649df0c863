package handlers

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"repday/internal/initdata"
	"repday/internal/models"
	"repday/internal/nudge"
	"repday/internal/service"
)

const (
	screenList    = "list"
	screenProfile = "profile"
	screenDetail  = "detail"
	screenStats   = "stats"
	screenHistory = "history"
	screenChat    = "chat"
	screenInvite  = "invite"
	screenConfirm = "confirm"
)

// screen is what a chat currently shows. Replacing it cancels the loads of the previous one.
type screen struct {
	kind        string
	challengeID int64
	invite      *models.ChallengeShort

	chatID    int64
	messageID int
	from      initdata.User
	labels    string // nudge button captions last rendered on a detail screen

	ctx    context.Context
	cancel context.CancelFunc
}

// show loads target and renders it into messageID, or into a new message when messageID is 0.
func (h *BotHandler) show(from initdata.User, chatID int64, messageID int, target screen) {
	target.from = from
	sc := h.begin(chatID, messageID, target)

	sess, err := h.service.Session(sc.ctx, from)
	if err != nil {
		if sc.ctx.Err() == nil {
			h.logger.Printf("❌ session for %d: %v", from.ID, err)
			h.renderInto(sc, renderError(err.Error()), "")
		}
		return
	}

	v, labels, err := h.load(sc.ctx, sess, sc)
	if sc.ctx.Err() != nil {
		return
	}
	if err != nil {
		h.logger.Printf("❌ load %s screen for %d: %v", sc.kind, from.ID, err)
		v, labels = renderError(loadErrorText(err)), ""
	}
	h.renderInto(sc, v, labels)
}

// showError replaces the chat's screen with the error view; reload retries target.
func (h *BotHandler) showError(chatID int64, messageID int, target screen, err error) {
	sc := h.begin(chatID, messageID, target)
	h.renderInto(sc, renderError(err.Error()), "")
}

func (h *BotHandler) begin(chatID int64, messageID int, target screen) *screen {
	sc := target
	sc.chatID = chatID
	sc.messageID = messageID
	sc.ctx, sc.cancel = context.WithCancel(context.Background())

	h.mu.Lock()
	defer h.mu.Unlock()
	if prev, ok := h.screens[chatID]; ok {
		prev.cancel()
	}
	h.screens[chatID] = &sc
	return &sc
}

func (h *BotHandler) renderInto(sc *screen, v view, labels string) {
	id := h.render(sc.chatID, sc.messageID, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.screens[sc.chatID] == sc {
		sc.messageID = id
		sc.labels = labels
	}
}

// render edits messageID in place, falling back to a new message.
func (h *BotHandler) render(chatID int64, messageID int, v view) int {
	if messageID != 0 {
		edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, v.text, v.keyboard)
		_, err := h.bot.Send(edit)
		if err == nil || strings.Contains(err.Error(), "message is not modified") {
			return messageID
		}
		h.logger.Printf("⚠️ edit %d/%d: %v", chatID, messageID, err)
	}

	msg := tgbotapi.NewMessage(chatID, v.text)
	msg.ReplyMarkup = v.keyboard
	sent, err := h.bot.Send(msg)
	if err != nil {
		h.logger.Printf("⚠️ send to %d: %v", chatID, err)
		return 0
	}
	return sent.MessageID
}

func (h *BotHandler) load(ctx context.Context, sess *service.Session, sc *screen) (view, string, error) {
	switch sc.kind {
	case screenProfile:
		return renderProfile(sess.Me()), "", nil
	case screenDetail:
		detail, err := sess.Detail(ctx, sc.challengeID, true)
		if err != nil {
			return view{}, "", err
		}
		v, labels := h.detailView(ctx, sess, detail)
		return v, labels, nil
	case screenStats:
		stats, err := sess.Stats(ctx, sc.challengeID, true)
		if err != nil {
			return view{}, "", err
		}
		return renderStats(sc.challengeID, stats), "", nil
	case screenHistory:
		stats, err := sess.Stats(ctx, sc.challengeID, true)
		if err != nil {
			return view{}, "", err
		}
		return renderHistory(sc.challengeID, stats, sess.Today()), "", nil
	case screenChat:
		msgs, err := sess.Messages(ctx, sc.challengeID, true)
		if err != nil {
			return view{}, "", err
		}
		return renderChat(sc.challengeID, msgs), "", nil
	case screenInvite:
		if sc.invite == nil {
			return view{}, "", fmt.Errorf("invite for challenge %d is gone", sc.challengeID)
		}
		return renderInvite(sc.invite), "", nil
	default:
		list, err := sess.Challenges(ctx, true)
		if err != nil {
			return view{}, "", err
		}
		return renderList(list), "", nil
	}
}

func (h *BotHandler) detailView(ctx context.Context, sess *service.Session, d *models.ChallengeDetail) (view, string) {
	viewerID := sess.Me().ID
	eligibility := make(map[int64]nudge.Eligibility, len(d.Participants))
	for _, p := range d.Participants {
		if p.ID != viewerID {
			eligibility[p.ID] = sess.Eligibility(ctx, d.ID, p)
		}
	}
	return renderDetail(d, viewerID, eligibility), nudgeLabels(d, viewerID, eligibility)
}

func loadErrorText(err error) string {
	return "Ошибка загрузки: " + err.Error()
}
