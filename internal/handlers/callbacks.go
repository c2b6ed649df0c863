package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"repday/internal/initdata"
	"repday/internal/models"
	"repday/internal/nudge"
	"repday/internal/service"
)

func (h *BotHandler) handleCallbackQuery(query *tgbotapi.CallbackQuery) {
	if query.Message == nil || query.Message.Chat == nil {
		h.answerCallback(query, "")
		return
	}
	parts := strings.Split(query.Data, "_")
	action := parts[0]
	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID
	from := tgUser(query.From)

	// Navigation
	switch action {
	case "list":
		h.answerCallback(query, "")
		h.show(from, chatID, messageID, screen{kind: screenList})
		return
	case "profile":
		h.answerCallback(query, "")
		h.show(from, chatID, messageID, screen{kind: screenProfile})
		return
	case "reload":
		h.answerCallback(query, "")
		h.show(from, chatID, messageID, h.reloadTarget(chatID))
		return
	case "new":
		h.answerCallback(query, "")
		h.startCreate(chatID, from.ID)
		return
	case "name":
		h.answerCallback(query, "")
		h.setState(from.ID, &UserState{Step: stepName})
		h.send(chatID, "✏️ Введите новое имя:")
		return
	case "type":
		h.handleGoalType(query, from, parts)
		return
	case "dur":
		h.answerCallback(query, "")
		h.submitChallenge(chatID, from, service.DefaultDurationDays)
		return
	}

	challengeID, err := partID(parts, 1)
	if err != nil {
		h.answerCallback(query, "")
		return
	}

	switch action {
	case "open":
		h.answerCallback(query, "")
		h.show(from, chatID, messageID, screen{kind: screenDetail, challengeID: challengeID})
	case "stats":
		h.answerCallback(query, "")
		h.show(from, chatID, messageID, screen{kind: screenStats, challengeID: challengeID})
	case "hist":
		h.answerCallback(query, "")
		h.show(from, chatID, messageID, screen{kind: screenHistory, challengeID: challengeID})
	case "chat":
		h.answerCallback(query, "")
		h.show(from, chatID, messageID, screen{kind: screenChat, challengeID: challengeID})
	case "write":
		h.answerCallback(query, "")
		h.setState(from.ID, &UserState{Step: stepMessage, ChallengeID: challengeID})
		h.send(chatID, fmt.Sprintf("✍️ Напишите сообщение (до %d символов):", service.MaxMessageLength))
	case "custom":
		h.answerCallback(query, "")
		h.setState(from.ID, &UserState{Step: stepValue, ChallengeID: challengeID})
		h.send(chatID, "✏️ Введите значение за сегодня (0 или больше):")
	case "fix":
		if len(parts) < 3 {
			h.answerCallback(query, "")
			return
		}
		h.answerCallback(query, "")
		h.setState(from.ID, &UserState{Step: stepValue, ChallengeID: challengeID, Date: parts[2]})
		h.send(chatID, fmt.Sprintf("✏️ Новое значение за %s (0 или больше):", parts[2]))
	default:
		h.handleAction(query, from, action, challengeID, parts)
	}
}

// handleAction runs a mutation and re-renders the owning screen. Failures are alerts.
func (h *BotHandler) handleAction(query *tgbotapi.CallbackQuery, from initdata.User, action string, challengeID int64, parts []string) {
	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID
	ctx := context.Background()

	sess, err := h.service.Session(ctx, from)
	if err != nil {
		h.answerCallback(query, "")
		h.showError(chatID, messageID, screen{kind: screenDetail, challengeID: challengeID, from: from}, err)
		return
	}

	switch action {
	case "delta":
		delta, err := strconv.Atoi(partOr(parts, 2))
		if err != nil {
			h.answerCallback(query, "")
			return
		}
		if err := sess.AddProgress(ctx, challengeID, delta); err != nil {
			h.alert(query, "❌ Не удалось обновить прогресс: "+err.Error())
			return
		}
		h.answerCallback(query, fmt.Sprintf("%+d", delta))
		h.show(from, chatID, messageID, screen{kind: screenDetail, challengeID: challengeID})

	case "done":
		detail, err := sess.Detail(ctx, challengeID, false)
		if err == nil {
			err = sess.CompleteGoal(ctx, detail)
		}
		if err != nil {
			h.alert(query, "❌ "+err.Error())
			return
		}
		h.answerCallback(query, "✅")
		h.show(from, chatID, messageID, screen{kind: screenDetail, challengeID: challengeID})

	case "nudge":
		target, ok := h.participant(ctx, sess, challengeID, parts)
		if !ok {
			h.alert(query, service.ErrNotParticipant.Error())
			return
		}
		fresh, err := sess.Nudge(ctx, challengeID, target)
		if err != nil {
			h.alert(query, nudgeFailureText(err))
			return
		}
		h.alert(query, nudge.SuccessMessage(target.DisplayName))
		sc := h.begin(chatID, messageID, screen{kind: screenDetail, challengeID: challengeID, from: from})
		v, labels := h.detailView(sc.ctx, sess, fresh)
		h.renderInto(sc, v, labels)

	case "kick":
		target, ok := h.participant(ctx, sess, challengeID, parts)
		if !ok {
			h.alert(query, service.ErrNotParticipant.Error())
			return
		}
		h.answerCallback(query, "")
		h.confirm(chatID, messageID, from, challengeID, renderConfirm(
			fmt.Sprintf("Исключить %s из челленджа?", target.DisplayName),
			"Да, исключить",
			fmt.Sprintf("kickok_%d_%d", challengeID, target.ID),
			fmt.Sprintf("open_%d", challengeID),
		))

	case "kickok":
		userID, err := partID(parts, 2)
		if err != nil {
			h.answerCallback(query, "")
			return
		}
		if err := sess.RemoveParticipant(ctx, challengeID, userID); err != nil {
			h.alert(query, "❌ Ошибка: "+err.Error())
			return
		}
		h.answerCallback(query, "Участник исключён")
		h.show(from, chatID, messageID, screen{kind: screenDetail, challengeID: challengeID})

	case "del":
		h.answerCallback(query, "")
		h.confirm(chatID, messageID, from, challengeID, renderConfirm(
			"Удалить челлендж? Это действие нельзя отменить.",
			"🗑 Удалить",
			fmt.Sprintf("delok_%d", challengeID),
			fmt.Sprintf("open_%d", challengeID),
		))

	case "delok":
		if err := sess.DeleteChallenge(ctx, challengeID); err != nil {
			h.logger.Printf("❌ delete challenge %d: %v", challengeID, err)
			h.alert(query, "Не удалось удалить челлендж")
			return
		}
		h.answerCallback(query, "Челлендж удалён")
		h.show(from, chatID, messageID, screen{kind: screenList})

	case "join":
		detail, err := sess.Join(ctx, challengeID)
		if err != nil {
			h.logger.Printf("❌ join challenge %d: %v", challengeID, err)
			h.alert(query, "Не удалось присоединиться к челленджу")
			return
		}
		h.answerCallback(query, "")
		h.show(from, chatID, messageID, screen{kind: screenDetail, challengeID: detail.ID})

	case "share":
		detail, err := sess.Detail(ctx, challengeID, false)
		if err != nil {
			h.alert(query, "❌ "+err.Error())
			return
		}
		h.answerCallback(query, "")
		link := shareLink(h.opts.BotUsername, h.opts.MiniAppShortName, detail.InviteCode)
		h.render(chatID, 0, renderShare(detail, link))

	default:
		h.answerCallback(query, "")
	}
}

func (h *BotHandler) handleGoalType(query *tgbotapi.CallbackQuery, from initdata.User, parts []string) {
	h.answerCallback(query, "")
	state, ok := h.state(from.ID)
	if !ok || state.Step != stepGoalType {
		return
	}
	goalType := models.GoalType(partOr(parts, 1))
	if !goalType.Valid() {
		return
	}
	chatID := query.Message.Chat.ID
	state.Draft.GoalType = goalType
	if goalType == models.GoalCheckin {
		state.Draft.DailyGoal = nil
		state.Draft.Unit = ""
		h.askDuration(chatID, state)
		return
	}
	state.Step = stepGoal
	h.send(chatID, "🎯 Дневная цель (число):")
}

// participant resolves the user id in parts[2] against the challenge's team.
func (h *BotHandler) participant(ctx context.Context, sess *service.Session, challengeID int64, parts []string) (models.Participant, bool) {
	userID, err := partID(parts, 2)
	if err != nil {
		return models.Participant{}, false
	}
	detail, err := sess.Detail(ctx, challengeID, false)
	if err != nil {
		return models.Participant{}, false
	}
	return detail.Participant(userID)
}

// confirm replaces a challenge screen with a yes/no question.
func (h *BotHandler) confirm(chatID int64, messageID int, from initdata.User, challengeID int64, v view) {
	sc := h.begin(chatID, messageID, screen{kind: screenConfirm, challengeID: challengeID, from: from})
	h.renderInto(sc, v, "")
}

func (h *BotHandler) reloadTarget(chatID int64) screen {
	h.mu.Lock()
	defer h.mu.Unlock()
	sc, ok := h.screens[chatID]
	if !ok {
		return screen{kind: screenList}
	}
	if sc.kind == screenConfirm {
		return screen{kind: screenDetail, challengeID: sc.challengeID}
	}
	return screen{kind: sc.kind, challengeID: sc.challengeID, invite: sc.invite}
}

func partID(parts []string, i int) (int64, error) {
	return strconv.ParseInt(partOr(parts, i), 10, 64)
}

func partOr(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}
