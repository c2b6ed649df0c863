package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"repday/internal/initdata"
	"repday/internal/logger"
	"repday/internal/models"
	"repday/internal/nudge"
	"repday/internal/service"
)

// Sender is the part of *tgbotapi.BotAPI the handler uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Options struct {
	BotUsername      string
	MiniAppShortName string
	Logger           *log.Logger
}

type BotHandler struct {
	bot     Sender
	service *service.Service
	opts    Options
	logger  *log.Logger

	mu         sync.Mutex
	userStates map[int64]*UserState
	screens    map[int64]*screen
}

// UserState is a multi-step text input in progress.
type UserState struct {
	Step        string
	Draft       models.NewChallenge
	ChallengeID int64
	Date        string // correction date, empty for today
}

const (
	stepTitle    = "awaiting_title"
	stepGoalType = "awaiting_goal_type"
	stepGoal     = "awaiting_goal"
	stepUnit     = "awaiting_unit"
	stepDuration = "awaiting_duration"
	stepName     = "awaiting_name"
	stepValue    = "awaiting_value"
	stepMessage  = "awaiting_message"
)

func NewBotHandler(bot Sender, svc *service.Service, opts Options) *BotHandler {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &BotHandler{
		bot:        bot,
		service:    svc,
		opts:       opts,
		logger:     opts.Logger,
		userStates: make(map[int64]*UserState),
		screens:    make(map[int64]*screen),
	}
}

func (h *BotHandler) HandleUpdate(update tgbotapi.Update) {
	// Handle messages
	if update.Message != nil {
		h.handleMessage(update.Message)
	}

	// Handle callback queries (buttons)
	if update.CallbackQuery != nil {
		h.handleCallbackQuery(update.CallbackQuery)
	}
}

func (h *BotHandler) handleMessage(message *tgbotapi.Message) {
	if message.Chat == nil {
		return
	}
	from := tgUser(message.From)

	// Handle commands
	if message.IsCommand() {
		switch message.Command() {
		case "start":
			h.handleStart(message, from)
		case "help":
			h.handleHelp(message)
		case "challenges":
			h.show(from, message.Chat.ID, 0, screen{kind: screenList})
		case "profile":
			h.show(from, message.Chat.ID, 0, screen{kind: screenProfile})
		case "new":
			h.startCreate(message.Chat.ID, from.ID)
		case "cancel":
			h.handleCancel(message, from)
		case "logout":
			h.handleLogout(message, from)
		}
		return
	}

	// Handle state-based input
	if state, exists := h.state(from.ID); exists {
		h.handleStateInput(message, from, state)
	}
}

func (h *BotHandler) handleStart(message *tgbotapi.Message, from initdata.User) {
	code := strings.TrimSpace(message.CommandArguments())
	if code == "" {
		h.send(message.Chat.ID, "👋 Привет! Это RepDay: челленджи с друзьями.\n\nСоздавайте челленджи, отмечайте прогресс каждый день и пинайте тех, кто отстаёт.")
		h.show(from, message.Chat.ID, 0, screen{kind: screenList})
		return
	}

	ctx := context.Background()
	invite, err := h.service.Authenticate(ctx, from, code)
	if err != nil {
		h.logger.Printf("❌ auth with invite for %d: %v", from.ID, err)
		h.showError(message.Chat.ID, 0, screen{kind: screenList, from: from}, err)
		return
	}
	if invite == nil {
		h.show(from, message.Chat.ID, 0, screen{kind: screenList})
		return
	}

	sess, err := h.service.Session(ctx, from)
	if err != nil {
		h.showError(message.Chat.ID, 0, screen{kind: screenList, from: from}, err)
		return
	}
	list, err := sess.Challenges(ctx, true)
	if err != nil {
		h.showError(message.Chat.ID, 0, screen{kind: screenList, from: from}, err)
		return
	}
	for _, ch := range list {
		if ch.ID == invite.ID {
			h.show(from, message.Chat.ID, 0, screen{kind: screenDetail, challengeID: invite.ID})
			return
		}
	}
	h.show(from, message.Chat.ID, 0, screen{kind: screenInvite, challengeID: invite.ID, invite: invite})
}

func (h *BotHandler) handleHelp(message *tgbotapi.Message) {
	text := `📖 Помощь

📋 Команды:
/challenges - Мои челленджи
/new - Создать челлендж
/profile - Профиль
/cancel - Отменить текущее действие
/logout - Сбросить сессию

💡 Советы:
• Отмечайте прогресс каждый день
• Кнопка «Пнуть» доступна раз в час для каждого участника
• Приглашайте друзей кнопкой «Поделиться»`

	h.send(message.Chat.ID, text)
}

func (h *BotHandler) handleCancel(message *tgbotapi.Message, from initdata.User) {
	h.clearState(from.ID)
	h.send(message.Chat.ID, "❌ Действие отменено.")
}

func (h *BotHandler) handleLogout(message *tgbotapi.Message, from initdata.User) {
	h.clearState(from.ID)
	if err := h.service.Logout(context.Background(), from.ID); err != nil {
		h.logger.Printf("⚠️ logout %d: %v", from.ID, err)
	}
	h.send(message.Chat.ID, "👋 Сессия сброшена. Нажмите /start, чтобы войти снова.")
}

func (h *BotHandler) startCreate(chatID, userID int64) {
	h.setState(userID, &UserState{Step: stepTitle})
	h.send(chatID, "📝 Введите название челленджа:")
}

func (h *BotHandler) handleStateInput(message *tgbotapi.Message, from initdata.User, state *UserState) {
	chatID := message.Chat.ID
	ctx := context.Background()

	switch state.Step {
	case stepTitle:
		title := strings.TrimSpace(message.Text)
		if title == "" {
			h.send(chatID, "❌ "+service.ErrEmptyTitle.Error())
			return
		}
		state.Draft.Title = title
		state.Step = stepGoalType
		msg := tgbotapi.NewMessage(chatID, "🎯 Выберите тип цели:")
		msg.ReplyMarkup = renderGoalTypes()
		_, _ = h.bot.Send(msg)

	case stepGoalType:
		msg := tgbotapi.NewMessage(chatID, "👇 Выберите тип цели кнопкой:")
		msg.ReplyMarkup = renderGoalTypes()
		_, _ = h.bot.Send(msg)

	case stepGoal:
		goal, err := service.ParseValue(message.Text)
		if err != nil {
			h.send(chatID, "❌ "+err.Error())
			return
		}
		state.Draft.DailyGoal = &goal
		state.Step = stepUnit
		h.send(chatID, "📏 Единица измерения (отжимания, шаги…):")

	case stepUnit:
		state.Draft.Unit = strings.TrimSpace(message.Text)
		h.askDuration(chatID, state)

	case stepDuration:
		days, err := service.ParseValue(message.Text)
		if err != nil || days < 1 {
			h.send(chatID, "❌ "+service.ErrInvalidDuration.Error())
			return
		}
		h.submitChallenge(chatID, from, days)

	case stepName:
		sess, err := h.service.Session(ctx, from)
		if err != nil {
			h.showError(chatID, 0, screen{kind: screenProfile, from: from}, err)
			return
		}
		if _, err := sess.UpdateName(ctx, message.Text); err != nil {
			h.send(chatID, "❌ "+err.Error())
			if errors.Is(err, service.ErrEmptyName) {
				return
			}
		} else {
			h.send(chatID, "✅ Имя обновлено")
		}
		h.clearState(from.ID)
		h.show(from, chatID, 0, screen{kind: screenProfile})

	case stepValue:
		value, err := service.ParseValue(message.Text)
		if err != nil {
			h.send(chatID, "❌ "+err.Error())
			return
		}
		sess, err := h.service.Session(ctx, from)
		if err != nil {
			h.showError(chatID, 0, screen{kind: screenDetail, challengeID: state.ChallengeID, from: from}, err)
			return
		}
		h.clearState(from.ID)
		if err := sess.SetProgress(ctx, state.ChallengeID, state.Date, value); err != nil {
			h.logger.Printf("❌ set progress: %v", err)
			h.send(chatID, "❌ Не удалось обновить прогресс")
		}
		next := screen{kind: screenDetail, challengeID: state.ChallengeID}
		if state.Date != "" {
			next.kind = screenHistory
		}
		h.show(from, chatID, 0, next)

	case stepMessage:
		sess, err := h.service.Session(ctx, from)
		if err != nil {
			h.showError(chatID, 0, screen{kind: screenChat, challengeID: state.ChallengeID, from: from}, err)
			return
		}
		if _, err := sess.PostMessage(ctx, state.ChallengeID, message.Text); err != nil {
			if errors.Is(err, service.ErrEmptyMessage) || errors.Is(err, service.ErrMessageTooLong) {
				h.send(chatID, "❌ "+err.Error())
				return
			}
			h.send(chatID, "❌ Не удалось отправить сообщение")
		}
		h.clearState(from.ID)
		h.show(from, chatID, 0, screen{kind: screenChat, challengeID: state.ChallengeID})
	}
}

func (h *BotHandler) askDuration(chatID int64, state *UserState) {
	state.Step = stepDuration
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("📅 Длительность в днях (по умолчанию %d):", service.DefaultDurationDays))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d дней", service.DefaultDurationDays), "dur"),
	))
	_, _ = h.bot.Send(msg)
}

func (h *BotHandler) submitChallenge(chatID int64, from initdata.User, days int) {
	state, ok := h.state(from.ID)
	if !ok || state.Step != stepDuration {
		return
	}
	h.clearState(from.ID)

	draft := state.Draft
	draft.DurationDays = days
	draft.IsPublic = true

	ctx := context.Background()
	sess, err := h.service.Session(ctx, from)
	if err != nil {
		h.showError(chatID, 0, screen{kind: screenList, from: from}, err)
		return
	}
	created, err := sess.CreateChallenge(ctx, draft)
	if err != nil {
		h.send(chatID, fmt.Sprintf("❌ Ошибка создания челленджа: %v", err))
		return
	}
	h.logger.Printf("✅ tg=%d created challenge %d", from.ID, created.ID)
	h.send(chatID, "✅ Челлендж создан! Пригласите друзей кнопкой «Поделиться».")
	h.show(from, chatID, 0, screen{kind: screenDetail, challengeID: created.ID})
}

func (h *BotHandler) answerCallback(query *tgbotapi.CallbackQuery, text string) {
	callback := tgbotapi.NewCallback(query.ID, text)
	_, _ = h.bot.Request(callback)
}

// alert answers a callback with a blocking popup.
func (h *BotHandler) alert(query *tgbotapi.CallbackQuery, text string) {
	callback := tgbotapi.NewCallbackWithAlert(query.ID, text)
	_, _ = h.bot.Request(callback)
}

func (h *BotHandler) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := h.bot.Send(msg); err != nil {
		h.logger.Printf("⚠️ send to %d: %v", chatID, err)
	}
}

func (h *BotHandler) state(userID int64) (*UserState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.userStates[userID]
	return s, ok
}

func (h *BotHandler) setState(userID int64, s *UserState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.userStates[userID] = s
}

func (h *BotHandler) clearState(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.userStates, userID)
}

// nudgeFailureText picks the alert shown for a failed nudge.
func nudgeFailureText(err error) string {
	var cooldown *service.CooldownError
	switch {
	case errors.As(err, &cooldown):
		return cooldown.Error()
	case errors.Is(err, service.ErrCompletedToday):
		return service.ErrCompletedToday.Error()
	case errors.Is(err, service.ErrSelfNudge):
		return service.ErrSelfNudge.Error()
	}
	return nudge.Classify(err).Message()
}

func tgUser(u *tgbotapi.User) initdata.User {
	if u == nil {
		return initdata.User{}
	}
	return initdata.User{
		ID:           u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.UserName,
		LanguageCode: u.LanguageCode,
	}
}
