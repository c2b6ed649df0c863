package handlers

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"repday/internal/models"
	"repday/internal/nudge"
	"repday/internal/service"
)

// Telegram rejects messages longer than 4096 characters.
const maxScreenRunes = 3800

const messagesShown = 100

// historyDays bounds the history screen; Telegram caps a keyboard at 100 buttons.
const historyDays = 30

var quickDeltas = [][]int{{5, 10, 25}, {-5, -10, -25}}

type view struct {
	text     string
	keyboard tgbotapi.InlineKeyboardMarkup
}

func backRow(data string) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", data))
}

func goalLine(goalType models.GoalType, dailyGoal *int, unit string) string {
	goal := 0
	if dailyGoal != nil {
		goal = *dailyGoal
	}
	switch goalType {
	case models.GoalQuantitative:
		return fmt.Sprintf("Цель: %d %s в день", goal, unit)
	case models.GoalCheckin:
		return "Ежедневный чек-ин"
	default:
		return fmt.Sprintf("Таймер: %d %s в день", goal, unit)
	}
}

func progressBar(percent int) string {
	filled := percent / 10
	return strings.Repeat("▰", filled) + strings.Repeat("▱", 10-filled)
}

func renderList(list []models.ChallengeShort) view {
	var b strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton

	if len(list) == 0 {
		b.WriteString("📋 Пока нет челленджей.\nСоздайте первый и позовите сестренок.")
	} else {
		b.WriteString("📋 Ваши челленджи:\n")
	}
	for i, ch := range list {
		value := 0
		if ch.TodayProgressValue != nil {
			value = *ch.TodayProgressValue
		}
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n   Сегодня: %d", i+1, ch.Title, goalLine(ch.GoalType, ch.DailyGoal, ch.Unit), value)
		if ch.DailyGoal != nil && *ch.DailyGoal > 0 {
			percent := models.ProgressPercent(models.GoalQuantitative, ch.DailyGoal, value, false)
			fmt.Fprintf(&b, " / %d (%d%%)\n   %s", *ch.DailyGoal, percent, progressBar(percent))
		}
		if ch.DaysCompleted != nil {
			fmt.Fprintf(&b, "\n   Дней выполнено: %d", *ch.DaysCompleted)
		}
		b.WriteString("\n")

		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d. %s", i+1, ch.Title), fmt.Sprintf("open_%d", ch.ID)),
		))
	}

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("➕ Новый челлендж", "new"),
		tgbotapi.NewInlineKeyboardButtonData("👤 Профиль", "profile"),
	))
	return view{text: b.String(), keyboard: tgbotapi.NewInlineKeyboardMarkup(rows...)}
}

func renderProfile(user models.User) view {
	status := "нет связи с ботом"
	if user.BotChatActive {
		status = "оповещения доступны"
	}
	text := fmt.Sprintf("👤 Профиль\n\nИмя в челленджах: %s\nОповещения: %s", user.DisplayName, status)
	if user.Username != nil && *user.Username != "" {
		text += "\nTelegram: @" + *user.Username
	}
	return view{
		text: text,
		keyboard: tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✏️ Изменить имя", "name")),
			backRow("list"),
		),
	}
}

// renderDetail draws a challenge. eligibility holds the nudge state of every teammate.
func renderDetail(d *models.ChallengeDetail, viewerID int64, eligibility map[int64]nudge.Eligibility) view {
	var b strings.Builder
	fmt.Fprintf(&b, "🏁 %s\n", d.Title)
	if d.Description != nil && strings.TrimSpace(*d.Description) != "" {
		b.WriteString(*d.Description)
	} else {
		b.WriteString("Без описания")
	}
	fmt.Fprintf(&b, "\n📅 %s — %s\n\n📈 Мой прогресс сегодня\n", d.StartDate, d.EndDate)

	me := d.Me(viewerID)
	var rows [][]tgbotapi.InlineKeyboardButton
	if d.GoalType.IsAmount() {
		value := 0
		if me != nil {
			value = me.TodayValue
		}
		percent := models.ProgressPercent(d.GoalType, d.DailyGoal, value, false)
		if d.DailyGoal != nil {
			fmt.Fprintf(&b, "%s\n", goalLine(d.GoalType, d.DailyGoal, d.Unit))
			if me != nil {
				fmt.Fprintf(&b, "Сейчас: %d / %d (%d%%)\n", value, *d.DailyGoal, percent)
			}
		}
		b.WriteString(progressBar(percent) + "\n")

		for _, deltas := range quickDeltas {
			var row []tgbotapi.InlineKeyboardButton
			for _, delta := range deltas {
				row = append(row, tgbotapi.NewInlineKeyboardButtonData(
					fmt.Sprintf("%+d", delta), fmt.Sprintf("delta_%d_%d", d.ID, delta)))
			}
			rows = append(rows, row)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Выполнил цель", fmt.Sprintf("done_%d", d.ID)),
			tgbotapi.NewInlineKeyboardButtonData("✏️ Свое значение", fmt.Sprintf("custom_%d", d.ID)),
		))
	} else {
		completed := me != nil && me.TodayCompleted
		label := "Отметить выполнение"
		if completed {
			b.WriteString("Сегодня уже отмечено ✔\n")
			label = "Снять отметку"
		} else {
			b.WriteString("Сегодня ещё не отмечали\n")
		}
		b.WriteString(progressBar(models.ProgressPercent(d.GoalType, nil, 0, completed)) + "\n")
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("done_%d", d.ID)),
		))
	}

	b.WriteString("\n👥 Команда\n")
	for _, p := range d.Participants {
		fmt.Fprintf(&b, "• %s — %d", p.DisplayName, p.TodayValue)
		if d.Unit != "" && d.GoalType.IsAmount() {
			b.WriteString(" " + d.Unit)
		}
		if p.TodayCompleted {
			b.WriteString(" (выполнил)")
		}
		if p.StreakCurrent > 0 {
			fmt.Fprintf(&b, " 🔥%d", p.StreakCurrent)
		}
		if p.ID == viewerID {
			b.WriteString(" (вы)")
		}
		b.WriteString("\n")

		if p.ID == viewerID {
			continue
		}
		row := tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(
			fmt.Sprintf("👉 %s: %s", p.DisplayName, eligibility[p.ID].Label()),
			fmt.Sprintf("nudge_%d_%d", d.ID, p.ID),
		))
		if d.IsOwner {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("❌", fmt.Sprintf("kick_%d_%d", d.ID, p.ID)))
		}
		rows = append(rows, row)
	}

	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📊 Статистика", fmt.Sprintf("stats_%d", d.ID)),
			tgbotapi.NewInlineKeyboardButtonData("📅 История", fmt.Sprintf("hist_%d", d.ID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💬 Чат", fmt.Sprintf("chat_%d", d.ID)),
			tgbotapi.NewInlineKeyboardButtonData("📨 Поделиться", fmt.Sprintf("share_%d", d.ID)),
		),
	)
	if d.IsOwner {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить челлендж", fmt.Sprintf("del_%d", d.ID)),
		))
	}
	rows = append(rows, backRow("list"))
	return view{text: truncateRunes(b.String(), maxScreenRunes), keyboard: tgbotapi.NewInlineKeyboardMarkup(rows...)}
}

// nudgeLabels fingerprints the nudge buttons so the ticker can skip unchanged screens.
func nudgeLabels(d *models.ChallengeDetail, viewerID int64, eligibility map[int64]nudge.Eligibility) string {
	var parts []string
	for _, p := range d.Participants {
		if p.ID != viewerID {
			parts = append(parts, strconv.FormatInt(p.ID, 10)+":"+eligibility[p.ID].Label())
		}
	}
	return strings.Join(parts, ",")
}

func renderStats(challengeID int64, s *models.Stats) view {
	var b strings.Builder
	b.WriteString("📊 Статистика\n")
	if len(s.Points) == 0 && len(s.LeaderboardByValue) == 0 {
		b.WriteString("\nПока нет данных для статистики.")
	} else {
		fmt.Fprintf(&b, "\nДни\nВыполнено дней: %d, пропущено: %d\n", s.CompletedDays, s.MissedDays)

		b.WriteString("\nДинамика\n")
		for _, p := range s.Points {
			fmt.Fprintf(&b, "%s — %d%%\n", p.Date, int(p.Percent+0.5))
		}

		b.WriteString("\n🏆 Лидерборд по объёму\n")
		for i, item := range s.LeaderboardByValue {
			fmt.Fprintf(&b, "%d. %s — всего: %d\n", i+1, item.DisplayName, item.TotalValue)
		}
		b.WriteString("\n🏆 Лидерборд по выполненным дням\n")
		for i, item := range s.LeaderboardByDays {
			fmt.Fprintf(&b, "%d. %s — дней с выполнением: %d\n", i+1, item.DisplayName, item.CompletedDays)
		}
	}
	return view{
		text: truncateRunes(b.String(), maxScreenRunes),
		keyboard: tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📅 История", fmt.Sprintf("hist_%d", challengeID))),
			backRow(fmt.Sprintf("open_%d", challengeID)),
		),
	}
}

// renderHistory lists the newest historyDays days, each with a correction button.
func renderHistory(challengeID int64, s *models.Stats, today string) view {
	points := make([]models.DayPoint, len(s.Points))
	copy(points, s.Points)
	// dates are YYYY-MM-DD so string order is calendar order
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date > points[j].Date })
	older := 0
	if len(points) > historyDays {
		older = len(points) - historyDays
		points = points[:historyDays]
	}

	var b strings.Builder
	b.WriteString("📅 Прогресс по дням\n\n")
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, p := range points {
		tag := ""
		switch {
		case p.Date == today:
			tag = " (сегодня)"
		case p.Date < today:
			tag = " (прошлое)"
		}
		fmt.Fprintf(&b, "%s%s — %d (%d%%)\n", p.Date, tag, p.Value, int(p.Percent+0.5))

		row = append(row, tgbotapi.NewInlineKeyboardButtonData("✏️ "+shortDate(p.Date), fmt.Sprintf("fix_%d_%s", challengeID, p.Date)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(points) == 0 {
		b.WriteString("Пока нет данных.")
	}
	if older > 0 {
		fmt.Fprintf(&b, "\n…и ещё %d дн. ранее", older)
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, backRow(fmt.Sprintf("open_%d", challengeID)))
	return view{text: truncateRunes(b.String(), maxScreenRunes), keyboard: tgbotapi.NewInlineKeyboardMarkup(rows...)}
}

// renderChat shows the latest messages, newest first.
func renderChat(challengeID int64, msgs []models.Message) view {
	var b strings.Builder
	b.WriteString("💬 Чат\n")
	if len(msgs) == 0 {
		b.WriteString("\nСообщений пока нет.")
	}
	if len(msgs) > messagesShown {
		msgs = msgs[:messagesShown]
	}
	for i, m := range msgs {
		stamp := m.CreatedAt
		if at, ok := nudge.ParseTimestamp(m.CreatedAt); ok {
			stamp = at.Format("02.01.2006 15:04")
		}
		entry := fmt.Sprintf("\n%s · %s\n%s\n", m.DisplayName, stamp, truncateRunes(m.Text, service.MaxMessageLength))
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(entry) > maxScreenRunes {
			fmt.Fprintf(&b, "\n…и ещё %d", len(msgs)-i)
			break
		}
		b.WriteString(entry)
	}
	return view{
		text: b.String(),
		keyboard: tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✍️ Написать", fmt.Sprintf("write_%d", challengeID)),
				tgbotapi.NewInlineKeyboardButtonData("🔄 Обновить", fmt.Sprintf("chat_%d", challengeID)),
			),
			backRow(fmt.Sprintf("open_%d", challengeID)),
		),
	}
}

func renderInvite(ch *models.ChallengeShort) view {
	text := fmt.Sprintf("📨 Приглашение\n\n%s\n%s\n\nВас пригласили в челлендж. Присоединяйтесь и давайте жечь вместе.",
		ch.Title, goalLine(ch.GoalType, ch.DailyGoal, ch.Unit))
	return view{
		text: text,
		keyboard: tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🤝 Присоединиться", fmt.Sprintf("join_%d", ch.ID))),
			backRow("list"),
		),
	}
}

func renderError(message string) view {
	return view{
		text: "❌ Ошибка\n\n" + message,
		keyboard: tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 Перезагрузить", "reload")),
		),
	}
}

func renderConfirm(question, yesLabel, yesData, noData string) view {
	return view{
		text: question,
		keyboard: tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(yesLabel, yesData),
			tgbotapi.NewInlineKeyboardButtonData("Отмена", noData),
		)),
	}
}

func renderGoalTypes() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔢 Количество", "type_"+string(models.GoalQuantitative)),
		tgbotapi.NewInlineKeyboardButtonData("✔️ Чек-ин", "type_"+string(models.GoalCheckin)),
		tgbotapi.NewInlineKeyboardButtonData("⏱ Время", "type_"+string(models.GoalTime)),
	))
}

// shareLink builds the deep link a friend opens to join a challenge.
func shareLink(botUsername, appShortName, inviteCode string) string {
	if appShortName != "" {
		return fmt.Sprintf("https://t.me/%s/%s?startapp=%s", botUsername, appShortName, url.QueryEscape(inviteCode))
	}
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, url.QueryEscape(inviteCode))
}

func renderShare(d *models.ChallengeDetail, link string) view {
	text := fmt.Sprintf("Присоединяйтесь к нашему челленджу \"%s\" в RepDay", d.Title)
	shareURL := "https://t.me/share/url?url=" + url.QueryEscape(link) + "&text=" + url.QueryEscape(text)
	return view{
		text: "📨 Ссылка-приглашение:\n" + link,
		keyboard: tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Поделиться", shareURL)),
		),
	}
}

// shortDate drops the year of a YYYY-MM-DD date.
func shortDate(date string) string {
	if len(date) == len(models.DateLayout) {
		return date[5:]
	}
	return date
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
