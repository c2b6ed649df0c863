package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"repday/internal/api"
	"repday/internal/models"
	"repday/internal/nudge"
	"repday/internal/repository"
)

// MaxMessageLength is the longest chat message the backend accepts.
const MaxMessageLength = 2000

// DefaultDurationDays is proposed by the create form.
const DefaultDurationDays = 30

var (
	ErrInvalidValue    = errors.New("Введите корректное число (0 или больше)")
	ErrEmptyTitle      = errors.New("Введите название челленджа")
	ErrInvalidGoalType = errors.New("Неизвестный тип цели")
	ErrInvalidGoal     = errors.New("Дневная цель должна быть числом 0 или больше")
	ErrInvalidDuration = errors.New("Длительность должна быть не меньше 1 дня")
	ErrNoDailyGoal     = errors.New("У челленджа нет дневной цели")
	ErrEmptyMessage    = errors.New("Сообщение не может быть пустым")
	ErrMessageTooLong  = fmt.Errorf("Сообщение слишком длинное (максимум %d символов)", MaxMessageLength)
	ErrEmptyName       = errors.New("Имя не может быть пустым")
	ErrSelfNudge       = errors.New("Себя пни и выполняй челлендж")
	ErrCompletedToday  = errors.New("Уже выполнил сегодня")
	ErrNotParticipant  = errors.New("Участник не найден")
)

// CooldownError is returned when a nudge is attempted inside the local cooldown window.
type CooldownError struct {
	Minutes int
}

func (e *CooldownError) Error() string {
	return nudge.CooldownMessage(e.Minutes)
}

// Session is the RepDay state of one Telegram user.
type Session struct {
	tgID   int64
	client *api.Client
	cache  *cache
	store  repository.Store
	logger *log.Logger
	now    func() time.Time

	mu          sync.Mutex
	reconcilers map[int64]*reconcilerEntry
}

type reconcilerEntry struct {
	mu     sync.Mutex
	seeded bool
	r      *nudge.Reconciler
}

func (s *Session) TelegramID() int64 { return s.tgID }

// Me returns the authenticated user.
func (s *Session) Me() models.User {
	if v, ok := s.cache.get(keyMe); ok {
		return v.(models.User)
	}
	user, ok := s.client.Session().User()
	if ok {
		s.cache.put(keyMe, user)
	}
	return user
}

// Today is the calendar date progress is logged against.
func (s *Session) Today() string {
	return s.now().UTC().Format(models.DateLayout)
}

// Reads

func (s *Session) Challenges(ctx context.Context, fresh bool) ([]models.ChallengeShort, error) {
	return query(ctx, s.cache, keyChallenges, fresh, s.client.GetChallenges)
}

// Detail fetches a challenge and merges its nudge timestamps into the reconciler.
func (s *Session) Detail(ctx context.Context, id int64, fresh bool) (*models.ChallengeDetail, error) {
	detail, err := query(ctx, s.cache, detailKey(id), fresh, func(ctx context.Context) (*models.ChallengeDetail, error) {
		return s.client.GetChallengeDetail(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	s.reconciler(ctx, id).Observe(detail, s.Me().ID)
	return detail, nil
}

func (s *Session) Stats(ctx context.Context, id int64, fresh bool) (*models.Stats, error) {
	return query(ctx, s.cache, statsKey(id), fresh, func(ctx context.Context) (*models.Stats, error) {
		return s.client.GetStats(ctx, id)
	})
}

// Messages returns the chat of a challenge, newest first.
func (s *Session) Messages(ctx context.Context, id int64, fresh bool) ([]models.Message, error) {
	return query(ctx, s.cache, messagesKey(id), fresh, func(ctx context.Context) ([]models.Message, error) {
		return s.client.GetChallengeMessages(ctx, id)
	})
}

// Eligibility derives the nudge button state of p in a challenge.
func (s *Session) Eligibility(ctx context.Context, challengeID int64, p models.Participant) nudge.Eligibility {
	return s.reconciler(ctx, challengeID).Eligibility(p)
}

// Mutations

func (s *Session) CreateChallenge(ctx context.Context, in models.NewChallenge) (*models.ChallengeDetail, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Unit = strings.TrimSpace(in.Unit)
	if in.Title == "" {
		return nil, ErrEmptyTitle
	}
	if !in.GoalType.Valid() {
		return nil, ErrInvalidGoalType
	}
	if in.DailyGoal != nil && *in.DailyGoal < 0 {
		return nil, ErrInvalidGoal
	}
	if in.DurationDays < 1 {
		return nil, ErrInvalidDuration
	}
	if in.StartDate == "" {
		in.StartDate = s.Today()
	}

	detail, err := s.client.CreateChallenge(ctx, in)
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(keyChallenges)
	return detail, nil
}

func (s *Session) Join(ctx context.Context, id int64) (*models.ChallengeDetail, error) {
	detail, err := s.client.JoinChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(keyChallenges, detailKey(id))
	return detail, nil
}

func (s *Session) DeleteChallenge(ctx context.Context, id int64) error {
	if err := s.client.DeleteChallenge(ctx, id); err != nil {
		return err
	}
	s.cache.invalidate(keyChallenges, detailKey(id), statsKey(id), messagesKey(id))

	s.mu.Lock()
	delete(s.reconcilers, id)
	s.mu.Unlock()
	if err := s.store.DeleteNudges(ctx, s.tgID, id); err != nil {
		s.logger.Printf("⚠️ delete nudges of challenge %d: %v", id, err)
	}
	return nil
}

func (s *Session) RemoveParticipant(ctx context.Context, challengeID, userID int64) error {
	if err := s.client.RemoveParticipant(ctx, challengeID, userID); err != nil {
		return err
	}
	s.cache.invalidate(detailKey(challengeID), statsKey(challengeID))
	return nil
}

// AddProgress applies a signed delta to today's value. The backend clamps at zero.
func (s *Session) AddProgress(ctx context.Context, id int64, delta int) error {
	return s.updateProgress(ctx, id, models.ProgressUpdate{Date: s.Today(), Delta: &delta})
}

// SetProgress overwrites the value of a date; an empty date means today.
func (s *Session) SetProgress(ctx context.Context, id int64, date string, value int) error {
	if value < 0 {
		return ErrInvalidValue
	}
	if date == "" {
		date = s.Today()
	}
	return s.updateProgress(ctx, id, models.ProgressUpdate{Date: date, SetValue: &value})
}

// CompleteGoal toggles a check-in or fills an amount goal up to its daily target.
func (s *Session) CompleteGoal(ctx context.Context, detail *models.ChallengeDetail) error {
	if detail.GoalType == models.GoalCheckin {
		completed := true
		if me := detail.Me(s.Me().ID); me != nil {
			completed = !me.TodayCompleted
		}
		value := 0
		if completed {
			value = 1
		}
		return s.updateProgress(ctx, detail.ID, models.ProgressUpdate{Date: s.Today(), Completed: &completed, SetValue: &value})
	}
	if detail.DailyGoal == nil || *detail.DailyGoal <= 0 {
		return ErrNoDailyGoal
	}
	return s.SetProgress(ctx, detail.ID, "", *detail.DailyGoal)
}

func (s *Session) updateProgress(ctx context.Context, id int64, in models.ProgressUpdate) error {
	if err := s.client.UpdateProgress(ctx, id, in); err != nil {
		return err
	}
	s.cache.invalidate(keyChallenges, detailKey(id), statsKey(id))
	return nil
}

// Nudge pokes a teammate. Local eligibility is checked first; on success the
// timestamp is recorded optimistically, persisted, and the detail is re-fetched.
func (s *Session) Nudge(ctx context.Context, challengeID int64, target models.Participant) (*models.ChallengeDetail, error) {
	if target.ID == s.Me().ID {
		return nil, ErrSelfNudge
	}
	rec := s.reconciler(ctx, challengeID)
	switch e := rec.Eligibility(target); e.Status {
	case nudge.CompletedToday:
		return nil, ErrCompletedToday
	case nudge.CoolingDown:
		return nil, &CooldownError{Minutes: e.MinutesLeft}
	}

	if _, err := s.client.SendNudge(ctx, challengeID, target.ID); err != nil {
		return nil, err
	}
	at := rec.MarkNudged(target.ID)
	if err := s.store.SaveNudge(ctx, s.tgID, challengeID, target.ID, at); err != nil {
		s.logger.Printf("⚠️ save nudge %d->%d: %v", s.tgID, target.ID, err)
	}
	s.cache.invalidate(detailKey(challengeID))
	s.logger.Printf("👉 tg=%d nudged user=%d in challenge=%d", s.tgID, target.ID, challengeID)

	return s.Detail(ctx, challengeID, true)
}

func (s *Session) UpdateName(ctx context.Context, name string) (models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.User{}, ErrEmptyName
	}
	user, err := s.client.UpdateProfile(ctx, name)
	if err != nil {
		return models.User{}, err
	}
	s.client.Session().SetUser(*user)
	s.cache.invalidate(keyMe)
	return *user, nil
}

func (s *Session) PostMessage(ctx context.Context, challengeID int64, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, ErrMessageTooLong
	}
	msg, err := s.client.PostChallengeMessage(ctx, challengeID, text)
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(messagesKey(challengeID))
	return msg, nil
}

// ParseValue reads a non-negative integer typed by the user.
func ParseValue(text string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || v < 0 {
		return 0, ErrInvalidValue
	}
	return v, nil
}

// reconciler returns the challenge's reconciler, seeding it from the store until a load succeeds.
func (s *Session) reconciler(ctx context.Context, challengeID int64) *nudge.Reconciler {
	s.mu.Lock()
	entry, ok := s.reconcilers[challengeID]
	if !ok {
		entry = &reconcilerEntry{r: nudge.NewReconciler(s.now)}
		s.reconcilers[challengeID] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.seeded {
		stored, err := s.store.LoadNudges(ctx, s.tgID, challengeID)
		if err != nil {
			s.logger.Printf("⚠️ load nudges of challenge %d: %v", challengeID, err)
			return entry.r
		}
		entry.r.Seed(stored)
		entry.seeded = true
	}
	return entry.r
}
