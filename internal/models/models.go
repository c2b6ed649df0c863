package models

import (
	"math"
	"time"
)

// GoalType is the kind of daily goal a challenge tracks.
type GoalType string

const (
	GoalQuantitative GoalType = "quantitative" // numeric daily target
	GoalTime         GoalType = "time"         // duration target, same arithmetic as quantitative
	GoalCheckin      GoalType = "checkin"      // binary daily completion
)

// DateLayout is the calendar date format used by the backend.
const DateLayout = "2006-01-02"

// User represents the authenticated RepDay user.
type User struct {
	ID            int64     `json:"id"`              // Internal ID
	TelegramID    int64     `json:"telegram_id"`     // Telegram ID of the user
	Username      *string   `json:"username"`        // @nickname, may be absent
	DisplayName   string    `json:"display_name"`    // Name shown in challenges
	BotChatActive bool      `json:"bot_chat_active"` // Whether the bot can message the user
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChallengeShort is a challenge as it appears in the list.
type ChallengeShort struct {
	ID                   int64    `json:"id"`
	Title                string   `json:"title"`
	Description          *string  `json:"description,omitempty"`
	GoalType             GoalType `json:"goal_type"`
	Unit                 string   `json:"unit"`
	DailyGoal            *int     `json:"daily_goal"`
	DurationDays         int      `json:"duration_days"`
	StartDate            string   `json:"start_date"`
	EndDate              string   `json:"end_date"`
	TodayProgressValue   *int     `json:"today_progress_value,omitempty"`
	TodayProgressPercent *float64 `json:"today_progress_percent,omitempty"`
	DaysCompleted        *int     `json:"days_completed,omitempty"`
}

// Participant is a user's membership in a challenge as seen by the viewer.
type Participant struct {
	ID             int64   `json:"id"`
	DisplayName    string  `json:"display_name"`
	TodayValue     int     `json:"today_value"`
	TodayCompleted bool    `json:"today_completed"`
	StreakCurrent  int     `json:"streak_current"`
	LastNudgeAt    *string `json:"last_nudge_at,omitempty"` // when the viewer last nudged this participant
}

// ChallengeDetail is the full challenge including its team.
type ChallengeDetail struct {
	ID            int64         `json:"id"`
	Title         string        `json:"title"`
	Description   *string       `json:"description"`
	GoalType      GoalType      `json:"goal_type"`
	DailyGoal     *int          `json:"daily_goal"`
	Unit          string        `json:"unit"`
	DurationDays  int           `json:"duration_days"`
	StartDate     string        `json:"start_date"`
	EndDate       string        `json:"end_date"`
	IsPublic      bool          `json:"is_public"`
	InviteCode    string        `json:"invite_code"`
	Participants  []Participant `json:"participants"`
	IsOwner       bool          `json:"is_owner"`
	IsParticipant *bool         `json:"is_participant,omitempty"` // false when a superadmin views without membership
}

// NewChallenge is the body of a create request.
type NewChallenge struct {
	Title        string   `json:"title"`
	Description  *string  `json:"description,omitempty"`
	GoalType     GoalType `json:"goal_type"`
	DailyGoal    *int     `json:"daily_goal,omitempty"`
	Unit         string   `json:"unit"`
	DurationDays int      `json:"duration_days"`
	StartDate    string   `json:"start_date"`
	IsPublic     bool     `json:"is_public"`
}

// ProgressUpdate carries one progress intent for a date.
// Exactly one of Delta, SetValue or Completed(+SetValue) is expected.
type ProgressUpdate struct {
	Date      string `json:"date"`
	Delta     *int   `json:"delta,omitempty"`
	SetValue  *int   `json:"set_value,omitempty"`
	Completed *bool  `json:"completed,omitempty"`
}

// DayPoint is one day of the stats time series.
type DayPoint struct {
	Date    string  `json:"date"`
	Percent float64 `json:"percent"`
	Value   int     `json:"value"`
}

// LeaderboardItem is one row of a leaderboard.
type LeaderboardItem struct {
	UserID        int64  `json:"user_id"`
	DisplayName   string `json:"display_name"`
	TotalValue    int    `json:"total_value"`
	CompletedDays int    `json:"completed_days"`
}

// Stats is the read-only aggregate view of a challenge.
type Stats struct {
	CompletedDays      int               `json:"completed_days"`
	MissedDays         int               `json:"missed_days"`
	Points             []DayPoint        `json:"points"`
	LeaderboardByValue []LeaderboardItem `json:"leaderboard_by_value"`
	LeaderboardByDays  []LeaderboardItem `json:"leaderboard_by_days"`
}

// Message is a chat entry scoped to a challenge.
type Message struct {
	ID          int64  `json:"id"`
	ChallengeID int64  `json:"challenge_id"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
}

// AuthResponse is returned by the Telegram auth exchange.
type AuthResponse struct {
	Token           string          `json:"token"`
	User            User            `json:"user"`
	InviteChallenge *ChallengeShort `json:"invite_challenge,omitempty"`
}

// NudgeResult is returned by a successful nudge.
type NudgeResult struct {
	OK                   bool    `json:"ok"`
	NudgedAt             *string `json:"nudged_at,omitempty"`
	NextNudgeAvailableAt *string `json:"next_nudge_available_at,omitempty"`
}

// OK is the generic acknowledgement body.
type OK struct {
	OK bool `json:"ok"`
}

// IsAmount reports whether the goal is tracked as a numeric amount.
func (g GoalType) IsAmount() bool {
	return g == GoalQuantitative || g == GoalTime
}

// Valid reports whether g is one of the known goal types.
func (g GoalType) Valid() bool {
	return g == GoalQuantitative || g == GoalTime || g == GoalCheckin
}

// ProgressPercent returns today's completion percent for a goal.
func ProgressPercent(goalType GoalType, dailyGoal *int, value int, completed bool) int {
	if !goalType.IsAmount() {
		if completed {
			return 100
		}
		return 0
	}
	if dailyGoal == nil || *dailyGoal <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(value) / float64(*dailyGoal)))
	if p > 100 {
		return 100
	}
	return p
}

// Me returns the viewer's own participant entry, if any.
func (d *ChallengeDetail) Me(viewerID int64) *Participant {
	for i := range d.Participants {
		if d.Participants[i].ID == viewerID {
			return &d.Participants[i]
		}
	}
	return nil
}

// Participant looks up a team member by user id.
func (d *ChallengeDetail) Participant(userID int64) (Participant, bool) {
	if p := d.Me(userID); p != nil {
		return *p, true
	}
	return Participant{}, false
}

// Short converts a detail into its list form with empty progress.
func (d *ChallengeDetail) Short() ChallengeShort {
	zero := 0
	return ChallengeShort{
		ID:                 d.ID,
		Title:              d.Title,
		Description:        d.Description,
		GoalType:           d.GoalType,
		Unit:               d.Unit,
		DailyGoal:          d.DailyGoal,
		DurationDays:       d.DurationDays,
		StartDate:          d.StartDate,
		EndDate:            d.EndDate,
		TodayProgressValue: &zero,
		DaysCompleted:      &zero,
	}
}
