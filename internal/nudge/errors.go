package nudge

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"repday/internal/api"
)

// Backend error tokens embedded in nudge failures.
const (
	TokenRecentProgress   = "recent_progress_update"
	TokenAlreadyCompleted = "already_completed_today"
)

// Kind classifies a failed nudge.
type Kind int

const (
	Generic Kind = iota
	RateLimited
	AlreadyCompleted
	RecentProgress
)

// defaultWaitMinutes is shown when a 429 body carries no minute count.
const defaultWaitMinutes = 60

var minutesRe = regexp.MustCompile(`(\d+)\s+minutes`)

// Failure is a classified nudge error.
type Failure struct {
	Kind    Kind
	Minutes int // set for RateLimited
	Err     error
}

// Classify maps a nudge error onto the backend's error taxonomy.
func Classify(err error) Failure {
	msg := err.Error()
	switch {
	case api.StatusOf(err) == http.StatusTooManyRequests || strings.Contains(msg, "429"):
		minutes := defaultWaitMinutes
		if m := minutesRe.FindStringSubmatch(msg); m != nil {
			if v, convErr := strconv.Atoi(m[1]); convErr == nil {
				minutes = v
			}
		}
		return Failure{Kind: RateLimited, Minutes: minutes, Err: err}
	case strings.Contains(msg, TokenRecentProgress):
		return Failure{Kind: RecentProgress, Err: err}
	case strings.Contains(msg, TokenAlreadyCompleted):
		return Failure{Kind: AlreadyCompleted, Err: err}
	default:
		return Failure{Kind: Generic, Err: err}
	}
}

// Message is the user-facing text of the failure.
func (f Failure) Message() string {
	switch f.Kind {
	case RateLimited:
		return fmt.Sprintf("Слишком часто! Можно пнуть не чаще раза в час. Попробуйте через %d мин.", f.Minutes)
	case RecentProgress:
		return "Себя пни и выполняй челлендж"
	case AlreadyCompleted:
		return "Он уже выполнил цель сегодня"
	default:
		return "Ошибка: " + f.Err.Error()
	}
}

// CooldownMessage is shown when the button is pressed before the window elapsed locally.
func CooldownMessage(minutes int) string {
	return fmt.Sprintf("Можно пнуть не чаще раза в час. Попробуйте через %d мин.", minutes)
}

// SuccessMessage confirms a nudge.
func SuccessMessage(displayName string) string {
	return fmt.Sprintf("Вы пнули %s! 💪", displayName)
}
