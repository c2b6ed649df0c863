// Package apitest runs an in-memory RepDay backend for tests.
//
// It follows the HTTP contract the bot consumes: Telegram init data auth,
// challenges, progress, stats, nudges with a one-hour window, and chat.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"repday/internal/initdata"
	"repday/internal/models"
)

const (
	nudgeWindow      = time.Hour
	maxMessageLength = 2000
	messagesLimit    = 100
)

type challenge struct {
	detail  models.ChallengeDetail
	ownerID int64
	members []int64
}

type dayKey struct {
	challengeID, userID int64
	date                string
}

type dayProgress struct {
	value     int
	completed bool
	updatedAt time.Time
}

type nudgeRow struct {
	challengeID, from, to int64
	at                    time.Time
}

// Backend is a fake RepDay API served over httptest.
type Backend struct {
	mu         sync.Mutex
	signer     *initdata.Signer
	secret     []byte
	users      map[int64]*models.User
	byTelegram map[int64]int64
	challenges map[int64]*challenge
	progress   map[dayKey]*dayProgress
	nudges     []nudgeRow
	messages   []models.Message
	nextID     int64
	calls      []string
	failures   []failure
	holds      map[string]*Hold

	// Now is the backend clock.
	Now func() time.Time

	Server *httptest.Server
}

type failure struct {
	status int
	body   string
}

// New starts a backend that accepts init data signed with botToken.
func New(botToken string) *Backend {
	b := &Backend{
		signer:     initdata.NewSigner(botToken),
		secret:     []byte("apitest-secret"),
		users:      make(map[int64]*models.User),
		byTelegram: make(map[int64]int64),
		challenges: make(map[int64]*challenge),
		progress:   make(map[dayKey]*dayProgress),
		holds:      make(map[string]*Hold),
		Now:        time.Now,
	}
	b.Server = httptest.NewServer(b.router())
	return b
}

func (b *Backend) URL() string { return b.Server.URL }

func (b *Backend) Close() { b.Server.Close() }

// Calls returns "METHOD /path" for every request received so far.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// FailNext makes the next request fail with status and a {"detail": body} payload.
func (b *Backend) FailNext(status int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, failure{status: status, body: detail})
}

// Hold parks the next request to method path until it is released or its client goes away.
type Hold struct {
	reached     chan struct{}
	release     chan struct{}
	releaseOnce sync.Once

	mu        sync.Mutex
	cancelled bool
}

// Reached is closed once the held request has arrived.
func (h *Hold) Reached() <-chan struct{} { return h.reached }

// Release lets the held request through.
func (h *Hold) Release() { h.releaseOnce.Do(func() { close(h.release) }) }

// Cancelled reports whether the client abandoned the held request.
func (h *Hold) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *Hold) park(r *http.Request) bool {
	close(h.reached)
	select {
	case <-h.release:
		return true
	case <-r.Context().Done():
		h.mu.Lock()
		h.cancelled = true
		h.mu.Unlock()
		return false
	}
}

// Hold registers a hold for the next request to method path.
func (b *Backend) Hold(method, path string) *Hold {
	h := &Hold{reached: make(chan struct{}), release: make(chan struct{})}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holds[method+" "+path] = h
	return h
}

// AddUser registers a Telegram user directly and returns its backend id.
func (b *Backend) AddUser(tgID int64, displayName string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upsertUser(tgID, "", displayName).ID
}

// Join adds a user to a challenge directly.
func (b *Backend) Join(challengeID, userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.challenges[challengeID]; ok && !ch.isMember(userID) {
		ch.members = append(ch.members, userID)
	}
}

// SetProgress stores a day value for a user, as if the user had logged it at updatedAt.
func (b *Backend) SetProgress(challengeID, userID int64, date string, value int, completed bool, updatedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.progress[dayKey{challengeID, userID, date}] = &dayProgress{value: value, completed: completed, updatedAt: updatedAt}
}

// RecordNudge stores a nudge as if it had been sent at at.
func (b *Backend) RecordNudge(challengeID, from, to int64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nudges = append(b.nudges, nudgeRow{challengeID: challengeID, from: from, to: to, at: at})
}

// IssueToken returns a bearer token for a backend user id.
func (b *Backend) IssueToken(userID int64) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": b.Now().Add(30 * 24 * time.Hour).Unix(),
	}).SignedString(b.secret)
	if err != nil {
		panic(err)
	}
	return token
}

func (b *Backend) router() http.Handler {
	r := mux.NewRouter()
	r.Use(b.record)
	r.HandleFunc("/auth/telegram", b.handleAuth).Methods(http.MethodPost)
	r.HandleFunc("/me", b.auth(b.handleUpdateMe)).Methods(http.MethodPatch)
	r.HandleFunc("/challenges", b.auth(b.handleList)).Methods(http.MethodGet)
	r.HandleFunc("/challenges", b.auth(b.handleCreate)).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{id:[0-9]+}", b.auth(b.handleDetail)).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{id:[0-9]+}", b.auth(b.handleDelete)).Methods(http.MethodDelete)
	r.HandleFunc("/challenges/{id:[0-9]+}/join", b.auth(b.handleJoin)).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{id:[0-9]+}/participants/{uid:[0-9]+}", b.auth(b.handleKick)).Methods(http.MethodDelete)
	r.HandleFunc("/challenges/{id:[0-9]+}/progress", b.auth(b.handleProgress)).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{id:[0-9]+}/stats", b.auth(b.handleStats)).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{id:[0-9]+}/nudge", b.auth(b.handleNudge)).Methods(http.MethodPost)
	r.HandleFunc("/challenges/{id:[0-9]+}/messages", b.auth(b.handleMessages)).Methods(http.MethodGet)
	r.HandleFunc("/challenges/{id:[0-9]+}/messages", b.auth(b.handlePostMessage)).Methods(http.MethodPost)
	return r
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := r.Method + " " + r.URL.Path
		b.mu.Lock()
		b.calls = append(b.calls, call)
		hold := b.holds[call]
		delete(b.holds, call)
		var f *failure
		if len(b.failures) > 0 {
			f = &b.failures[0]
			b.failures = b.failures[1:]
		}
		b.mu.Unlock()
		if hold != nil && !hold.park(r) {
			return
		}
		if f != nil {
			writeError(w, f.status, f.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user *models.User)

func (b *Backend) auth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		// expiry is checked against the backend clock, not wall time
		claims := jwt.MapClaims{}
		parser := jwt.NewParser(jwt.WithoutClaimsValidation())
		_, err := parser.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(*jwt.Token) (interface{}, error) {
			return b.secret, nil
		})
		sub, ok := claims["sub"].(float64)
		if err != nil || !ok || !claims.VerifyExpiresAt(b.Now().Unix(), true) {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		user, ok := b.users[int64(sub)]
		if !ok {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		next(w, r, user)
	}
}

func (b *Backend) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InitData string `json:"init_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InitData == "" {
		writeError(w, http.StatusBadRequest, "init_data is required")
		return
	}
	data, err := b.signer.Parse(req.InitData)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid init_data")
		return
	}

	b.mu.Lock()
	name := strings.TrimSpace(data.User.FirstName + " " + data.User.LastName)
	if name == "" {
		name = data.User.Username
	}
	user := b.upsertUser(data.User.ID, data.User.Username, name)
	resp := models.AuthResponse{User: *user}
	if data.StartParam != "" {
		for _, ch := range b.challenges {
			if ch.detail.InviteCode == data.StartParam {
				short := ch.detail.Short()
				short.TodayProgressValue, short.DaysCompleted = nil, nil
				resp.InviteChallenge = &short
			}
		}
	}
	b.mu.Unlock()

	resp.Token = b.IssueToken(user.ID)
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) handleUpdateMe(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req struct {
		DisplayName *string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid json")
		return
	}
	if req.DisplayName != nil {
		user.DisplayName = *req.DisplayName
		user.UpdatedAt = b.Now()
	}
	writeJSON(w, http.StatusOK, user)
}

func (b *Backend) handleList(w http.ResponseWriter, _ *http.Request, user *models.User) {
	out := []models.ChallengeShort{}
	for _, id := range b.sortedChallengeIDs() {
		ch := b.challenges[id]
		if !ch.isMember(user.ID) {
			continue
		}
		short := ch.detail.Short()
		dp := b.day(id, user.ID, b.today())
		short.TodayProgressValue = &dp.value
		if g := ch.detail.DailyGoal; g != nil && *g > 0 {
			p := float64(dp.value) / float64(*g) * 100
			short.TodayProgressPercent = &p
		}
		days := 0
		for k, v := range b.progress {
			if k.challengeID == id && k.userID == user.ID && v.completed {
				days++
			}
		}
		short.DaysCompleted = &days
		out = append(out, short)
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handleCreate(w http.ResponseWriter, r *http.Request, user *models.User) {
	var req models.NewChallenge
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid json")
		return
	}
	start, err := time.Parse(models.DateLayout, req.StartDate)
	if err != nil || req.Title == "" || req.DurationDays < 1 {
		writeError(w, http.StatusUnprocessableEntity, "invalid challenge")
		return
	}
	b.nextID++
	ch := &challenge{
		ownerID: user.ID,
		members: []int64{user.ID},
		detail: models.ChallengeDetail{
			ID:           b.nextID,
			Title:        req.Title,
			Description:  req.Description,
			GoalType:     req.GoalType,
			DailyGoal:    req.DailyGoal,
			Unit:         req.Unit,
			DurationDays: req.DurationDays,
			StartDate:    req.StartDate,
			EndDate:      start.AddDate(0, 0, req.DurationDays-1).Format(models.DateLayout),
			IsPublic:     req.IsPublic,
			InviteCode:   strings.ReplaceAll(uuid.NewString(), "-", "")[:11],
		},
	}
	b.challenges[ch.detail.ID] = ch
	writeJSON(w, http.StatusOK, b.detailFor(ch, user))
}

func (b *Backend) handleDetail(w http.ResponseWriter, r *http.Request, user *models.User) {
	ch, ok := b.member(w, r, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.detailFor(ch, user))
}

func (b *Backend) handleJoin(w http.ResponseWriter, r *http.Request, user *models.User) {
	ch, ok := b.challenges[pathID(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Challenge not found")
		return
	}
	if !ch.isMember(user.ID) {
		ch.members = append(ch.members, user.ID)
	}
	writeJSON(w, http.StatusOK, b.detailFor(ch, user))
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request, user *models.User) {
	ch, ok := b.challenges[pathID(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Challenge not found")
		return
	}
	if ch.ownerID != user.ID {
		writeError(w, http.StatusForbidden, "Only owner can delete challenge")
		return
	}
	delete(b.challenges, ch.detail.ID)
	writeJSON(w, http.StatusOK, models.OK{OK: true})
}

func (b *Backend) handleKick(w http.ResponseWriter, r *http.Request, user *models.User) {
	target := pathID(r, "uid")
	if target == user.ID {
		writeError(w, http.StatusBadRequest, "Cannot remove yourself")
		return
	}
	ch, ok := b.challenges[pathID(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Challenge not found")
		return
	}
	if ch.ownerID != user.ID {
		writeError(w, http.StatusForbidden, "Only owner can remove participants")
		return
	}
	if !ch.isMember(target) {
		writeError(w, http.StatusNotFound, "Participant not found")
		return
	}
	kept := ch.members[:0]
	for _, id := range ch.members {
		if id != target {
			kept = append(kept, id)
		}
	}
	ch.members = kept
	writeJSON(w, http.StatusOK, models.OK{OK: true})
}

func (b *Backend) handleProgress(w http.ResponseWriter, r *http.Request, user *models.User) {
	ch, ok := b.member(w, r, user)
	if !ok {
		return
	}
	var req models.ProgressUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Date == "" {
		writeError(w, http.StatusUnprocessableEntity, "invalid progress")
		return
	}
	key := dayKey{ch.detail.ID, user.ID, req.Date}
	dp, ok := b.progress[key]
	if !ok {
		dp = &dayProgress{}
		b.progress[key] = dp
	}
	switch {
	case req.SetValue != nil:
		dp.value = max(0, *req.SetValue)
	case req.Delta != nil:
		dp.value = max(0, dp.value+*req.Delta)
	}
	if req.Completed != nil {
		dp.completed = *req.Completed
	} else if g := ch.detail.DailyGoal; g != nil && *g > 0 {
		dp.completed = dp.value >= *g
	}
	dp.updatedAt = b.Now()
	writeJSON(w, http.StatusOK, models.OK{OK: true})
}

func (b *Backend) handleStats(w http.ResponseWriter, r *http.Request, user *models.User) {
	ch, ok := b.member(w, r, user)
	if !ok {
		return
	}
	stats := models.Stats{Points: []models.DayPoint{}}
	start, _ := time.Parse(models.DateLayout, ch.detail.StartDate)
	end, _ := time.Parse(models.DateLayout, ch.detail.EndDate)
	today, _ := time.Parse(models.DateLayout, b.today())
	if today.Before(end) {
		end = today
	}
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(models.DateLayout)
		dp := b.day(ch.detail.ID, user.ID, date)
		percent := 0.0
		if g := ch.detail.DailyGoal; g != nil && *g > 0 {
			percent = min(100, float64(dp.value)/float64(*g)*100)
		} else if dp.completed {
			percent = 100
		}
		if dp.completed {
			stats.CompletedDays++
		} else {
			stats.MissedDays++
		}
		stats.Points = append(stats.Points, models.DayPoint{Date: date, Percent: percent, Value: dp.value})
	}

	items := make([]models.LeaderboardItem, 0, len(ch.members))
	for _, id := range ch.members {
		item := models.LeaderboardItem{UserID: id, DisplayName: b.users[id].DisplayName}
		for k, v := range b.progress {
			if k.challengeID == ch.detail.ID && k.userID == id {
				item.TotalValue += v.value
				if v.completed {
					item.CompletedDays++
				}
			}
		}
		items = append(items, item)
	}
	stats.LeaderboardByValue = append([]models.LeaderboardItem(nil), items...)
	sort.SliceStable(stats.LeaderboardByValue, func(i, j int) bool {
		return stats.LeaderboardByValue[i].TotalValue > stats.LeaderboardByValue[j].TotalValue
	})
	stats.LeaderboardByDays = append([]models.LeaderboardItem(nil), items...)
	sort.SliceStable(stats.LeaderboardByDays, func(i, j int) bool {
		return stats.LeaderboardByDays[i].CompletedDays > stats.LeaderboardByDays[j].CompletedDays
	})
	writeJSON(w, http.StatusOK, stats)
}

func (b *Backend) handleNudge(w http.ResponseWriter, r *http.Request, user *models.User) {
	to, err := strconv.ParseInt(r.URL.Query().Get("to_user_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "to_user_id is required")
		return
	}
	if to == user.ID {
		writeError(w, http.StatusBadRequest, "cannot nudge self")
		return
	}
	ch, ok := b.member(w, r, user)
	if !ok {
		return
	}
	if !ch.isMember(to) {
		writeError(w, http.StatusNotFound, "target not participant")
		return
	}

	now := b.Now()
	if b.day(ch.detail.ID, to, b.today()).completed {
		writeError(w, http.StatusBadRequest, "already_completed_today")
		return
	}
	for k, v := range b.progress {
		if k.challengeID == ch.detail.ID && k.userID == to && now.Sub(v.updatedAt) < nudgeWindow {
			writeError(w, http.StatusBadRequest, "recent_progress_update")
			return
		}
	}
	if last, ok := b.lastNudge(ch.detail.ID, user.ID, to); ok && now.Sub(last) < nudgeWindow {
		left := last.Add(nudgeWindow).Sub(now)
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("too many nudges. Next nudge available in %d minutes", int(left.Minutes())))
		return
	}

	b.nudges = append(b.nudges, nudgeRow{challengeID: ch.detail.ID, from: user.ID, to: to, at: now})
	nudged := now.UTC().Format("2006-01-02T15:04:05.999999")
	next := now.Add(nudgeWindow).UTC().Format("2006-01-02T15:04:05.999999")
	writeJSON(w, http.StatusOK, models.NudgeResult{OK: true, NudgedAt: &nudged, NextNudgeAvailableAt: &next})
}

func (b *Backend) handleMessages(w http.ResponseWriter, r *http.Request, user *models.User) {
	ch, ok := b.member(w, r, user)
	if !ok {
		return
	}
	out := []models.Message{}
	for i := len(b.messages) - 1; i >= 0 && len(out) < messagesLimit; i-- {
		if b.messages[i].ChallengeID == ch.detail.ID {
			out = append(out, b.messages[i])
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) handlePostMessage(w http.ResponseWriter, r *http.Request, user *models.User) {
	ch, ok := b.member(w, r, user)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "Message text is required")
		return
	}
	if len([]rune(text)) > maxMessageLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Message too long (max %d characters)", maxMessageLength))
		return
	}
	b.nextID++
	msg := models.Message{
		ID:          b.nextID,
		ChallengeID: ch.detail.ID,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Text:        text,
		CreatedAt:   b.Now().Format(time.RFC3339),
	}
	b.messages = append(b.messages, msg)
	writeJSON(w, http.StatusOK, msg)
}

func (b *Backend) upsertUser(tgID int64, username, displayName string) *models.User {
	if id, ok := b.byTelegram[tgID]; ok {
		u := b.users[id]
		if username != "" {
			u.Username = &username
		}
		return u
	}
	b.nextID++
	now := b.Now()
	u := &models.User{ID: b.nextID, TelegramID: tgID, DisplayName: displayName, CreatedAt: now, UpdatedAt: now}
	if username != "" {
		u.Username = &username
	}
	if u.DisplayName == "" {
		u.DisplayName = fmt.Sprintf("User %d", tgID)
	}
	b.users[u.ID] = u
	b.byTelegram[tgID] = u.ID
	return u
}

func (b *Backend) member(w http.ResponseWriter, r *http.Request, user *models.User) (*challenge, bool) {
	ch, ok := b.challenges[pathID(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "Challenge not found")
		return nil, false
	}
	if !ch.isMember(user.ID) {
		writeError(w, http.StatusForbidden, "Not a participant")
		return nil, false
	}
	return ch, true
}

func (b *Backend) detailFor(ch *challenge, viewer *models.User) models.ChallengeDetail {
	d := ch.detail
	isParticipant := ch.isMember(viewer.ID)
	d.IsParticipant = &isParticipant
	d.IsOwner = ch.ownerID == viewer.ID
	d.Participants = make([]models.Participant, 0, len(ch.members))
	for _, id := range ch.members {
		dp := b.day(ch.detail.ID, id, b.today())
		p := models.Participant{
			ID:             id,
			DisplayName:    b.users[id].DisplayName,
			TodayValue:     dp.value,
			TodayCompleted: dp.completed,
		}
		if id != viewer.ID {
			if at, ok := b.lastNudge(ch.detail.ID, viewer.ID, id); ok {
				s := at.In(time.FixedZone("MSK", 3*3600)).Format(time.RFC3339Nano)
				p.LastNudgeAt = &s
			}
		}
		d.Participants = append(d.Participants, p)
	}
	return d
}

func (b *Backend) lastNudge(challengeID, from, to int64) (time.Time, bool) {
	var last time.Time
	found := false
	for _, n := range b.nudges {
		if n.challengeID == challengeID && n.from == from && n.to == to && (!found || n.at.After(last)) {
			last, found = n.at, true
		}
	}
	return last, found
}

func (b *Backend) day(challengeID, userID int64, date string) dayProgress {
	if dp, ok := b.progress[dayKey{challengeID, userID, date}]; ok {
		return *dp
	}
	return dayProgress{}
}

func (b *Backend) today() string {
	return b.Now().UTC().Format(models.DateLayout)
}

func (b *Backend) sortedChallengeIDs() []int64 {
	ids := make([]int64, 0, len(b.challenges))
	for id := range b.challenges {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *challenge) isMember(userID int64) bool {
	for _, id := range c.members {
		if id == userID {
			return true
		}
	}
	return false
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
