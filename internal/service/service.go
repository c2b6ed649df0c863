package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"repday/internal/api"
	"repday/internal/initdata"
	"repday/internal/logger"
	"repday/internal/models"
	"repday/internal/repository"
)

var ErrNoIdentity = errors.New("Не удалось определить пользователя Telegram. Откройте бота из Telegram.")

// Options configures a Service.
type Options struct {
	APIBaseURL  string
	BotToken    string
	HTTPTimeout time.Duration
	HTTPClient  *http.Client // overrides HTTPTimeout when set
	Logger      *log.Logger
	Now         func() time.Time
}

// Service owns one authenticated RepDay session per Telegram user.
type Service struct {
	opts   Options
	store  repository.Store
	signer *initdata.Signer
	logger *log.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewService(store repository.Store, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		opts:     opts,
		store:    store,
		signer:   initdata.NewSigner(opts.BotToken),
		logger:   opts.Logger,
		now:      opts.Now,
		sessions: make(map[int64]*Session),
	}
}

// Session returns an authenticated session for a Telegram user, reusing a live one,
// then a stored token, and exchanging fresh init data only when neither is valid.
func (s *Service) Session(ctx context.Context, tgUser initdata.User) (*Session, error) {
	if tgUser.ID == 0 {
		return nil, ErrNoIdentity
	}
	sess := s.session(tgUser.ID)
	if sess.client.Session().Valid(s.now()) {
		return sess, nil
	}

	stored, err := s.store.GetSession(ctx, tgUser.ID)
	switch {
	case err == nil:
		sess.client.Session().Set(stored.Token, stored.User)
		if sess.client.Session().Valid(s.now()) {
			return sess, nil
		}
	case !errors.Is(err, repository.ErrNotFound):
		s.logger.Printf("⚠️ load session for %d: %v", tgUser.ID, err)
	}

	if _, err := s.Authenticate(ctx, tgUser, ""); err != nil {
		return nil, err
	}
	return sess, nil
}

// Authenticate always performs the auth exchange. A non-empty startParam is passed to the
// backend as an invite code; the invited challenge, if any, is returned.
func (s *Service) Authenticate(ctx context.Context, tgUser initdata.User, startParam string) (*models.ChallengeShort, error) {
	if tgUser.ID == 0 {
		return nil, ErrNoIdentity
	}
	sess := s.session(tgUser.ID)

	raw, err := s.signer.Sign(initdata.Data{User: tgUser, AuthDate: s.now(), StartParam: startParam})
	if err != nil {
		return nil, fmt.Errorf("sign init data: %w", err)
	}
	resp, err := sess.client.AuthTelegram(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("auth telegram: %w", err)
	}

	sess.client.Session().Set(resp.Token, resp.User)
	sess.cache.clear()
	if err := s.store.SaveSession(ctx, repository.Session{
		TelegramID: tgUser.ID,
		Token:      resp.Token,
		User:       resp.User,
	}); err != nil {
		s.logger.Printf("⚠️ save session for %d: %v", tgUser.ID, err)
	}
	s.logger.Printf("🔑 authenticated tg=%d as user=%d", tgUser.ID, resp.User.ID)
	return resp.InviteChallenge, nil
}

// Logout drops the live and the stored session of a Telegram user.
func (s *Service) Logout(ctx context.Context, tgID int64) error {
	s.mu.Lock()
	sess, ok := s.sessions[tgID]
	delete(s.sessions, tgID)
	s.mu.Unlock()
	if ok {
		sess.client.Session().Clear()
	}
	return s.store.DeleteSession(ctx, tgID)
}

func (s *Service) session(tgID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tgID]
	if !ok {
		sess = s.newSession(tgID)
		s.sessions[tgID] = sess
	}
	return sess
}

func (s *Service) newSession(tgID int64) *Session {
	opts := []api.Option{api.WithLogger(s.logger)}
	if s.opts.HTTPClient != nil {
		opts = append(opts, api.WithHTTPClient(s.opts.HTTPClient))
	} else if s.opts.HTTPTimeout > 0 {
		opts = append(opts, api.WithTimeout(s.opts.HTTPTimeout))
	}
	return &Session{
		tgID:        tgID,
		client:      api.New(s.opts.APIBaseURL, api.NewSession(), opts...),
		cache:       newCache(),
		store:       s.store,
		logger:      s.logger,
		now:         s.now,
		reconcilers: make(map[int64]*reconcilerEntry),
	}
}
