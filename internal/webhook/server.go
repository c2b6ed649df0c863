package webhook

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"

	"repday/internal/logger"
)

const DefaultPath = "/telegram/webhook"

// SecretHeader carries the secret_token registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateParser decodes an incoming webhook request. *tgbotapi.BotAPI satisfies it.
type UpdateParser interface {
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

// Server receives Telegram updates over HTTP and queues them for the bot loop.
type Server struct {
	path    string
	secret  []byte
	parser  UpdateParser
	updates chan<- tgbotapi.Update
	logger  *log.Logger
	srv     *http.Server
}

// New builds a webhook server. Requests without the matching secret header are rejected;
// an empty secret rejects every update.
func New(addr, path, secret string, parser UpdateParser, updates chan<- tgbotapi.Update, l *log.Logger) *Server {
	if path == "" {
		path = DefaultPath
	}
	if l == nil {
		l = logger.Discard()
	}
	s := &Server{path: path, secret: []byte(secret), parser: parser, updates: updates, logger: l}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	r.HandleFunc(s.path, s.handleUpdate).Methods(http.MethodPost)
	return r
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Printf("⚠️ webhook request from %s without a valid secret", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	update, err := s.parser.HandleUpdate(r)
	if err != nil {
		s.logger.Printf("⚠️ bad webhook payload: %v", err)
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}

	select {
	case s.updates <- *update:
		w.WriteHeader(http.StatusOK)
	case <-r.Context().Done():
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if len(s.secret) == 0 {
		return false
	}
	return hmac.Equal([]byte(r.Header.Get(SecretHeader)), s.secret)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Printf("🌐 webhook listening on %s%s", s.srv.Addr, s.path)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
