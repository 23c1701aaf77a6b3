package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/digkill/ThumbnailBot/internal/models"
	"github.com/digkill/ThumbnailBot/internal/service"
)

const maxWebhookBody = 64 << 10

// PaymentWebhook applies signed payment provider notifications.
type PaymentWebhook interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	users    *service.UserService
	payments PaymentWebhook
	router   *chi.Mux
}

// NewServer builds the HTTP surface. telegramHook may be nil when the bot
// uses long polling.
func NewServer(addr, username, password string, log *slog.Logger, users *service.UserService, payments PaymentWebhook, telegramHook http.Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		users:    users,
		payments: payments,
		router:   r,
	}
	r.Get("/healthz", s.handleHealth)
	r.Post("/webhook/stripe", s.handleStripeWebhook)
	if telegramHook != nil {
		r.Method(http.MethodPost, "/webhook/telegram", telegramHook)
	}
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Route("/accounts/{userID}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Post("/credits", s.handleGrantCredits)
			r.Get("/transactions", s.handleListTransactions)
		})
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("http shutdown error", "err", err)
		}
	}()

	s.log.Info("http server listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStripeWebhook answers 400 for forged or malformed notifications and
// 500 when the ledger could not be written, so Stripe retries later.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.log.Warn("stripe webhook too large", "limit", tooLarge.Limit)
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}

	err = s.payments.HandleWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	case models.IsPersistence(err):
		s.internalError(w, err)
	default:
		s.log.Warn("stripe webhook rejected", "err", err)
		http.Error(w, "invalid notification", http.StatusBadRequest)
	}
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	sent, failed, err := s.users.Broadcast(r.Context(), req.Message)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  sent,
		"total": sent + failed,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.users.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.accountError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

type grantRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	account, err := s.users.Grant(r.Context(), chi.URLParam(r, "userID"), req.Amount)
	if err != nil {
		s.accountError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.users.Transactions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.accountError(w, err)
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	s.writeJSON(w, http.StatusOK, txns)
}

func (s *Server) accountError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrAccountNotFound) {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	s.internalError(w, err)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="thumbnailbot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("http handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
