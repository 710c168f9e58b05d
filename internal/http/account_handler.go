package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/coaching-marketplace/internal/application"
	"github.com/example/coaching-marketplace/internal/identity"
	"github.com/example/coaching-marketplace/internal/persistence"
)

type accountService interface {
	CreateAccount(ctx context.Context, params identity.CreateAccountParams) (persistence.Account, error)
	GetAccount(ctx context.Context, id string) (persistence.Account, error)
}

type AccountHandler struct {
	service   accountService
	responder responder
	logger    *slog.Logger
}

func NewAccountHandler(service accountService, logger *slog.Logger) *AccountHandler {
	base := defaultLogger(logger)
	return &AccountHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AccountHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AccountHandler", operation, attrs...)
}

// Create registers a new account. Registration is open; coaches flag
// themselves at signup.
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Create", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode account request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	logger := h.log(r.Context(), "Create", "email", email, "is_coach", req.IsCoach)

	account, err := h.service.CreateAccount(r.Context(), identity.CreateAccountParams{
		Email:       email,
		DisplayName: strings.TrimSpace(req.DisplayName),
		Password:    req.Password,
		IsCoach:     req.IsCoach,
	})
	if err != nil {
		logger.ErrorContext(r.Context(), "account creation failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("account_id", account.ID).InfoContext(r.Context(), "account created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, toAccountDTO(account))
}

// Get returns one account. The email address is visible only to the
// account owner and service principals.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request, id string) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidAccountID)
		return
	}

	account, err := h.service.GetAccount(r.Context(), trimmed)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dto := toAccountDTO(account)
	principal, _ := PrincipalFromContext(r.Context())
	if principal.UserID != account.ID && !principal.IsService {
		dto.Email = ""
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, dto)
}

type createAccountRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	IsCoach     bool   `json:"is_coach"`
}

type accountDTO struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name"`
	IsCoach     bool   `json:"is_coach"`
	CreatedAt   string `json:"created_at"`
}

func toAccountDTO(account persistence.Account) accountDTO {
	return accountDTO{
		ID:          account.ID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		IsCoach:     account.IsCoach,
		CreatedAt:   account.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
