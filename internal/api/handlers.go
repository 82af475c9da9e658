/**
 * @description
 * This file contains the HTTP handlers for the portal-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models,
 *   and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/finportal/portal-service/internal/app"
	"github.com/finportal/portal-service/internal/domain"
	"github.com/finportal/portal-service/internal/store"
)

// PortalHandlers holds the application service that handlers will use.
type PortalHandlers struct {
	service *app.Service
}

// NewPortalHandlers creates a new instance of PortalHandlers.
func NewPortalHandlers(service *app.Service) *PortalHandlers {
	return &PortalHandlers{service: service}
}

// writeJSON writes a JSON response with the given status code.
func (h *PortalHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
		}
	}
}

// writeError is a helper for writing JSON error responses.
func (h *PortalHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// decode parses a JSON request body into dst.
func (h *PortalHandlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// RegisterHandler handles new user registration.
func (h *PortalHandlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEmailTaken):
			h.writeError(w, http.StatusConflict, "Email already registered")
		case errors.Is(err, app.ErrWeakPassword):
			h.writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		case errors.Is(err, app.ErrInvalidCredentials):
			h.writeError(w, http.StatusBadRequest, "Email and password are required")
		default:
			log.Printf("level=error component=api endpoint=register err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Registration failed")
		}
		return
	}

	log.Printf("level=info component=api endpoint=register outcome=created user_id=%s", user.ID)
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":    user.ID,
		"email": user.Email,
	})
}

// VerifyEmailHandler handles the email-ownership verification link.
func (h *PortalHandlers) VerifyEmailHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "Missing verification token")
		return
	}

	if err := h.service.VerifyEmail(r.Context(), token); err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidEmailToken):
			h.writeError(w, http.StatusBadRequest, "Verification link is invalid or expired")
		case errors.Is(err, store.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "User not found")
		default:
			log.Printf("level=error component=api endpoint=verify_email err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Verification failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
}

// LoginHandler checks credentials and starts the MFA step.
func (h *PortalHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.service.Login(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCredentials):
			h.writeError(w, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, app.ErrEmailNotVerified):
			h.writeError(w, http.StatusForbidden, "Verify your email before logging in")
		default:
			log.Printf("level=error component=api endpoint=login err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_token": token,
		"mfa_required":  true,
	})
}

// VerifyLoginHandler completes the login MFA step. The session is still in
// login_pending state here, so this endpoint sits outside the authenticated
// route group and reads the bearer token directly.
func (h *PortalHandlers) VerifyLoginHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authorization header required")
		return
	}
	var req domain.VerifyCodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.VerifyLoginCode(r.Context(), token, req.Code); err != nil {
		switch {
		case errors.Is(err, app.ErrNoLoginPending):
			h.writeError(w, http.StatusConflict, "No login verification pending")
		case errors.Is(err, app.ErrCodeInvalid):
			otpRejections.WithLabelValues("invalid").Inc()
			h.writeError(w, http.StatusUnauthorized, "Invalid code")
		case errors.Is(err, app.ErrCodeExpired):
			otpRejections.WithLabelValues("expired").Inc()
			h.writeError(w, http.StatusGone, "Code expired, log in again")
		case errors.Is(err, app.ErrCodeAlreadyUsed):
			otpRejections.WithLabelValues("already_used").Inc()
			h.writeError(w, http.StatusConflict, "Code already used")
		default:
			log.Printf("level=error component=api endpoint=mfa_verify err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Verification failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Authenticated"})
}

// LogoutHandler discards the session, whatever state it is in.
func (h *PortalHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authorization header required")
		return
	}
	if err := h.service.Logout(r.Context(), token); err != nil {
		log.Printf("level=error component=api endpoint=logout err=%v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAccountsHandler returns the user's accounts and total balance.
func (h *PortalHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := GetSessionToken(r.Context())

	accounts, total, err := h.service.ListAccounts(r.Context(), token)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_accounts err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list accounts")
		return
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts":            accounts,
		"total_balance_cents": total,
	})
}

// ListTransactionsHandler returns one owned account's ledger, newest first.
func (h *PortalHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := GetSessionToken(r.Context())

	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	txs, err := h.service.ListTransactions(r.Context(), token, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=list_transactions err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to list transactions")
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

// writeStagingError maps the validation failures staging can produce.
func (h *PortalHandlers) writeStagingError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidBankType):
		h.writeError(w, http.StatusBadRequest, "Unknown bank type")
	case errors.Is(err, app.ErrInvalidAlias):
		h.writeError(w, http.StatusBadRequest, "Account alias is required")
	case errors.Is(err, domain.ErrInvalidAmount):
		h.writeError(w, http.StatusBadRequest, "Amount is not a valid positive decimal")
	case errors.Is(err, store.ErrSameAccount):
		h.writeError(w, http.StatusBadRequest, "Source and destination accounts must differ")
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusUnprocessableEntity, "Insufficient funds in the source account")
	case errors.Is(err, store.ErrRecipientNotFound):
		h.writeError(w, http.StatusUnprocessableEntity, "No user registered with that email")
	case errors.Is(err, store.ErrRecipientHasNoAccount):
		h.writeError(w, http.StatusUnprocessableEntity, "Recipient has no account to receive funds")
	default:
		log.Printf("level=error component=api endpoint=%s err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to stage operation")
	}
}

// stagedResponse is the uniform 202 payload directing the caller to the
// confirmation step.
func (h *PortalHandlers) stagedResponse(w http.ResponseWriter, summary *domain.OperationSummary) {
	operationsStaged.WithLabelValues(string(summary.Kind)).Inc()
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"confirmation_required": true,
		"operation":             summary,
	})
}

// OpenAccountHandler stages an open-account operation.
func (h *PortalHandlers) OpenAccountHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := GetSessionToken(r.Context())

	var req domain.OpenAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	summary, err := h.service.StageOpenAccount(r.Context(), token, req)
	if err != nil {
		h.writeStagingError(w, "open_account", err)
		return
	}
	h.stagedResponse(w, summary)
}

// InternalTransferHandler stages a transfer between the user's own accounts.
func (h *PortalHandlers) InternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := GetSessionToken(r.Context())

	var req domain.InternalTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	summary, err := h.service.StageInternalTransfer(r.Context(), token, req)
	if err != nil {
		h.writeStagingError(w, "internal_transfer", err)
		return
	}
	h.stagedResponse(w, summary)
}

// ExternalTransferHandler stages a transfer to another user.
func (h *PortalHandlers) ExternalTransferHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := GetSessionToken(r.Context())

	var req domain.ExternalTransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	summary, err := h.service.StageExternalTransfer(r.Context(), token, req)
	if err != nil {
		h.writeStagingError(w, "external_transfer", err)
		return
	}
	h.stagedResponse(w, summary)
}

// PendingOperationHandler returns the summary of the staged operation.
func (h *PortalHandlers) PendingOperationHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := GetSessionToken(r.Context())

	summary, err := h.service.PendingOperation(r.Context(), token)
	if err != nil {
		if errors.Is(err, app.ErrNoPendingOperation) {
			h.writeError(w, http.StatusNotFound, "No pending operation")
			return
		}
		log.Printf("level=error component=api endpoint=pending_operation err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to read pending operation")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"operation": summary})
}

// ConfirmOperationHandler validates the submitted code and executes the
// pending operation.
func (h *PortalHandlers) ConfirmOperationHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := GetSessionToken(r.Context())

	var req domain.VerifyCodeRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.service.ConfirmOperation(r.Context(), token, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrNoPendingOperation):
			h.writeError(w, http.StatusNotFound, "No pending operation to confirm")
		case errors.Is(err, app.ErrCodeInvalid):
			otpRejections.WithLabelValues("invalid").Inc()
			h.writeError(w, http.StatusUnauthorized, "Invalid code, try again")
		case errors.Is(err, app.ErrCodeExpired):
			otpRejections.WithLabelValues("expired").Inc()
			h.writeError(w, http.StatusGone, "Code expired, stage the operation again")
		case errors.Is(err, app.ErrCodeAlreadyUsed):
			otpRejections.WithLabelValues("already_used").Inc()
			h.writeError(w, http.StatusConflict, "Code already used")
		case errors.Is(err, store.ErrInsufficientFunds):
			h.writeError(w, http.StatusUnprocessableEntity, "Insufficient funds in the source account")
		case errors.Is(err, store.ErrAccountNotFound):
			h.writeError(w, http.StatusNotFound, "Account not found")
		case errors.Is(err, store.ErrRecipientNotFound):
			h.writeError(w, http.StatusUnprocessableEntity, "No user registered with that email")
		case errors.Is(err, store.ErrRecipientHasNoAccount):
			h.writeError(w, http.StatusUnprocessableEntity, "Recipient has no account to receive funds")
		case errors.Is(err, store.ErrSameAccount):
			h.writeError(w, http.StatusUnprocessableEntity, "Source and destination accounts must differ")
		case errors.Is(err, domain.ErrInvalidAmount):
			h.writeError(w, http.StatusUnprocessableEntity, "Amount is not a valid positive decimal")
		default:
			log.Printf("level=error component=api endpoint=confirm_operation err=%v", err)
			h.writeError(w, http.StatusInternalServerError, "Unable to confirm operation")
		}
		return
	}

	operationsConfirmed.WithLabelValues(string(result.Kind)).Inc()
	log.Printf("level=info component=api endpoint=confirm_operation outcome=applied kind=%s", result.Kind)
	h.writeJSON(w, http.StatusOK, result)
}

// CancelOperationHandler drops the pending operation.
func (h *PortalHandlers) CancelOperationHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := GetSessionToken(r.Context())

	if err := h.service.CancelOperation(r.Context(), token); err != nil {
		log.Printf("level=error component=api endpoint=cancel_operation err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to cancel operation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResendOperationHandler issues a fresh code for the pending operation.
func (h *PortalHandlers) ResendOperationHandler(w http.ResponseWriter, r *http.Request) {
	token, _ := GetSessionToken(r.Context())

	summary, err := h.service.ResendOperationCode(r.Context(), token)
	if err != nil {
		if errors.Is(err, app.ErrNoPendingOperation) {
			h.writeError(w, http.StatusNotFound, "No pending operation to resend a code for")
			return
		}
		log.Printf("level=error component=api endpoint=resend_operation err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resend code")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{"operation": summary})
}
