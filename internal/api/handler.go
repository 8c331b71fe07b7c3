package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/bankassist/internal/domain"
	"github.com/punchamoorthee/bankassist/internal/logger"
	"github.com/punchamoorthee/bankassist/internal/service"
	"github.com/punchamoorthee/bankassist/internal/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	sessionHeader = "X-Session-ID"
	sessionCookie = "session_id"

	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

type Handler struct {
	chat       *service.ChatService
	dispatcher *service.Dispatcher
	ledger     store.Ledger
	log        zerolog.Logger
}

func NewHandler(chat *service.ChatService, dispatcher *service.Dispatcher, ledger store.Ledger, log zerolog.Logger) *Handler {
	return &Handler{chat: chat, dispatcher: dispatcher, ledger: ledger, log: log}
}

// NewRouter wires the handler, the middleware chain and the operational
// endpoints. Every request context is bounded by timeout.
func NewRouter(h *Handler, log zerolog.Logger, timeout time.Duration) *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID, Logger(log), Recovery(log), Timeout(timeout))

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/chat", h.ChatHandler).Methods(http.MethodPost)
	v1.HandleFunc("/chat/clear", h.ClearChatHandler).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/messages", h.GetMessagesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts", h.ListAccountsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts", h.CreateAccountHandler).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{name}", h.GetAccountHandler).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{name}/transactions", h.GetTransactionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/transfers", h.CreateTransferHandler).Methods(http.MethodPost)
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
	Error     string `json:"error,omitempty"`
}

// ChatHandler runs one conversational turn. The reply is always present in
// the body, including on failure, so clients can display it as is.
func (h *Handler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	sessionID := sessionFrom(r, req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	reply, err := h.chat.HandleTurn(r.Context(), sessionID, req.Message)
	resp := chatResponse{SessionID: sessionID, Reply: reply}
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			reqLog := logger.FromContext(r.Context(), h.log)
			reqLog.Error().Err(err).Str("session_id", sessionID).Msg("Chat turn failed")
		}
		resp.Error = http.StatusText(code)
		respondJSON(w, code, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) ClearChatHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Malformed JSON body")
			return
		}
	}
	sessionID := sessionFrom(r, req.SessionID)
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "Missing session id")
		return
	}
	if err := h.chat.ClearSession(r.Context(), sessionID); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared", "session_id": sessionID})
}

func (h *Handler) GetMessagesHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	turns, err := h.chat.History(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": turns})
}

func (h *Handler) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.ListAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, accounts)
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	acc, err := h.ledger.GetByName(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, acc)
}

func (h *Handler) GetTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	acc, err := h.ledger.GetByName(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	txns, err := h.ledger.GetHistory(r.Context(), acc.ID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, txns)
}

// createAccountRequest takes amounts in yuan; they are stored in fen.
type createAccountRequest struct {
	Name          string          `json:"name"`
	AccountNumber string          `json:"account_number"`
	AccountType   string          `json:"account_type"`
	Balance       decimal.Decimal `json:"balance"`
	CreditLimit   decimal.Decimal `json:"credit_limit"`
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	balance, err := nonNegativeFen(req.Balance)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := nonNegativeFen(req.CreditLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.AccountType == "" {
		req.AccountType = "储蓄账户"
	}

	acc, err := h.ledger.CreateAccount(r.Context(), domain.NewAccount{
		Name:          strings.TrimSpace(req.Name),
		AccountNumber: strings.TrimSpace(req.AccountNumber),
		AccountType:   req.AccountType,
		Balance:       balance,
		CreditLimit:   limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, acc)
}

type transferRequest struct {
	FromName string          `json:"from_name"`
	ToName   string          `json:"to_name"`
	Amount   decimal.Decimal `json:"amount"`
}

// CreateTransferHandler moves money between two named accounts. With an
// Idempotency-Key header, a retry carrying the same body gets the original
// response back and the Idempotent-Replayed header set.
func (h *Handler) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unreadable request body")
		return
	}
	var req transferRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	var res *domain.TransferResult
	replayed := false
	if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
		hash := sha256.Sum256(body)
		idem := store.Idempotency{Key: key, RequestHash: hex.EncodeToString(hash[:])}
		res, replayed, err = h.dispatcher.TransferIdempotent(r.Context(), idem, req.FromName, req.ToName, req.Amount)
	} else {
		res, err = h.dispatcher.Transfer(r.Context(), req.FromName, req.ToName, req.Amount)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if replayed {
		w.Header().Set(replayedHeader, "true")
	}
	w.Header().Set("Location", "/api/v1/accounts/"+url.PathEscape(res.From.Name)+"/transactions")
	respondJSON(w, http.StatusCreated, res)
}

// fail maps a domain error to its status code. Internal failures are logged
// and never echoed to the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		reqLog := logger.FromContext(r.Context(), h.log)
		reqLog.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		respondError(w, code, http.StatusText(code))
		return
	}
	respondError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sessionFrom picks the session id from the body, the X-Session-ID header or
// the session cookie, in that order.
func sessionFrom(r *http.Request, fromBody string) string {
	if id := strings.TrimSpace(fromBody); id != "" {
		return id
	}
	if id := strings.TrimSpace(r.Header.Get(sessionHeader)); id != "" {
		return id
	}
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

func nonNegativeFen(yuan decimal.Decimal) (int64, error) {
	if yuan.IsZero() {
		return 0, nil
	}
	return domain.ToMinorUnits(yuan)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
