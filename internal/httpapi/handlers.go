package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/talko/internal/convert"
	"github.com/and161185/talko/internal/model"
	"github.com/and161185/talko/internal/service"
)

// AccountService is the credential side of the API.
type AccountService interface {
	Register(ctx context.Context, c service.Credentials) (model.User, model.Tokens, error)
	Login(ctx context.Context, c service.Credentials, ip string) (model.User, model.Tokens, error)
	VerifyToken(ctx context.Context, token string) (model.User, error)
}

// ChatService serves history and accepts new messages.
type ChatService interface {
	Me(ctx context.Context, id uuid.UUID) (model.User, error)
	Users(ctx context.Context, caller uuid.UUID) ([]model.User, error)
	Broadcasts(ctx context.Context) ([]model.MessageWithSender, error)
	Conversation(ctx context.Context, caller, other uuid.UUID) ([]model.MessageWithSender, error)
	Send(ctx context.Context, sender model.User, text string, recipient *uuid.UUID) (model.Message, error)
}

// Pinger reports storage readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type handlers struct {
	acc  AccountService
	chat ChatService
	db   Pinger
	log  *zap.Logger
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var c service.Credentials
	if !decodeJSON(w, r, &c) {
		return
	}
	u, tok, err := h.acc.Register(r.Context(), c)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToAuthView(u, tok))
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var c service.Credentials
	if !decodeJSON(w, r, &c) {
		return
	}
	u, tok, err := h.acc.Login(r.Context(), c, clientIP(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToAuthView(u, tok))
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromCtx(r.Context())
	u, err := h.chat.Me(r.Context(), caller.ID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToUserView(u))
}

func (h *handlers) users(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromCtx(r.Context())
	list, err := h.chat.Users(r.Context(), caller.ID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToUserViews(list))
}

func (h *handlers) broadcasts(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chat.Broadcasts(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToMessageWithSenderViews(msgs))
}

func (h *handlers) conversation(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromCtx(r.Context())
	other, err := convert.ParseID(chi.URLParam(r, "otherUserId"))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid user id")
		return
	}
	msgs, err := h.chat.Conversation(r.Context(), caller.ID, other)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToMessageWithSenderViews(msgs))
}

type sendRequest struct {
	Text        string     `json:"text"`
	RecipientID *uuid.UUID `json:"recipientId"`
}

func (h *handlers) send(w http.ResponseWriter, r *http.Request) {
	caller, _ := UserFromCtx(r.Context())
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.chat.Send(r.Context(), caller, req.Text, req.RecipientID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToMessageView(msg))
}

func (h *handlers) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientIP strips the port that RemoteAddr carries unless RealIP already rewrote it.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
