package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/and161185/talko/internal/errs"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Message: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeError maps service errors onto status codes. Unknown errors are logged and hidden.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var ra *errs.RetryAfter
	switch {
	case errors.As(err, &ra):
		secs := int(math.Ceil(ra.Wait.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		writeMessage(w, http.StatusTooManyRequests, "Too many attempts, try again later")
	case errors.Is(err, errs.ErrRateLimited):
		writeMessage(w, http.StatusTooManyRequests, "Too many attempts, try again later")
	case errors.Is(err, errs.ErrValidation):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrAlreadyExists):
		writeMessage(w, http.StatusBadRequest, "Username already taken")
	case errors.Is(err, errs.ErrUnauthorized):
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, errs.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Not found")
	default:
		log.Error("request failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}
