package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/whisper/polyglot/internal/apperr"
	"github.com/whisper/polyglot/internal/chat"
	"github.com/whisper/polyglot/internal/conversation"
)

// storeRetryAfter is the Retry-After hint sent with 503 responses.
const storeRetryAfter = 5

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// describe turns a validation failure into a short client-facing message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "max":
			parts = append(parts, fmt.Sprintf("%s exceeds %s bytes", fe.Field(), fe.Param()))
		case "nefield":
			parts = append(parts, "participants must be different users")
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeError maps a service error onto an HTTP status.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rl *chat.RateLimitError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", fmt.Sprint(int(math.Ceil(rl.RetryAfter.Seconds()))))
		writeDetail(w, http.StatusTooManyRequests, "rate limited")
	case apperr.IsNotFound(err):
		writeDetail(w, http.StatusNotFound, err.Error())
	case apperr.IsUnavailable(err):
		h.log.WithError(err).WithField("path", r.URL.Path).Error("api: store unavailable")
		w.Header().Set("Retry-After", fmt.Sprint(storeRetryAfter))
		writeDetail(w, http.StatusServiceUnavailable, "storage temporarily unavailable")
	case errors.Is(err, conversation.ErrNotParticipant):
		writeDetail(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chat.ErrInvalidMessage),
		errors.Is(err, chat.ErrUnsupportedLanguage),
		errors.Is(err, conversation.ErrInvalidPair):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		h.log.WithError(err).WithFields(logrus.Fields{"path": r.URL.Path}).Error("api: unhandled error")
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}
