package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/moabualruz/rice-search/internal/rserr"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{
		Error:   http.StatusText(status),
		Code:    code,
		Message: message,
	})
}

// writeServiceError maps structured errors onto HTTP statuses. 4xx
// surfaces the validation message; 5xx scrubs internals and logs them.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var e *rserr.Error
	if !errors.As(err, &e) {
		s.logger.Error("unhandled error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, rserr.CodeInternal, "internal server error")
		return
	}

	switch e.Kind {
	case rserr.KindValidation:
		writeError(w, http.StatusBadRequest, e.Code, e.Message)
	case rserr.KindNotFound:
		writeError(w, http.StatusNotFound, e.Code, e.Message)
	case rserr.KindConflict:
		writeError(w, http.StatusConflict, e.Code, e.Message)
	case rserr.KindCapacity:
		writeError(w, http.StatusRequestEntityTooLarge, e.Code, e.Message)
	case rserr.KindThrottled:
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, e.Code, e.Message)
	case rserr.KindTransient:
		s.logger.Warn("transient dependency failure", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, e.Code, "upstream dependency unavailable")
	default:
		s.logger.Error("internal error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, e.Code, "internal server error")
	}
}
