package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	// Reason is the adapter failure code when one is known.
	Reason string `json:"reason,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case mnerrors.IsInvalidArgument(err):
		return http.StatusBadRequest, "invalid_argument"
	case mnerrors.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case mnerrors.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case mnerrors.IsPreconditionFailed(err):
		return http.StatusConflict, "precondition_failed"
	case mnerrors.IsIndexOutOfRange(err):
		return http.StatusConflict, "index_out_of_range"
	case mnerrors.IsConflict(err):
		return http.StatusConflict, "conflict"
	case mnerrors.IsCalendarUnavailable(err):
		return http.StatusBadGateway, "calendar_unavailable"
	case mnerrors.IsAdapterUnavailable(err):
		return http.StatusServiceUnavailable, "adapter_unavailable"
	case mnerrors.IsAdapterError(err):
		return http.StatusBadGateway, "adapter_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()

	log := s.logger.WithContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("Request error", logging.F("code", code), logging.Err(err))
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	} else {
		log.Debug("Request rejected", logging.F("code", code), logging.Err(err))
	}

	body := ErrorResponse{Error: msg, Code: code}
	var serr *mnerrors.StageError
	if errors.As(err, &serr) {
		body.Reason = string(serr.Code)
	}
	respondJSON(w, status, body)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid request body: %v", mnerrors.ErrInvalidArgument, err)
	}
	return nil
}
