package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/otherjamesbrown/meetnotes/pkg/ai"
	"github.com/otherjamesbrown/meetnotes/pkg/calendar"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
)

// Credential headers. Requests without them use the server's configured keys.
const (
	HeaderLLMKey        = "X-LLM-API-Key"
	HeaderCalendarToken = "X-Calendar-Token"
)

// requestLogger carries the chi request id into the logging context and logs
// one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = logging.ContextWithRequestID(ctx, id)
			r = r.WithContext(ctx)
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []logging.Field{
			logging.F("method", r.Method),
			logging.F("path", r.URL.Path),
			logging.F("status", status),
			logging.F("bytes", ww.BytesWritten()),
			logging.F("duration", time.Since(start)),
		}
		log := s.logger.WithContext(ctx)
		if status >= http.StatusInternalServerError {
			log.Warn("Request failed", fields...)
			return
		}
		log.Debug("Request served", fields...)
	})
}

func (s *Server) llmCredential(r *http.Request) ai.Credential {
	if key := strings.TrimSpace(r.Header.Get(HeaderLLMKey)); key != "" {
		return ai.Credential{APIKey: key}
	}
	return ai.Credential{APIKey: s.cfg.LLMAPIKey}
}

func (s *Server) calendarCredential(r *http.Request) calendar.Credential {
	if token := strings.TrimSpace(r.Header.Get(HeaderCalendarToken)); token != "" {
		return calendar.Credential{AccessToken: token}
	}
	return calendar.Credential{AccessToken: s.cfg.CalendarToken}
}
