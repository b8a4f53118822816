package logging

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/carecoord/welfare-dispatch/log"
	dispatchmw "github.com/carecoord/welfare-dispatch/middleware"
)

// https://github.com/go-chi/chi/blob/master/_examples/logging/main.go

func NewStructuredLogger() func(next http.Handler) http.Handler {
	return middleware.RequestLogger(&StructuredLogger{Logger: log.Request})
}

type StructuredLogger struct {
	Logger logrus.FieldLogger
}

func (l *StructuredLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	entry := &log.StructuredLoggerEntry{Logger: l.Logger}
	logFields := logrus.Fields{}

	logFields["ts"] = time.Now().UTC().Format(time.RFC1123)

	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		logFields["request_id"] = reqID
	}
	if txID := dispatchmw.GetTransactionID(r.Context()); txID != "" {
		logFields["transaction_id"] = txID
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	logFields["http_scheme"] = scheme
	logFields["http_proto"] = r.Proto
	logFields["http_method"] = r.Method

	logFields["remote_addr"] = r.RemoteAddr
	logFields["forwarded_for"] = r.Header.Get("X-Forwarded-For")
	logFields["user_agent"] = r.UserAgent()

	logFields["uri"] = fmt.Sprintf("%s://%s%s", scheme, r.Host, Redact(r.RequestURI))

	entry.Logger = entry.Logger.WithFields(logFields)

	entry.Logger.Infoln("request started")

	return entry
}

// NewCtxLogger exposes the request's log entry through log.GetCtxLogger so
// fields added by handlers and services land on the "request complete" line.
func NewCtxLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if entry, ok := middleware.GetLogEntry(r).(*log.StructuredLoggerEntry); ok {
			r = r.WithContext(log.WithEntry(r.Context(), entry))
		}
		next.ServeHTTP(w, r)
	})
}

var accessCodePattern = regexp.MustCompile(`((?:elevator|security|gate)[Cc]ode=)([^&]+)`)

// Redact masks access codes that a caller put in the query string.
func Redact(uri string) string {
	return accessCodePattern.ReplaceAllString(uri, "${1}<redacted>")
}
