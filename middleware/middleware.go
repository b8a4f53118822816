package middleware

import (
	"context"
	"net/http"

	"github.com/pborman/uuid"
)

// type to create context.Context key
type CtxTransactionKeyType string

// context.Context key to get the transaction ID from the request context
const CtxTransactionKey CtxTransactionKeyType = "ctxTransaction"

const TransactionHeader = "X-Transaction-ID"

// NewTransactionID adds a transaction ID to the request context and echoes it
// on the response. A well-formed ID supplied by the caller is reused so a
// console request can be traced across services.
func NewTransactionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TransactionHeader)
		if uuid.Parse(id) == nil {
			id = uuid.New()
		}
		w.Header().Set(TransactionHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), CtxTransactionKey, id))
		next.ServeHTTP(w, r)
	})
}

// GetTransactionID returns the request's transaction ID, or "" outside a request.
func GetTransactionID(ctx context.Context) string {
	id, _ := ctx.Value(CtxTransactionKey).(string)
	return id
}

func HSTSHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

func ConnectionClose(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		next.ServeHTTP(w, r)
	})
}
