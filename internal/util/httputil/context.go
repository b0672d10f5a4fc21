package httputil

import (
	"context"
	"net/http"

	"github.com/alex65536/bracketd/internal/util/idgen"
)

// RequestIDHeader carries the request id between services.
const RequestIDHeader = "X-Request-ID"

type reqIDKey struct{}

func WithReqID(parent context.Context, id string) context.Context {
	return context.WithValue(parent, reqIDKey{}, id)
}

// NewReqIDContext tags parent with a fresh request id.
func NewReqIDContext(parent context.Context) context.Context {
	return WithReqID(parent, idgen.ID())
}

func validReqID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range []byte(id) {
		if c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

// WrapRequest tags the request with the id sent by the caller, or a fresh one
// if there is none.
func WrapRequest(req *http.Request) *http.Request {
	if id := req.Header.Get(RequestIDHeader); validReqID(id) {
		return req.WithContext(WithReqID(req.Context(), id))
	}
	return req.WithContext(NewReqIDContext(req.Context()))
}

func ExtractReqID(ctx context.Context) string {
	if s, ok := ctx.Value(reqIDKey{}).(string); ok {
		return s
	}
	return ""
}
