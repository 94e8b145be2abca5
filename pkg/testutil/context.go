package testutil

import (
	"net/http"
	"time"

	"changeflow/pkg/requestcontext"
)

// WithActor adds an authenticated actor to the request context.
// This simulates what the auth middleware does for a valid bearer token.
func WithActor(req *http.Request, actorID int64, roles ...string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actorID, roles))
}

// WithRequestTime pins the request clock.
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// WithRequestID sets a fixed request id.
func WithRequestID(req *http.Request, requestID string) *http.Request {
	return req.WithContext(requestcontext.WithRequestID(req.Context(), requestID))
}
