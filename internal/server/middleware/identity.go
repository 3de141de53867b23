package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/castbet/internal/crypto"
	"github.com/alanyoungcy/castbet/internal/domain"
)

// Identity headers.
const (
	HeaderAddress   = "X-Castbet-Address"
	HeaderTimestamp = "X-Castbet-Timestamp"
	HeaderSignature = "X-Castbet-Signature"
)

const maxSignedBody = 1 << 20

type callerKey struct{}

// Caller returns the authenticated caller stored by Identity.
func Caller(ctx context.Context) (domain.Address, bool) {
	a, ok := ctx.Value(callerKey{}).(domain.Address)
	return a, ok
}

// WithCaller returns ctx carrying addr as the caller.
func WithCaller(ctx context.Context, addr domain.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// IdentityConfig controls how callers are authenticated.
type IdentityConfig struct {
	// RequireSignatures makes every X-Castbet-Address claim prove key
	// ownership with an EIP-191 signature over the request.
	RequireSignatures bool
	// Skew bounds how far X-Castbet-Timestamp may drift from now.
	Skew  time.Duration
	Clock func() time.Time
}

// Identity resolves the caller address. Requests without an address pass
// through anonymously; handlers that mutate state reject them. With
// signatures required, the signature covers method, escaped path,
// X-Request-ID, timestamp and the body hash, and the request ID seen by
// handlers becomes crypto.MessageKey of that message so a resent copy of a
// signed request is rejected as a duplicate.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	skew := cfg.Skew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(HeaderAddress)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			addr, err := domain.ParseAddress(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error(), "invalid_argument")
				return
			}
			if !cfg.RequireSignatures {
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "missing or malformed "+HeaderTimestamp, "unauthorized")
				return
			}
			at := time.Unix(ts, 0)
			if d := clock().Sub(at); d > skew || d < -skew {
				writeError(w, http.StatusUnauthorized, "request timestamp outside allowed skew", "unauthorized")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				writeError(w, http.StatusBadRequest, "read body: "+err.Error(), "invalid_argument")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			msg := crypto.RequestMessage(r.Method, r.URL.EscapedPath(), r.Header.Get("X-Request-ID"), at, body)
			if err := crypto.Verify(addr, msg, r.Header.Get(HeaderSignature)); err != nil {
				writeError(w, http.StatusUnauthorized, "signature does not match "+HeaderAddress, "unauthorized")
				return
			}
			ctx := WithCaller(r.Context(), addr)
			ctx = context.WithValue(ctx, requestIDKey{}, crypto.MessageKey(msg))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
