package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderIngestTimestamp = "X-Ingest-Timestamp"
	HeaderIngestSignature = "X-Ingest-Signature"
)

var (
	ErrSignatureMissing  = errors.New("auth: ingest signature missing")
	ErrSignatureExpired  = errors.New("auth: ingest signature expired")
	ErrSignatureMismatch = errors.New("auth: ingest signature mismatch")
)

// IngestGuard checks HMAC signatures on collector posts. A collector signs
// "unixSeconds\nbody" with the shared secret.
type IngestGuard struct {
	secret  []byte
	maxSkew time.Duration
	now     func() time.Time
}

// NewIngestGuard returns nil for an empty secret; a nil guard passes every
// request through.
func NewIngestGuard(secret []byte, maxSkew time.Duration) *IngestGuard {
	if len(secret) == 0 {
		return nil
	}
	return &IngestGuard{secret: secret, maxSkew: maxSkew, now: time.Now}
}

// Wrap verifies ingest routes and leaves every other route alone.
func (g *IngestGuard) Wrap(next http.Handler) http.Handler {
	if g == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsIngest(r) {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			deny(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
		_ = r.Body.Close()
		if err := g.verify(r.Header, body); err != nil {
			deny(w, http.StatusUnauthorized, err.Error())
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (g *IngestGuard) verify(h http.Header, body []byte) error {
	stamp := strings.TrimSpace(h.Get(HeaderIngestTimestamp))
	signature := strings.ToLower(strings.TrimSpace(h.Get(HeaderIngestSignature)))
	if stamp == "" || signature == "" {
		return ErrSignatureMissing
	}
	sec, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return ErrSignatureMismatch
	}
	if g.maxSkew > 0 {
		skew := g.now().Sub(time.Unix(sec, 0))
		if skew < -g.maxSkew || skew > g.maxSkew {
			return ErrSignatureExpired
		}
	}
	if !hmac.Equal([]byte(signature), []byte(SignIngest(g.secret, stamp, body))) {
		return ErrSignatureMismatch
	}
	return nil
}

// SignIngest returns the hex HMAC-SHA256 of "timestamp\nbody".
func SignIngest(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + "\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
