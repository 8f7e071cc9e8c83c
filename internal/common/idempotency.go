package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	// IdempotencyHeader carries the client supplied request key.
	IdempotencyHeader = "Idempotency-Key"
	// ReplayedHeader is set on responses served from the idempotency store.
	ReplayedHeader = "Idempotent-Replayed"

	idemPending   = "pending"
	idemCompleted = "completed"
)

// idemRecord is the value stored per key. Body holds the raw response bytes.
type idemRecord struct {
	State       string `json:"state"`
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idem provides an Idempotency-Key middleware backed by Redis. The first
// request for a key runs the handler and stores its response; repeats with
// the same key and payload replay that response. Server errors release the
// key so the client may retry.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

func idemKey(r *http.Request, header string) string {
	subject, _ := Subject(r.Context())
	sum := sha256.Sum256([]byte(r.Method + " " + r.URL.Path + "\x00" + subject + "\x00" + header))
	return "idem:" + hex.EncodeToString(sum[:])
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(header) > 255 {
			JSONError(w, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "idempotency key too long", nil)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
				return
			}
			JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unable to read request body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		ctx := r.Context()
		key := idemKey(r, header)
		fp := fingerprint(body)

		pending, _ := json.Marshal(idemRecord{State: idemPending, Fingerprint: fp})
		ok, err := i.R.SetNX(ctx, key, pending, i.ttl()).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !ok {
			i.replay(ctx, w, key, fp)
			return
		}

		rec := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		stored := false
		defer func() {
			if !stored {
				_ = i.R.Del(context.WithoutCancel(ctx), key).Err()
			}
		}()

		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusInternalServerError {
			return
		}
		done, err := json.Marshal(idemRecord{
			State:       idemCompleted,
			Fingerprint: fp,
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.buf.Bytes(),
		})
		if err != nil {
			return
		}
		if err := i.R.Set(context.WithoutCancel(ctx), key, done, i.ttl()).Err(); err == nil {
			stored = true
		}
	})
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key, fp string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Released between SetNX and Get; the original attempt failed.
		JSONError(w, http.StatusConflict, "IDEMPOTENT_IN_FLIGHT", "request with this idempotency key is being retried", nil)
		return
	}
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
		return
	}
	var stored idemRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency record corrupt", nil)
		return
	}
	if stored.Fingerprint != fp {
		JSONError(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "idempotency key was used with a different payload", nil)
		return
	}
	if stored.State != idemCompleted {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_IN_FLIGHT", "request with this idempotency key is still in progress", nil)
		return
	}
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.Header().Set("Content-Length", strconv.Itoa(len(stored.Body)))
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

// captureWriter tees the response to the client and a buffer.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.wroteHeader = true
	c.buf.Write(p)
	return c.ResponseWriter.Write(p)
}
