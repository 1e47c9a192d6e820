package api

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"labreserve/internal/domain"
	"labreserve/internal/models"
)

const replayedHeader = "Idempotent-Replayed"

// captureWriter tees the response so it can be stored for replays.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

// idempotency replays the stored response of a mutating request repeated
// with the same key by the same account. Keys are scoped by account, method
// and path. Server errors and panics release the key so the client can
// retry.
func (s *HTTPServer) idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(s.idemHeader))
		if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		u := actor(r)
		if u == nil {
			next.ServeHTTP(w, r)
			return
		}
		scoped := strings.Join([]string{"idem", u.ID, r.Method, r.URL.Path, key}, ":")

		existing, started, err := s.idem.Begin(r.Context(), scoped, s.idemTTL)
		if err != nil {
			writeError(w, s.logger, domain.ResourceBusy("Idempotency", key, err))
			return
		}
		if !started {
			if existing.InFlight {
				writeErrorCode(w, http.StatusConflict, "request_in_progress", "a request with this idempotency key is still in progress")
				return
			}
			if existing.ContentType != "" {
				w.Header().Set("Content-Type", existing.ContentType)
			}
			w.Header().Set(replayedHeader, "true")
			w.WriteHeader(existing.StatusCode)
			_, _ = w.Write(existing.Body)
			return
		}

		capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
		settled := false
		defer func() {
			if !settled {
				s.releaseKey(scoped)
			}
		}()

		next.ServeHTTP(capture, r)

		if capture.status >= http.StatusInternalServerError {
			s.releaseKey(scoped)
			settled = true
			return
		}
		record := &models.IdempotencyRecord{
			Key:         scoped,
			StatusCode:  capture.status,
			ContentType: capture.Header().Get("Content-Type"),
			Body:        capture.body.Bytes(),
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.idem.Complete(context.WithoutCancel(r.Context()), record, s.idemTTL); err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("store idempotent response")
			s.releaseKey(scoped)
		}
		settled = true
	})
}

func (s *HTTPServer) releaseKey(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.idem.Release(ctx, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("release idempotency key")
	}
}
