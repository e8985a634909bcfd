package hubserver

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pulsewatch/pulsewatch/internal/archive"
	"github.com/pulsewatch/pulsewatch/internal/audit"
	"github.com/pulsewatch/pulsewatch/internal/event"
)

// handleEvents is the ingest endpoint. The signature covers the exact
// body bytes, so verification happens before any parsing; a batch is
// accepted or rejected wholesale.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "body too large or unreadable")
		return
	}

	source := r.Header.Get("X-Source-ID")
	if !s.cfg.NoAuth {
		sig := r.Header.Get("X-Signature")
		if source == "" || sig == "" {
			s.reject(r, source, "missing credentials", 0, http.StatusUnauthorized)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err := s.verifier.Check(source, body, sig); err != nil {
			// Unknown source and bad signature collapse into the same
			// response; the distinction lives in the rejection log.
			s.reject(r, source, err.Error(), 0, http.StatusUnauthorized)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	events, err := event.DecodeBatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed batch")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}

	for i := range events {
		// The authenticated identity wins over whatever the body claims.
		if source != "" {
			events[i].Source = source
		}
		if err := events[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if ok, retry := s.limiter.Allow(events[0].Source, len(events)); !ok {
		s.reject(r, source, "rate limited", len(events), http.StatusTooManyRequests)
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if s.store != nil {
		if err := s.store.Store(r.Context(), events); err != nil {
			// Live distribution still happens; the hourly summary just
			// misses this batch.
			s.log.Error("archive write failed", zap.Error(err))
		}
	}

	s.engine.Publish(events)

	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(events)})
}

// handleHealth reports liveness and the live subscriber count.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.engine.Count(),
	})
}

// handleHourly serves hourly event counts for the last day. It uses
// the same subscriber token as /ws; aggregates are still activity
// telemetry.
func (s *Server) handleHourly(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.NoAuth {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SubscriberToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}

	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = parsed
	}

	counts, err := s.store.HourlyCounts(r.Context(), since)
	if err != nil {
		s.log.Error("hourly summary failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "summary unavailable")
		return
	}
	if counts == nil {
		counts = []archive.HourCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}

// reject records a refused submission in the rejection log.
func (s *Server) reject(r *http.Request, source, reason string, events, status int) {
	s.log.Warn("submission rejected",
		zap.String("source", source),
		zap.String("remote", r.RemoteAddr),
		zap.String("reason", reason),
		zap.Int("status", status))
	if s.rejects == nil {
		return
	}
	if err := s.rejects.Record(audit.Entry{
		Source: source,
		Remote: r.RemoteAddr,
		Reason: reason,
		Events: events,
		Status: status,
	}); err != nil {
		s.log.Error("rejection log write failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
