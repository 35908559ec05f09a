package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Mukasa-Matthew/HMS-frontend-sub000/internal/audit"
)

// handleAudit lists recorded session events, newest first.
//
// Query parameters: type, user_id, since (RFC 3339), limit, offset.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "audit trail is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		EventType: q.Get("type"),
		UserID:    q.Get("user_id"),
	}

	var err error
	if v := q.Get("since"); v != "" {
		if filter.Since, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
	}
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "offset must be a non-negative integer")
		return
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit trail failed", "error", err)
		writeInternalError(w, "failed to list audit trail")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// intParam parses an optional non-negative integer; "" is zero.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
