package api

import (
	"net/http"
	"strconv"

	"github.com/Dijker/com.netatmo/internal/audit"
)

// record appends an entry to the audit trail. A failed write is logged and
// does not fail the request.
func (s *Server) record(r *http.Request, e audit.Entry) {
	if s.audit == nil {
		return
	}
	e.Source = audit.SourceAPI
	if actor := subjectFrom(r.Context()); actor != "" {
		if e.Details == nil {
			e.Details = make(map[string]any, 1)
		}
		e.Details["actor"] = actor
	}
	if err := s.audit.Record(r.Context(), e); err != nil {
		s.logger.Warn("recording audit entry failed",
			"action", e.Action,
			"subject", e.Subject,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	}
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail unavailable")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Action: q.Get("action"), Subject: q.Get("subject")}
	if len(filter.Action) > maxQueryParamLen || len(filter.Subject) > maxQueryParamLen {
		writeBadRequest(w, "filter value too long")
		return
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	page, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to load audit trail")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
