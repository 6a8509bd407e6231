package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"triage-intake/internal/core"
	"triage-intake/internal/logger"
	"triage-intake/internal/report"
	"triage-intake/pkg"
)

// keepAlive is how often an idle event stream receives a comment line.
const keepAlive = 25 * time.Second

// handleDoctorSessions returns a JSON list of sessions, optionally
// filtered by ?status=active|completed.
func (s *Server) handleDoctorSessions(w http.ResponseWriter, r *http.Request) {
	status := pkg.SessionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", pkg.StatusActive, pkg.StatusCompleted:
	default:
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	rows, err := s.Repo.ListSessions(r.Context(), status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	previews := make([]pkg.DoctorSessionPreview, 0, len(rows))
	for _, row := range rows {
		p := pkg.DoctorSessionPreview{
			SessionID:   row.Session.ID,
			PatientName: row.Session.PatientName,
			Status:      row.Session.Status,
			KeyPoints:   []string{},
			UpdatedAt:   row.UpdatedAt,
		}
		if row.Record != nil {
			sum := core.Summarize(row.Session.ID, *row.Record, row.UpdatedAt)
			p.SymptomCount = len(sum.Record.Symptoms)
			p.KeyPoints = sum.KeyPoints
		}
		previews = append(previews, p)
	}
	writeJSON(w, http.StatusOK, previews)
}

// handleReport renders the session report as a PDF download.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")
	sess, err := s.Repo.GetSession(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	summary, err := s.summary(ctx, sess)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, *sess, summary, time.Now()); err != nil {
		logger.Error("failed to render report", "session_id", sessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to render report")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report_%s.pdf"`, sessionID))
	if _, err := w.Write(buf.Bytes()); err != nil {
		logger.Warn("failed to write report", "session_id", sessionID, "err", err)
	}
}

// handleDoctorSSE streams record updates for a session using SSE.  The
// current summary is sent on connect and again after every notification for
// this session until the client disconnects.
func (s *Server) handleDoctorSSE(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")
	sess, err := s.Repo.GetSession(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the first event so no update is missed in between.
	updates := s.Notifier.Subscribe(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := s.sendRecordEvent(ctx, w, sess); err != nil {
		logger.Warn("failed to send record event", "session_id", sessionID, "err", err)
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-updates:
			if !ok {
				return
			}
			if id != sessionID {
				continue
			}
			if err := s.sendRecordEvent(ctx, w, sess); err != nil {
				logger.Warn("failed to send record event", "session_id", sessionID, "err", err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// recordEvent is the payload of a record_update event.
type recordEvent struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id"`
	KeyPoints []string          `json:"key_points"`
	FreeText  string            `json:"free_text"`
	Record    pkg.SymptomRecord `json:"record"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// sendRecordEvent writes a record_update event with the current summary.
func (s *Server) sendRecordEvent(ctx context.Context, w io.Writer, sess *pkg.Session) error {
	summary, err := s.summary(ctx, sess)
	if err != nil {
		return err
	}
	data, err := json.Marshal(recordEvent{
		Type:      "record_update",
		SessionID: sess.ID,
		KeyPoints: summary.KeyPoints,
		FreeText:  summary.FreeText,
		Record:    summary.Record,
		UpdatedAt: summary.UpdatedAt,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: record_update\ndata: %s\n\n", data)
	return err
}
