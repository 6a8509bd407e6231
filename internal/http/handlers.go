package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"triage-intake/internal/core"
	"triage-intake/internal/db"
	"triage-intake/internal/logger"
	"triage-intake/pkg"
)

// handleCreateSession opens a session and stores the greeting as its first
// assistant message.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pkg.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sess, err := s.Repo.CreateSession(ctx, req.PatientName, s.MessageCap)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.Repo.CreateMessage(ctx, sess.ID, pkg.RoleAssistant, s.Prompts.FirstMessage); err != nil {
		writeStoreError(w, err)
		return
	}
	logger.Info("session created", "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, pkg.CreateSessionResponse{
		SessionID:    sess.ID,
		FirstMessage: s.Prompts.FirstMessage,
	})
}

// handleHistory returns the ordered transcript of a session.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")
	if _, err := s.Repo.GetSession(ctx, sessionID); err != nil {
		writeStoreError(w, err)
		return
	}
	transcript, err := s.Repo.GetTranscript(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transcript)
}

// handlePostMessage runs one conversation turn for the patient message.
// Turns of the same session are serialised because the stored record is
// read, advanced and written back around the engine call.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	var req pkg.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "empty message")
		return
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()
	log := logger.With("session_id", sessionID)

	sess, err := s.Repo.GetSession(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if sess.Status == pkg.StatusCompleted {
		writeError(w, http.StatusConflict, "session is completed")
		return
	}

	prior, err := s.loadRecord(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Enforce message cap
	count, err := s.Repo.CountUserMessages(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if count >= sess.MessageCap {
		if _, err := s.Repo.CreateMessage(ctx, sessionID, pkg.RoleAssistant, s.Prompts.CapMessage); err != nil {
			writeStoreError(w, err)
			return
		}
		log.Info("message cap reached", "cap", sess.MessageCap)
		writeJSON(w, http.StatusOK, pkg.ChatResponse{
			Reply:     s.Prompts.CapMessage,
			Extracted: recordOrEmpty(prior),
			Capped:    true,
		})
		return
	}

	if _, err := s.Repo.CreateMessage(ctx, sessionID, pkg.RoleUser, content); err != nil {
		writeStoreError(w, err)
		return
	}
	transcript, err := s.Repo.GetTranscript(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	res := s.Engine.Process(ctx, core.TurnsFromMessages(transcript), prior)

	if _, err := s.Repo.CreateMessage(ctx, sessionID, pkg.RoleAssistant, res.Reply); err != nil {
		writeStoreError(w, err)
		return
	}
	if len(res.Extracted.Symptoms) > 0 {
		if err := s.Repo.UpsertRecord(ctx, sessionID, res.Extracted); err != nil {
			writeStoreError(w, err)
			return
		}
		if err := s.Notifier.Notify(ctx, sessionID); err != nil {
			log.Warn("failed to publish record update", "err", err)
		}
	}
	log.Debug("message processed", "symptoms", len(res.Extracted.Symptoms))

	writeJSON(w, http.StatusOK, pkg.ChatResponse{
		Reply:     res.Reply,
		OffTopic:  res.OffTopic,
		Extracted: res.Extracted,
	})
}

// loadRecord returns the stored record, or nil before the first upsert.
func (s *Server) loadRecord(ctx context.Context, sessionID string) (*pkg.SymptomRecord, error) {
	rec, _, err := s.Repo.GetRecord(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func recordOrEmpty(rec *pkg.SymptomRecord) pkg.SymptomRecord {
	if rec == nil {
		return pkg.SymptomRecord{Symptoms: []pkg.Symptom{}}
	}
	return *rec
}

// handleRecord returns the current symptom record of a session.
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")
	if _, err := s.Repo.GetSession(ctx, sessionID); err != nil {
		writeStoreError(w, err)
		return
	}
	rec, err := s.loadRecord(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordOrEmpty(rec))
}

// handleComplete marks the session completed and returns its summary.
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.Repo.CompleteSession(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	summary, err := s.summary(ctx, sess)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.Notifier.Notify(ctx, sessionID); err != nil {
		logger.Warn("failed to publish record update", "session_id", sessionID, "err", err)
	}
	logger.Info("session completed", "session_id", sessionID, "symptoms", len(summary.Record.Symptoms))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"summary": summary,
	})
}

// summary builds the doctor-facing summary from the stored record.
func (s *Server) summary(ctx context.Context, sess *pkg.Session) (*pkg.Summary, error) {
	rec, updated, err := s.Repo.GetRecord(ctx, sess.ID)
	if errors.Is(err, db.ErrNotFound) {
		return core.Summarize(sess.ID, pkg.SymptomRecord{}, sess.CreatedAt), nil
	}
	if err != nil {
		return nil, err
	}
	return core.Summarize(sess.ID, *rec, updated), nil
}
