package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage-intake/internal/core"
	"triage-intake/internal/db"
	"triage-intake/internal/llm"
	"triage-intake/internal/logger"
	"triage-intake/pkg"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fixture struct {
	srv      *Server
	script   *llm.Scripted
	notifier *db.LocalNotifier
}

func newFixture(t *testing.T, messageCap int) *fixture {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "intake.db")
	require.NoError(t, db.Migrate(ctx, db.SQLite, path))
	conn, err := db.Open(ctx, db.SQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	script := llm.NewScripted()
	notifier := db.NewLocalNotifier()
	srv := NewServer(
		db.NewRepository(conn, db.SQLite),
		core.NewEngine(script, core.DefaultConfig()),
		notifier,
		core.DefaultPrompts(),
		messageCap,
	)
	return &fixture{srv: srv, script: script, notifier: notifier}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", pkg.CreateSessionRequest{PatientName: "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp pkg.CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.SessionID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const headacheJSON = `{"symptoms": [{"symptom": "headache", "severity": null, "duration": null, "frequency": null}]}`

func TestCreateSession(t *testing.T) {
	f := newFixture(t, 10)
	rec := f.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[pkg.CreateSessionResponse](t, rec)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, core.FirstMessage, resp.FirstMessage)

	hist := f.do(t, http.MethodGet, "/api/sessions/"+resp.SessionID+"/history", nil)
	require.Equal(t, http.StatusOK, hist.Code)
	msgs := decode[[]pkg.Message](t, hist)
	require.Len(t, msgs, 1)
	assert.Equal(t, pkg.RoleAssistant, msgs[0].Role)
}

func TestPostMessageRunsTurn(t *testing.T) {
	f := newFixture(t, 10)
	id := f.createSession(t)
	f.script.Reply(headacheJSON).Reply("How severe is your headache?")

	updates := f.notifier.Subscribe(t.Context())
	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: " I have a headache "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[pkg.ChatResponse](t, rec)
	assert.Equal(t, "How severe is your headache?", resp.Reply)
	assert.False(t, resp.Capped)
	assert.Equal(t, []pkg.Symptom{{Name: "headache"}}, resp.Extracted.Symptoms)

	select {
	case got := <-updates:
		assert.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("no record update published")
	}

	stored := decode[pkg.SymptomRecord](t, f.do(t, http.MethodGet, "/api/sessions/"+id+"/record", nil))
	assert.Equal(t, resp.Extracted, stored)

	msgs := decode[[]pkg.Message](t, f.do(t, http.MethodGet, "/api/sessions/"+id+"/history", nil))
	require.Len(t, msgs, 3)
	assert.Equal(t, "I have a headache", msgs[1].Content)
	assert.Equal(t, "How severe is your headache?", msgs[2].Content)

	// the engine saw the whole transcript
	reqs := f.script.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].System, "user: I have a headache")
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t, 10)
	id := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/6f1c1a36-3f43-4c8e-9a55-2c2f0a8f3b11/messages", pkg.ChatRequest{Content: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "session not found")

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/messages", strings.NewReader("{"))
	raw := httptest.NewRecorder()
	f.srv.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	assert.Empty(t, f.script.Requests())
}

func TestPostMessageCompletedSession(t *testing.T) {
	f := newFixture(t, 10)
	id := f.createSession(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "hello"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPostMessageCap(t *testing.T) {
	f := newFixture(t, 1)
	id := f.createSession(t)
	f.script.Reply(headacheJSON).Reply("How severe is it?")

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "I have a headache"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "7"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[pkg.ChatResponse](t, rec)
	assert.True(t, resp.Capped)
	assert.Equal(t, core.CapMessage, resp.Reply)
	assert.Len(t, resp.Extracted.Symptoms, 1)
	assert.Len(t, f.script.Requests(), 2)
}

func TestPostMessagePhrasingFailure(t *testing.T) {
	f := newFixture(t, 10)
	id := f.createSession(t)
	f.script.Reply(headacheJSON).Fail(errors.New("upstream down"))

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "I have a headache"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[pkg.ChatResponse](t, rec)
	assert.Equal(t, core.ApologyMessage, resp.Reply)
	assert.Empty(t, resp.Extracted.Symptoms)

	stored := decode[pkg.SymptomRecord](t, f.do(t, http.MethodGet, "/api/sessions/"+id+"/record", nil))
	assert.Empty(t, stored.Symptoms)
	assert.NotNil(t, stored.Symptoms)
}

func TestCompleteAndReport(t *testing.T) {
	f := newFixture(t, 10)
	id := f.createSession(t)
	f.script.Reply(headacheJSON).Reply("How severe is it?")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", pkg.ChatRequest{Content: "I have a headache"}).Code)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Session pkg.Session `json:"session"`
		Summary pkg.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, pkg.StatusCompleted, body.Session.Status)
	assert.Equal(t, []string{"Headache: severity not specified, duration not specified, frequency not specified"}, body.Summary.KeyPoints)

	pdf := f.do(t, http.MethodGet, "/api/sessions/"+id+"/report.pdf", nil)
	require.Equal(t, http.StatusOK, pdf.Code)
	assert.Equal(t, "application/pdf", pdf.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(pdf.Body.Bytes(), []byte("%PDF")))

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/sessions/nope/report.pdf", nil).Code)
}

func TestDoctorSessions(t *testing.T) {
	f := newFixture(t, 10)
	withRecord := f.createSession(t)
	empty := f.createSession(t)
	f.script.Reply(headacheJSON).Reply("How severe is it?")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/sessions/"+withRecord+"/messages", pkg.ChatRequest{Content: "I have a headache"}).Code)

	rec := f.do(t, http.MethodGet, "/api/doctor/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	previews := decode[[]pkg.DoctorSessionPreview](t, rec)
	require.Len(t, previews, 2)

	byID := map[string]pkg.DoctorSessionPreview{}
	for _, p := range previews {
		byID[p.SessionID] = p
	}
	assert.Equal(t, 1, byID[withRecord].SymptomCount)
	assert.Len(t, byID[withRecord].KeyPoints, 1)
	assert.Equal(t, 0, byID[empty].SymptomCount)
	assert.Equal(t, "Ada", byID[empty].PatientName)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/doctor/sessions?status=bogus", nil).Code)
}

func TestDoctorStream(t *testing.T) {
	f := newFixture(t, 10)
	id := f.createSession(t)
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/doctor/sessions/"+id+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
				events <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(events)
	}()

	next := func() recordEvent {
		t.Helper()
		select {
		case data, ok := <-events:
			require.True(t, ok, "stream closed")
			var ev recordEvent
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("no event received")
		}
		return recordEvent{}
	}

	first := next()
	assert.Equal(t, "record_update", first.Type)
	assert.Empty(t, first.Record.Symptoms)

	f.script.Reply(headacheJSON).Reply("How severe is it?")
	body, _ := json.Marshal(pkg.ChatRequest{Content: "I have a headache"})
	post, err := http.Post(ts.URL+"/api/sessions/"+id+"/messages", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	post.Body.Close()
	require.Equal(t, http.StatusOK, post.StatusCode)

	second := next()
	require.Len(t, second.Record.Symptoms, 1)
	assert.Equal(t, "headache", second.Record.Symptoms[0].Name)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 10)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestKeyedMutexSerialisesPerKey(t *testing.T) {
	var (
		k       keyedMutex
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("s1")
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks)
}
