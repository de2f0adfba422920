package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"otonote/internal/auth"
	"otonote/internal/config"
	"otonote/internal/db/dbtest"
	httpx "otonote/internal/http"
	"otonote/internal/jobs"
	"otonote/internal/logging"
	"otonote/internal/media"
)

type testAPI struct {
	t    *testing.T
	srv  *httptest.Server
	repo *jobs.Repo
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gdb := dbtest.Open(t)
	h := httpx.NewRouter(config.Config{}, httpx.Deps{
		DB:    gdb,
		JWT:   auth.NewJWT("test-secret"),
		Media: media.NewStore(t.TempDir()),
		Log:   logging.Nop(),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testAPI{t: t, srv: srv, repo: &jobs.Repo{DB: gdb}}
}

func (a *testAPI) do(method, path, token string, body *bytes.Buffer, contentType string) *http.Response {
	a.t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, body)
	if err != nil {
		a.t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.t.Fatal(err)
	}
	a.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *testAPI) register(email string) string {
	a.t.Helper()
	body := bytes.NewBufferString(fmt.Sprintf(`{"email":%q,"password":"hunter2hunter2"}`, email))
	resp := a.do(http.MethodPost, "/auth/register", "", body, "application/json")
	if resp.StatusCode != http.StatusCreated {
		a.t.Fatalf("register status = %d", resp.StatusCode)
	}
	var out struct{ Token string }
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Token == "" {
		a.t.Fatalf("register body: %v", err)
	}
	return out.Token
}

func (a *testAPI) upload(token string, fields map[string]string) *http.Response {
	a.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "meeting.m4a")
	if err != nil {
		a.t.Fatal(err)
	}
	_, _ = fw.Write([]byte("fake audio"))
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	return a.do(http.MethodPost, "/jobs/", token, &buf, mw.FormDataContentType())
}

type jobBody struct {
	ID           uint64 `json:"id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	ModelName    string `json:"model_name"`
	Language     string `json:"language"`
	Diarize      bool   `json:"diarize"`
	Filename     string `json:"filename"`
	ErrorMessage string `json:"error_message"`
}

func decodeJob(t *testing.T, resp *http.Response) jobBody {
	t.Helper()
	var j jobBody
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return j
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)
	if resp := a.do(http.MethodGet, "/health", "", nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
	if resp := a.do(http.MethodGet, "/metrics", "", nil, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics = %d", resp.StatusCode)
	}
}

func TestLoginAndMe(t *testing.T) {
	a := newTestAPI(t)
	a.register("Ann@Example.com")

	bad := a.do(http.MethodPost, "/auth/login", "", bytes.NewBufferString(`{"email":"ann@example.com","password":"nope"}`), "application/json")
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login = %d", bad.StatusCode)
	}

	resp := a.do(http.MethodPost, "/auth/login", "", bytes.NewBufferString(`{"email":" ANN@example.com ","password":"hunter2hunter2"}`), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login = %d", resp.StatusCode)
	}
	var out struct{ Token string }
	_ = json.NewDecoder(resp.Body).Decode(&out)

	me := a.do(http.MethodGet, "/me", out.Token, nil, "")
	var u struct{ Email string }
	_ = json.NewDecoder(me.Body).Decode(&u)
	if me.StatusCode != http.StatusOK || u.Email != "ann@example.com" {
		t.Fatalf("me = %d %+v", me.StatusCode, u)
	}

	dup := a.do(http.MethodPost, "/auth/register", "", bytes.NewBufferString(`{"email":"ann@example.com","password":"hunter2hunter2"}`), "application/json")
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register = %d", dup.StatusCode)
	}
}

func TestJobsRequireAuth(t *testing.T) {
	a := newTestAPI(t)
	if resp := a.do(http.MethodGet, "/jobs/", "", nil, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUploadCreatesQueuedJob(t *testing.T) {
	a := newTestAPI(t)
	tok := a.register("a@example.com")

	resp := a.upload(tok, map[string]string{"model_name": "base", "language": "auto", "diarize": "false"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	j := decodeJob(t, resp)
	if j.Status != "queued" || j.Progress != 0 || j.ModelName != "base" || j.Language != "auto" || j.Diarize {
		t.Fatalf("job = %+v", j)
	}
	if j.Filename != "meeting.m4a" {
		t.Fatalf("filename = %q", j.Filename)
	}

	def := decodeJob(t, a.upload(tok, nil))
	if def.ModelName != "small" || def.Language != "ja" || !def.Diarize {
		t.Fatalf("defaults = %+v", def)
	}

	list := a.do(http.MethodGet, "/jobs/", tok, nil, "")
	var rows []jobBody
	_ = json.NewDecoder(list.Body).Decode(&rows)
	if len(rows) != 2 || rows[0].ID != def.ID {
		t.Fatalf("list = %+v", rows)
	}

	stored, err := a.repo.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.UserID == nil || !strings.Contains(stored.InputPath, "meeting_") {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestUploadValidation(t *testing.T) {
	a := newTestAPI(t)
	tok := a.register("a@example.com")
	for _, f := range []map[string]string{
		{"language": "Japanese!"},
		{"diarize": "maybe"},
		{"segment_sec": "-5"},
		{"model_name": "../../etc"},
	} {
		if resp := a.upload(tok, f); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("fields %v: status = %d", f, resp.StatusCode)
		}
	}
	missing := a.do(http.MethodPost, "/jobs/", tok, bytes.NewBufferString("x"), "text/plain")
	if missing.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-multipart status = %d", missing.StatusCode)
	}
}

func TestTranscriptAndRequeue(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()
	tok := a.register("a@example.com")
	other := a.register("b@example.com")

	j := decodeJob(t, a.upload(tok, nil))
	path := fmt.Sprintf("/jobs/%d", j.ID)

	if resp := a.do(http.MethodGet, path+"/transcript", tok, nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("transcript before done = %d", resp.StatusCode)
	}
	if resp := a.do(http.MethodPost, path+"/requeue", tok, nil, ""); resp.StatusCode != http.StatusConflict {
		t.Fatalf("requeue queued job = %d", resp.StatusCode)
	}
	if resp := a.do(http.MethodGet, path, other, nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign job = %d", resp.StatusCode)
	}

	if _, err := a.repo.Claim(ctx, "w"); err != nil {
		t.Fatal(err)
	}
	if err := a.repo.MarkFailed(ctx, j.ID, "w", "TranscriptionError: boom"); err != nil {
		t.Fatal(err)
	}
	got := decodeJob(t, a.do(http.MethodGet, path, tok, nil, ""))
	if got.Status != "error" || got.ErrorMessage != "TranscriptionError: boom" {
		t.Fatalf("failed job = %+v", got)
	}

	rq := a.do(http.MethodPost, path+"/requeue", tok, nil, "")
	if rq.StatusCode != http.StatusOK || decodeJob(t, rq).Status != "queued" {
		t.Fatalf("requeue = %d", rq.StatusCode)
	}

	if _, err := a.repo.Claim(ctx, "w"); err != nil {
		t.Fatal(err)
	}
	if err := a.repo.MarkDone(ctx, j.ID, "w", "[SPEAKER_00]: こんにちは"); err != nil {
		t.Fatal(err)
	}
	tr := a.do(http.MethodGet, path+"/transcript", tok, nil, "")
	if tr.StatusCode != http.StatusOK {
		t.Fatalf("transcript = %d", tr.StatusCode)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(tr.Body)
	if body.String() != "[SPEAKER_00]: こんにちは" {
		t.Fatalf("transcript body = %q", body.String())
	}
	if cd := tr.Header.Get("Content-Disposition"); !strings.Contains(cd, fmt.Sprintf("transcript_job_%d.txt", j.ID)) {
		t.Fatalf("content-disposition = %q", cd)
	}
}
