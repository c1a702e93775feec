package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"voxa/internal/audio"
	"voxa/internal/auth"
	"voxa/internal/config"
	"voxa/internal/ledger"
	"voxa/internal/model"
	"voxa/internal/pipeline"
	"voxa/internal/ratelimit"
	"voxa/internal/repository"
	"voxa/internal/tts"
)

const (
	testSecret   = "super-secret-jwt-token-with-at-least-32-characters"
	testSupabase = "https://project.supabase.co"
	testOrigin   = "http://localhost:5173"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProvider struct {
	audio []byte
	err   error
}

func (p *stubProvider) Synthesize(context.Context, tts.Request) (*tts.Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &tts.Result{Audio: io.NopCloser(bytes.NewReader(p.audio)), ContentType: "audio/mpeg"}, nil
}

func (p *stubProvider) Name() string { return "stub" }

type stubTranscoder struct {
	err error
}

func (s *stubTranscoder) Transcode(context.Context, []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return make([]byte, audio.WAVHeaderSize+audio.SampleRate*audio.BytesPerSample), nil
}

type testEnv struct {
	router     http.Handler
	repo       repository.TTSMessageRepository
	db         *sql.DB
	ledger     *ledger.Ledger
	provider   *stubProvider
	transcoder *stubTranscoder
}

type envOptions struct {
	noDatabase bool
	noProvider bool
	ttsLimiter ratelimit.Limiter
	apiLimiter ratelimit.Limiter
}

func newEnv(t *testing.T, o envOptions) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		provider:   &stubProvider{audio: []byte("ID3-mp3")},
		transcoder: &stubTranscoder{},
	}

	if !o.noDatabase {
		db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "api.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })
		if err := repository.Migrate(context.Background(), db, "sqlite"); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		env.db = db
		env.repo = repository.NewSQLRepository(db, "sqlite")
	}
	env.ledger = ledger.New(env.repo, log)

	verifier, err := auth.NewVerifier(context.Background(), config.AuthConfig{
		SupabaseURL: testSupabase,
		JWTSecret:   testSecret,
		Audience:    "authenticated",
	}, log)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	limiter := o.ttsLimiter
	if limiter == nil {
		limiter = ratelimit.NewMemory(50, 15*time.Minute)
	}
	deps := pipeline.Deps{
		Transcoder: env.transcoder,
		Limiter:    limiter,
		Ledger:     env.ledger,
		Log:        log,
	}
	if !o.noProvider {
		deps.Provider = env.provider
	}
	p := pipeline.New(deps, pipeline.Options{RateLimitWindow: 15 * time.Minute})

	env.router = NewServer(Deps{
		Pipeline:    p,
		Repo:        env.repo,
		Verifier:    verifier,
		APILimiter:  o.apiLimiter,
		FrontendURL: testOrigin,
		Log:         log,
	}).Router()
	return env
}

func token(t *testing.T, user uuid.UUID) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.String(),
		"email": "ada@example.com",
		"aud":   "authenticated",
		"iss":   testSupabase + "/auth/v1",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func (e *testEnv) do(t *testing.T, method, path, body string, user *uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *user))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestStreamSuccess(t *testing.T) {
	env := newEnv(t, envOptions{})
	user := uuid.New()

	w := env.do(t, http.MethodPost, "/api/tts/stream", `{"text":"Hello world","voice":"nova"}`, &user)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("content type = %q", ct)
	}
	want := audio.WAVHeaderSize + audio.SampleRate*audio.BytesPerSample
	if w.Body.Len() != want {
		t.Errorf("body length = %d, want %d", w.Body.Len(), want)
	}
	if w.Header().Get("Content-Length") == "" {
		t.Error("missing Content-Length")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if w.Header().Get("X-TTS-Message-ID") == "" {
		t.Error("authenticated request should expose the ledger row id")
	}
	if w.Header().Get("RateLimit-Limit") != "50" || w.Header().Get("RateLimit-Remaining") != "49" {
		t.Errorf("rate limit headers: %v", w.Header())
	}

	env.ledger.Wait()
	id, err := uuid.Parse(w.Header().Get("X-TTS-Message-ID"))
	if err != nil {
		t.Fatalf("message id: %v", err)
	}
	msg, err := env.repo.GetByID(context.Background(), id, user)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if msg.Status != model.StatusSent || msg.VoiceUsed != "nova" {
		t.Errorf("unexpected row %+v", msg)
	}
	if msg.AudioDurationSeconds == nil || *msg.AudioDurationSeconds != 1 {
		t.Errorf("duration = %v", msg.AudioDurationSeconds)
	}
}

func TestStreamAnonymous(t *testing.T) {
	env := newEnv(t, envOptions{})
	w := env.do(t, http.MethodPost, "/api/tts/stream", `{"text":"Hi"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-TTS-Message-ID") != "" {
		t.Error("anonymous requests are not recorded")
	}
}

func TestStreamValidation(t *testing.T) {
	env := newEnv(t, envOptions{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing text", `{}`, "Text is required."},
		{"blank text", `{"text":"   "}`, "Text is required."},
		{"non-string text", `{"text":42}`, "Text is required."},
		{"empty body", ``, "Text is required."},
		{"too long", `{"text":"` + strings.Repeat("a", 501) + `"}`, "Text is too long. Maximum allowed length is 500 characters."},
		{"malformed json", `{"text":`, "Invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/tts/stream", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if got := decode(t, w)["error"]; got != tt.want {
				t.Errorf("error = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestStreamRateLimited(t *testing.T) {
	env := newEnv(t, envOptions{ttsLimiter: ratelimit.NewMemory(1, 15*time.Minute)})
	user := uuid.New()

	if w := env.do(t, http.MethodPost, "/api/tts/stream", `{"text":"one"}`, &user); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := env.do(t, http.MethodPost, "/api/tts/stream", `{"text":"two"}`, &user)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	body := decode(t, w)
	if body["error"] != "Too many TTS requests" {
		t.Errorf("error = %v", body["error"])
	}
	if body["limit"] != float64(1) || body["window"] != float64(15) {
		t.Errorf("limit/window = %v/%v", body["limit"], body["window"])
	}
	if ra, ok := body["retryAfter"].(float64); !ok || ra < 1 || ra > 900 {
		t.Errorf("retryAfter = %v", body["retryAfter"])
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "15 minutes") {
		t.Errorf("message = %q", msg)
	}
}

func TestStreamProviderError(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.provider.err = &tts.ProviderError{StatusCode: http.StatusTooManyRequests, Message: "Rate limit reached", Details: "Rate limit reached"}

	w := env.do(t, http.MethodPost, "/api/tts/stream", `{"text":"Hello"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	body := decode(t, w)
	if body["error"] != "Rate limit reached" || body["statusCode"] != float64(429) {
		t.Errorf("body = %v", body)
	}
}

func TestStreamTranscodeUnavailable(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.transcoder.err = &audio.TranscodeError{Reason: audio.ReasonNotFound, Err: exec.ErrNotFound}

	w := env.do(t, http.MethodPost, "/api/tts/stream", `{"text":"Hello"}`, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	body := decode(t, w)
	if body["error"] != "Audio conversion unavailable." {
		t.Errorf("error = %v", body["error"])
	}
	if _, ok := body["details"]; !ok {
		t.Error("missing details")
	}
}

func TestStreamMissingCredential(t *testing.T) {
	env := newEnv(t, envOptions{noProvider: true})
	w := env.do(t, http.MethodPost, "/api/tts/stream", `{"text":"Hello"}`, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if got := decode(t, w)["error"]; got != "OPENAI_API_KEY is not configured on the server." {
		t.Errorf("error = %v", got)
	}
}

func TestStreamUnexpectedError(t *testing.T) {
	env := newEnv(t, envOptions{})
	env.provider.err = errors.New("dial tcp: connection refused")

	w := env.do(t, http.MethodPost, "/api/tts/stream", `{"text":"Hello"}`, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, envOptions{})
	w := env.do(t, http.MethodOptions, "/api/tts/stream", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("allow origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "PATCH") {
		t.Errorf("allow methods = %q", got)
	}
}

func TestHealth(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		env := newEnv(t, envOptions{})
		w := env.do(t, http.MethodGet, "/api/health", "", nil)
		if w.Code != http.StatusOK || decode(t, w)["database"] != "connected" {
			t.Fatalf("got %d %s", w.Code, w.Body.String())
		}
	})
	t.Run("not configured", func(t *testing.T) {
		env := newEnv(t, envOptions{noDatabase: true})
		w := env.do(t, http.MethodGet, "/api/health", "", nil)
		if w.Code != http.StatusOK || decode(t, w)["database"] != "not-configured" {
			t.Fatalf("got %d %s", w.Code, w.Body.String())
		}
	})
	t.Run("error", func(t *testing.T) {
		env := newEnv(t, envOptions{})
		_ = env.db.Close()
		w := env.do(t, http.MethodGet, "/api/health", "", nil)
		if w.Code != http.StatusInternalServerError || decode(t, w)["status"] != "error" {
			t.Fatalf("got %d %s", w.Code, w.Body.String())
		}
	})
}

func TestMessagesRequireAuth(t *testing.T) {
	env := newEnv(t, envOptions{})

	w := env.do(t, http.MethodGet, "/api/tts/messages", "", nil)
	if w.Code != http.StatusUnauthorized || decode(t, w)["error"] != "Authentication required" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tts/messages", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized || decode(t, w)["error"] != "Invalid or expired token" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestMessagesWithoutDatabase(t *testing.T) {
	env := newEnv(t, envOptions{noDatabase: true})
	user := uuid.New()
	w := env.do(t, http.MethodGet, "/api/tts/messages", "", &user)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMessageLifecycle(t *testing.T) {
	env := newEnv(t, envOptions{})
	user := uuid.New()

	w := env.do(t, http.MethodPost, "/api/tts/messages", `{"text_input":"Bonjour","language":"fr"}`, &user)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var created model.TTSMessage
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != model.StatusSent || created.VoiceUsed != "alloy" || created.Speed != 1 || created.TextLength != 7 {
		t.Errorf("unexpected row %+v", created)
	}
	path := "/api/tts/messages/" + created.ID.String()

	w = env.do(t, http.MethodGet, path, "", &user)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}

	w = env.do(t, http.MethodPatch, path+"/duration", `{"audio_duration_seconds":"2.6"}`, &user)
	if w.Code != http.StatusOK {
		t.Fatalf("duration: %d %s", w.Code, w.Body.String())
	}
	var updated model.TTSMessage
	_ = json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.AudioDurationSeconds == nil || *updated.AudioDurationSeconds != 3 {
		t.Errorf("duration = %v", updated.AudioDurationSeconds)
	}

	// sent is terminal
	w = env.do(t, http.MethodPut, path+"/status", `{"status":"failed"}`, &user)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/tts/messages", "", &user)
	var list []model.TTSMessage
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list: %v %s", err, w.Body.String())
	}

	stranger := uuid.New()
	if w := env.do(t, http.MethodGet, path, "", &stranger); w.Code != http.StatusNotFound {
		t.Errorf("other users must not see the row, got %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/tts/messages", "", &stranger)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("stranger list = %s", w.Body.String())
	}
}

func TestMessageStatusTransition(t *testing.T) {
	env := newEnv(t, envOptions{})
	user := uuid.New()
	msg := &model.TTSMessage{UserID: user, TextInput: "hi", TextLength: 2, VoiceUsed: "alloy", Speed: 1, Pitch: 1}
	if err := env.repo.Create(context.Background(), msg); err != nil {
		t.Fatalf("create: %v", err)
	}
	path := "/api/tts/messages/" + msg.ID.String() + "/status"

	w := env.do(t, http.MethodPut, path, `{"status":"done"}`, &user)
	if w.Code != http.StatusBadRequest || decode(t, w)["error"] != "Invalid status" {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPut, path, `{"status":"failed","error_message":"speaker unplugged"}`, &user)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "failed" || body["error_message"] != "speaker unplugged" {
		t.Errorf("body = %v", body)
	}

	missing := "/api/tts/messages/" + uuid.NewString() + "/status"
	if w := env.do(t, http.MethodPut, missing, `{"status":"sent"}`, &user); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCreateMessageValidation(t *testing.T) {
	env := newEnv(t, envOptions{})
	user := uuid.New()
	other := uuid.New()
	meeting := uuid.New()
	if _, err := env.db.Exec(`INSERT INTO meetings (id, user_id, title) VALUES (?, ?, ?)`, meeting, other, "Standup"); err != nil {
		t.Fatalf("insert meeting: %v", err)
	}

	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"missing text", `{}`, http.StatusBadRequest, "text_input is required"},
		{"non-string text", `{"text_input":5}`, http.StatusBadRequest, "text_input is required"},
		{"too long", `{"text_input":"` + strings.Repeat("b", 501) + `"}`, http.StatusBadRequest, "Text input exceeds 500 character limit"},
		{"foreign meeting", `{"text_input":"hi","meeting_id":"` + meeting.String() + `"}`, http.StatusNotFound, "Meeting not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/tts/messages", tt.body, &user)
			if w.Code != tt.code || decode(t, w)["error"] != tt.want {
				t.Fatalf("got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestUpdateDurationValidation(t *testing.T) {
	env := newEnv(t, envOptions{})
	user := uuid.New()
	msg := &model.TTSMessage{UserID: user, TextInput: "hi", TextLength: 2, VoiceUsed: "alloy", Speed: 1, Pitch: 1, Status: model.StatusSent}
	if err := env.repo.Create(context.Background(), msg); err != nil {
		t.Fatalf("create: %v", err)
	}
	path := "/api/tts/messages/" + msg.ID.String() + "/duration"

	for _, body := range []string{`{}`, `{"audio_duration_seconds":-1}`, `{"audio_duration_seconds":86401}`, `{"audio_duration_seconds":"abc"}`, `{"audio_duration_seconds":true}`} {
		w := env.do(t, http.MethodPatch, path, body, &user)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}

	w := env.do(t, http.MethodPatch, path, `{"audio_duration_seconds":86400}`, &user)
	if w.Code != http.StatusOK {
		t.Fatalf("upper bound: %d %s", w.Code, w.Body.String())
	}
}

func TestListMessagesFilters(t *testing.T) {
	env := newEnv(t, envOptions{})
	user := uuid.New()
	ctx := context.Background()
	for i, status := range []string{model.StatusSent, model.StatusSent, model.StatusPending} {
		msg := &model.TTSMessage{
			UserID:    user, TextInput: "m", TextLength: 1, VoiceUsed: "alloy", Speed: 1, Pitch: 1,
			Status:    status,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := env.repo.Create(ctx, msg); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	count := func(query string) int {
		w := env.do(t, http.MethodGet, "/api/tts/messages"+query, "", &user)
		var list []model.TTSMessage
		if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
			t.Fatalf("%s: %v", query, err)
		}
		return len(list)
	}
	if n := count(""); n != 3 {
		t.Errorf("all = %d", n)
	}
	if n := count("?status=sent"); n != 2 {
		t.Errorf("sent = %d", n)
	}
	if n := count("?limit=1"); n != 1 {
		t.Errorf("limit = %d", n)
	}
	if n := count("?offset=2"); n != 1 {
		t.Errorf("offset = %d", n)
	}
}

func TestAPIRateLimit(t *testing.T) {
	env := newEnv(t, envOptions{apiLimiter: ratelimit.NewMemory(2, time.Minute)})
	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodGet, "/api/health", "", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, w.Code)
		}
	}
	w := env.do(t, http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if decode(t, w)["error"] != "Too many API requests" {
		t.Errorf("body = %s", w.Body.String())
	}

	// /healthz sits outside the /api group
	if w := env.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz: %d", w.Code)
	}
}

func TestMessageStatusSentDropsError(t *testing.T) {
	env := newEnv(t, envOptions{})
	user := uuid.New()
	msg := &model.TTSMessage{UserID: user, TextInput: "hi", TextLength: 2, VoiceUsed: "alloy", Speed: 1, Pitch: 1}
	if err := env.repo.Create(context.Background(), msg); err != nil {
		t.Fatalf("create: %v", err)
	}

	w := env.do(t, http.MethodPut, "/api/tts/messages/"+msg.ID.String()+"/status",
		`{"status":"sent","error_message":"boom"}`, &user)
	if w.Code != http.StatusOK {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if v, ok := body["error_message"]; !ok || v != nil {
		t.Errorf("sent row must not carry an error message, body = %v", body)
	}
	if body["status"] != "sent" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestAnalyticsRoutes(t *testing.T) {
	env := newEnv(t, envOptions{})
	user := uuid.New()
	ctx := context.Background()

	monday := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	for _, m := range []*model.TTSMessage{
		{UserID: user, TextInput: "one", TextLength: 3, VoiceUsed: "nova", Speed: 1, Pitch: 1, CreatedAt: monday},
		{UserID: user, TextInput: "two", TextLength: 3, VoiceUsed: "nova", Speed: 1, Pitch: 1, CreatedAt: monday.Add(time.Hour)},
		{UserID: user, TextInput: "three", TextLength: 5, VoiceUsed: "echo", Speed: 1, Pitch: 1, Status: model.StatusSent},
	} {
		if err := env.repo.Create(ctx, m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/analytics/voices", "", &user)
	if w.Code != http.StatusOK {
		t.Fatalf("voices: %d %s", w.Code, w.Body.String())
	}
	var voices []model.VoiceUsage
	if err := json.Unmarshal(w.Body.Bytes(), &voices); err != nil {
		t.Fatalf("decode voices: %v", err)
	}
	if len(voices) != 2 || voices[0] != (model.VoiceUsage{Voice: "nova", Count: 2}) || voices[1] != (model.VoiceUsage{Voice: "echo", Count: 1}) {
		t.Errorf("voices = %+v", voices)
	}

	w = env.do(t, http.MethodGet, "/api/analytics/daily-activity", "", &user)
	if w.Code != http.StatusOK {
		t.Fatalf("daily-activity: %d %s", w.Code, w.Body.String())
	}
	var days []model.DailyActivity
	if err := json.Unmarshal(w.Body.Bytes(), &days); err != nil {
		t.Fatalf("decode days: %v", err)
	}
	total, mondays := 0, 0
	for _, d := range days {
		total += d.Messages
		if d.Day == "Mon" {
			mondays = d.Messages
		}
	}
	if total != 3 || mondays < 2 {
		t.Errorf("days = %+v", days)
	}

	w = env.do(t, http.MethodGet, "/api/analytics/stats", "", &user)
	var stats model.UsageStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.TotalTTSMessages != 1 || stats.TotalCharacters != 11 {
		t.Errorf("stats = %+v", stats)
	}

	// only the row created just now falls inside the last month
	w = env.do(t, http.MethodGet, "/api/analytics/monthly?months=1", "", &user)
	var monthly []model.MonthlyUsage
	if err := json.Unmarshal(w.Body.Bytes(), &monthly); err != nil {
		t.Fatalf("decode monthly: %v", err)
	}
	if len(monthly) != 1 || monthly[0].Characters != 5 || monthly[0].Month != time.Now().UTC().Format("2006-01") {
		t.Errorf("monthly = %+v", monthly)
	}

	stranger := uuid.New()
	w = env.do(t, http.MethodGet, "/api/analytics/voices", "", &stranger)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("stranger voices = %s", w.Body.String())
	}
}

func TestAnalyticsGuards(t *testing.T) {
	env := newEnv(t, envOptions{})
	if w := env.do(t, http.MethodGet, "/api/analytics/voices", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}

	noDB := newEnv(t, envOptions{noDatabase: true})
	user := uuid.New()
	if w := noDB.do(t, http.MethodGet, "/api/analytics/daily-activity", "", &user); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
