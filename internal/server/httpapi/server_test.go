package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/cryptox"
	"github.com/dmitrijs2005/smartagro/internal/dbx"
	"github.com/dmitrijs2005/smartagro/internal/logging"
	"github.com/dmitrijs2005/smartagro/internal/server/auth"
	"github.com/dmitrijs2005/smartagro/internal/server/classifier"
	"github.com/dmitrijs2005/smartagro/internal/server/models"
	"github.com/dmitrijs2005/smartagro/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/smartagro/internal/server/services"
	"github.com/dmitrijs2005/smartagro/internal/server/sessions"
	"github.com/dmitrijs2005/smartagro/internal/server/uploads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type harness struct {
	srv      *httptest.Server
	client   *http.Client
	sessions *sessions.Manager
}

func newHarness(t *testing.T, c classifier.Classifier, maxUpload int64) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := dbx.Open(ctx, dbx.SQLite, filepath.Join(dir, "agro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm, err := repomanager.NewRepositoryManager(dbx.SQLite)
	require.NoError(t, err)
	require.NoError(t, rm.RunMigrations(ctx, db))

	store, err := uploads.NewLocalStore(filepath.Join(dir, "uploads"), "/static/uploads", false)
	require.NoError(t, err)

	log := logging.Nop()
	sm := sessions.NewManager(log)
	users := services.NewUserService(db, rm, cryptox.NewBcryptHasher(4), sm, log)
	diag := services.NewDiagnosisService(sm, uploads.NewValidator(nil), store, c,
		services.DiagnosisOptions{ImageWidth: 8, ImageHeight: 8, Timeout: 5 * time.Second}, log)

	s := NewServer(Options{
		Secret:         testSecret,
		SessionTTL:     time.Hour,
		MaxUploadBytes: maxUpload,
		Accounts:       users,
		Diagnosis:      diag,
		Sessions:       sm,
		Images:         store,
		Logger:         log,
	})

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &harness{srv: ts, client: client, sessions: sm}
}

func (h *harness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := h.client.Get(h.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) postForm(t *testing.T, path string, v url.Values) *http.Response {
	t.Helper()
	resp, err := h.client.PostForm(h.srv.URL+path, v)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) upload(t *testing.T, filename string, body []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" || body != nil {
		fw, err := mw.CreateFormFile(UploadField, filename)
		require.NoError(t, err)
		_, err = fw.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := h.client.Post(h.srv.URL+"/diagnose", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) login(t *testing.T, user, pw string) {
	t.Helper()
	resp := h.postForm(t, "/signup", url.Values{"username": {user}, "password": {pw}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	resp = h.postForm(t, "/login", url.Values{"username": {user}, "password": {pw}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func rustStub() classifier.Classifier {
	return classifier.Func(func(ctx context.Context, in classifier.Input) (classifier.Prediction, error) {
		return classifier.Prediction{Label: models.LabelRust, Confidence: 0.87}, nil
	})
}

type historyDoc struct {
	History []models.DiagnosisRecord `json:"history"`
}

func TestEndToEnd_SignupLoginDiagnoseHistoryClear(t *testing.T) {
	h := newHarness(t, rustStub(), 0)

	resp := h.postForm(t, "/signup", url.Values{"username": {"alice"}, "password": {"pw123"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = h.postForm(t, "/login", url.Values{"username": {"alice"}, "password": {"pw123"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == common.SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.NotContains(t, cookie.Value, "alice")

	resp = h.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", decode[map[string]string](t, resp)["user"])

	resp = h.upload(t, "rust_leaf.jpg", pngBytes(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[diagnoseResponse](t, resp)
	require.NotNil(t, d.Prediction)
	assert.Equal(t, "Rust", *d.Prediction)
	assert.Equal(t, 87.0, *d.Confidence)
	assert.Equal(t, "/static/uploads/rust_leaf.jpg", *d.ImageURL)

	resp = h.get(t, "/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	hist := decode[historyDoc](t, resp)
	require.Len(t, hist.History, 1)
	assert.Equal(t, "rust_leaf.jpg", hist.History[0].Filename)
	assert.Equal(t, models.LabelRust, hist.History[0].Prediction)
	assert.Equal(t, 87.0, hist.History[0].Confidence)

	resp = h.get(t, "/static/uploads/rust_leaf.jpg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	img, _ := io.ReadAll(resp.Body)
	assert.Equal(t, pngBytes(t), img)

	resp = h.get(t, "/clear_history")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/history", resp.Header.Get("Location"))

	resp = h.get(t, "/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[historyDoc](t, resp).History, 0)

	resp = h.get(t, "/logout")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Equal(t, 0, h.sessions.Len())

	resp = h.get(t, "/history")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestSignup_Errors(t *testing.T) {
	h := newHarness(t, rustStub(), 0)

	resp := h.postForm(t, "/signup", url.Values{"username": {"alice"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MissingField", decode[errorResponse](t, resp).Error)

	h.postForm(t, "/signup", url.Values{"username": {"alice"}, "password": {"pw123"}})
	resp = h.postForm(t, "/signup", url.Values{"username": {"alice"}, "password": {"other"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DuplicateUsername", decode[errorResponse](t, resp).Error)

	// the original password still works
	resp = h.postForm(t, "/login", url.Values{"username": {"alice"}, "password": {"pw123"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = h.postForm(t, "/signup", url.Values{"username": {"bob"}, "password": {strings.Repeat("x", 80)}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "PasswordTooLong", decode[errorResponse](t, resp).Error)

	resp = h.postForm(t, "/login", url.Values{"username": {"bob"}, "password": {strings.Repeat("x", 80)}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_InvalidCredentialsAreUniform(t *testing.T) {
	h := newHarness(t, rustStub(), 0)
	h.postForm(t, "/signup", url.Values{"username": {"alice"}, "password": {"pw123"}})

	wrongPw := h.postForm(t, "/login", url.Values{"username": {"alice"}, "password": {"nope"}})
	noUser := h.postForm(t, "/login", url.Values{"username": {"bob"}, "password": {"pw123"}})

	for _, resp := range []*http.Response{wrongPw, noUser} {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Empty(t, resp.Cookies())
		body, _ := io.ReadAll(resp.Body)
		assert.JSONEq(t, `{"error":"InvalidCredentials","message":"invalid credentials"}`, string(body))
	}
}

func TestProtectedRoutes_RedirectWithoutSession(t *testing.T) {
	h := newHarness(t, rustStub(), 0)

	for _, p := range []string{"/", "/diagnose", "/history", "/clear_history", "/info/Rust", "/static/uploads/x.png"} {
		resp := h.get(t, p)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, p)
		assert.Equal(t, "/login", resp.Header.Get("Location"), p)
	}
	resp := h.upload(t, "leaf.png", pngBytes(t))
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestTamperedCookie_Redirects(t *testing.T) {
	h := newHarness(t, rustStub(), 0)
	ctx := context.Background()
	token, err := h.sessions.Create(ctx, "alice")
	require.NoError(t, err)

	forged, err := auth.GenerateToken(token, []byte("other-secret"), time.Hour)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/history", nil)
	req.AddCookie(&http.Cookie{Name: common.SessionCookieName, Value: forged})
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	good, err := auth.GenerateToken(token, testSecret, time.Hour)
	require.NoError(t, err)
	req, _ = http.NewRequest(http.MethodGet, h.srv.URL+"/history", nil)
	req.AddCookie(&http.Cookie{Name: common.SessionCookieName, Value: good})
	resp, err = h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDiagnose_RejectedAndFailed(t *testing.T) {
	fail := classifier.Func(func(ctx context.Context, in classifier.Input) (classifier.Prediction, error) {
		return classifier.Prediction{}, common.ErrClassificationFailed
	})
	h := newHarness(t, fail, 0)
	h.login(t, "alice", "pw123")

	resp := h.upload(t, "leaf.exe", []byte("MZ"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d := decode[diagnoseResponse](t, resp)
	assert.Equal(t, "Rejected", d.State)
	assert.Equal(t, "file type not allowed", d.Rejected)
	assert.Nil(t, d.Prediction)

	resp = h.upload(t, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Rejected", decode[diagnoseResponse](t, resp).State)

	resp = h.upload(t, "leaf.png", pngBytes(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	d = decode[diagnoseResponse](t, resp)
	assert.Equal(t, "ClassificationFailed", d.State)
	require.NotNil(t, d.Prediction)
	assert.Equal(t, "Error", *d.Prediction)
	assert.Equal(t, 0.0, *d.Confidence)

	resp = h.get(t, "/history")
	assert.Len(t, decode[historyDoc](t, resp).History, 0)
}

func TestDiagnose_TooLarge(t *testing.T) {
	h := newHarness(t, rustStub(), 1024)
	h.login(t, "alice", "pw123")

	resp := h.upload(t, "leaf.png", bytes.Repeat([]byte{1}, 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "FileTooLarge", decode[errorResponse](t, resp).Error)
}

func TestDiagnoseForm(t *testing.T) {
	h := newHarness(t, rustStub(), 0)
	h.login(t, "alice", "pw123")

	resp := h.get(t, "/diagnose")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"prediction":null,"confidence":null,"image_url":null}`, string(body))
}

func TestInfo(t *testing.T) {
	h := newHarness(t, rustStub(), 0)
	h.login(t, "alice", "pw123")

	resp := h.get(t, "/info/red_rot")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "RedRot", decode[map[string]any](t, resp)["label"])

	resp = h.get(t, "/info/Blight")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "UnknownDisease", decode[errorResponse](t, resp).Error)
}

func TestPublicRoutes(t *testing.T) {
	h := newHarness(t, rustStub(), 0)

	resp := h.get(t, "/ping")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "pong", string(body))

	resp = h.get(t, "/about")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[map[string]any](t, resp)["labels"], 5)

	for _, p := range []string{"/signup", "/login"} {
		resp = h.get(t, p)
		assert.Equal(t, http.StatusOK, resp.StatusCode, p)
	}

	resp = h.get(t, "/logout")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp = h.get(t, "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadedImage_NotFound(t *testing.T) {
	h := newHarness(t, rustStub(), 0)
	h.login(t, "alice", "pw123")

	resp := h.get(t, "/static/uploads/missing.png")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadedImage_TypeFromContent(t *testing.T) {
	h := newHarness(t, rustStub(), 0)
	h.login(t, "alice", "pw123")

	resp := h.upload(t, "fake.png", []byte("<html><script>alert(1)</script></html>"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.get(t, "/static/uploads/fake.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "<html><script>alert(1)</script></html>", string(body))
}

func TestMakeHandler_UnhandledErrorIs500(t *testing.T) {
	s := NewServer(Options{Logger: logging.Nop()})
	h := s.makeHandler(func(w http.ResponseWriter, r *http.Request) error {
		return io.ErrUnexpectedEOF
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))
	assert.JSONEq(t, `{"error":"InternalError"}`, rec.Body.String())
}

func TestServe_GracefulShutdown(t *testing.T) {
	s := NewServer(Options{Logger: logging.Nop()})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, lis) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + lis.Addr().String() + "/ping")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServe_ListenerFailureReturns(t *testing.T) {
	s := NewServer(Options{Logger: logging.Nop()})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, lis.Close())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background(), lis) }()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the listener failed")
	}
}

func TestRequestID(t *testing.T) {
	h := newHarness(t, rustStub(), 0)

	resp := h.get(t, "/ping")
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/ping", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, err = h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(RequestIDHeader))
}
