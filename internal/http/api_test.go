package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"task-tracker/internal/auth"
	"task-tracker/internal/repository/sqlite"
	"task-tracker/internal/service"
	"task-tracker/internal/storage/storagetest"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	store  *storagetest.Memory
	db     *sql.DB
}

func newTestServer(t *testing.T, bucket string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	userRepo := sqlite.NewUserRepository(db)
	taskRepo := sqlite.NewTaskRepository(db)
	if err := userRepo.Init(ctx); err != nil {
		t.Fatalf("init users: %v", err)
	}
	if err := taskRepo.Init(ctx); err != nil {
		t.Fatalf("init tasks: %v", err)
	}

	issuer, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	users := service.NewUserService(userRepo, issuer)
	tasks := service.NewTaskService(taskRepo)
	store := storagetest.NewMemory()
	exports := service.NewExportService(tasks, store, service.ExportConfig{Bucket: bucket, KeyPrefix: "exports"})

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	router := gin.New()
	NewHandler(users, tasks, exports, logger).RegisterRoutes(router)
	return &testServer{t: t, router: router, store: store, db: db}
}

type response struct {
	Code   int
	Header http.Header
	Body   []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		t.Fatalf("decode %s: %v", r.Body, err)
	}
}

func (r response) message(t *testing.T) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	r.decode(t, &body)
	return body.Message
}

func (s *testServer) do(method, path, token string, body any) response {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return response{Code: rec.Code, Header: rec.Header(), Body: rec.Body.Bytes()}
}

func (s *testServer) register(email, password string) AuthResponse {
	s.t.Helper()
	res := s.do(http.MethodPost, "/api/auth/register", "", gin.H{"name": "Test", "email": email, "password": password})
	if res.Code != http.StatusCreated {
		s.t.Fatalf("register %s: %d %s", email, res.Code, res.Body)
	}
	var out AuthResponse
	res.decode(s.t, &out)
	return out
}

func (s *testServer) createTask(token, title string) TaskResponse {
	s.t.Helper()
	res := s.do(http.MethodPost, "/api/tasks", token, gin.H{"title": title})
	if res.Code != http.StatusCreated {
		s.t.Fatalf("create %q: %d %s", title, res.Code, res.Body)
	}
	var out TaskResponse
	res.decode(s.t, &out)
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")
	res := s.do(http.MethodGet, "/api/health", "", nil)
	if res.Code != http.StatusOK || res.message(t) != "Server is running" {
		t.Fatalf("health = %d %s", res.Code, res.Body)
	}
	if res.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID header")
	}
	if res.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("X-Request-ID = %q", got)
	}
}

func TestRegisterLoginMe(t *testing.T) {
	s := newTestServer(t, "")
	reg := s.register("ada@example.com", "secret1")
	if reg.Token == "" || reg.ID == 0 || reg.Email != "ada@example.com" {
		t.Fatalf("unexpected register response: %+v", reg)
	}

	res := s.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": "ada@example.com", "password": "secret1"})
	if res.Code != http.StatusOK {
		t.Fatalf("login = %d %s", res.Code, res.Body)
	}
	var login AuthResponse
	res.decode(t, &login)

	res = s.do(http.MethodGet, "/api/auth/me", login.Token, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("me = %d %s", res.Code, res.Body)
	}
	var me UserResponse
	res.decode(t, &me)
	if me.ID != reg.ID || me.Email != "ada@example.com" {
		t.Fatalf("me = %+v", me)
	}
	if strings.Contains(string(res.Body), "password") {
		t.Fatalf("password hash leaked: %s", res.Body)
	}
}

func TestRegisterFormEncoded(t *testing.T) {
	s := newTestServer(t, "")
	form := url.Values{"name": {"Form"}, "email": {"form@example.com"}, "password": {"secret1"}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("form register = %d %s", rec.Code, rec.Body)
	}
}

func TestRegisterValidationAndConflict(t *testing.T) {
	s := newTestServer(t, "")
	res := s.do(http.MethodPost, "/api/auth/register", "", gin.H{"email": "a@example.com", "password": "secret1"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("missing name = %d", res.Code)
	}

	s.register("a@example.com", "first-password")
	res = s.do(http.MethodPost, "/api/auth/register", "", gin.H{"name": "B", "email": "a@example.com", "password": "second-password"})
	if res.Code != http.StatusConflict {
		t.Fatalf("duplicate = %d %s", res.Code, res.Body)
	}

	res = s.do(http.MethodPost, "/api/auth/login", "", gin.H{"email": "a@example.com", "password": "first-password"})
	if res.Code != http.StatusOK {
		t.Fatalf("original account login = %d", res.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	s := newTestServer(t, "")
	s.register("a@example.com", "secret1")

	for _, body := range []gin.H{
		{"email": "a@example.com", "password": "wrong-pass"},
		{"email": "nobody@example.com", "password": "secret1"},
	} {
		res := s.do(http.MethodPost, "/api/auth/login", "", body)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("login %v = %d", body, res.Code)
		}
		if res.message(t) != "invalid credentials" {
			t.Fatalf("message = %q", res.message(t))
		}
		if strings.Contains(string(res.Body), "token") {
			t.Fatalf("token in failed login: %s", res.Body)
		}
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, "")
	cases := []struct {
		token string
		want  string
	}{
		{"", "Not authorized, no token"},
		{"garbage", "Not authorized, token failed"},
	}
	for _, tc := range cases {
		res := s.do(http.MethodGet, "/api/tasks", tc.token, nil)
		if res.Code != http.StatusUnauthorized || res.message(t) != tc.want {
			t.Fatalf("token %q: %d %s", tc.token, res.Code, res.Body)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("basic scheme = %d", rec.Code)
	}
}

func TestTokenForRemovedUserIsRejected(t *testing.T) {
	s := newTestServer(t, "")
	acct := s.register("gone@example.com", "secret1")

	if res := s.do(http.MethodGet, "/api/auth/me", acct.Token, nil); res.Code != http.StatusOK {
		t.Fatalf("me before removal = %d %s", res.Code, res.Body)
	}
	if _, err := s.db.Exec(`DELETE FROM users WHERE id = ?`, acct.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	res := s.do(http.MethodGet, "/api/auth/me", acct.Token, nil)
	if res.Code != http.StatusUnauthorized || res.message(t) != "Not authorized, token failed" {
		t.Fatalf("me after removal = %d %s", res.Code, res.Body)
	}
	if res := s.do(http.MethodGet, "/api/tasks", acct.Token, nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("list after removal = %d", res.Code)
	}
}

func TestCreateAndListTask(t *testing.T) {
	s := newTestServer(t, "")
	user := s.register("a@example.com", "secret1")

	before := time.Now().Add(-time.Second)
	task := s.createTask(user.Token, "Buy milk")
	if task.Status != "Pending" || task.User != user.ID {
		t.Fatalf("created task = %+v", task)
	}
	created, err := time.Parse(time.RFC3339, task.CreatedAt)
	if err != nil || created.Before(before.Truncate(time.Second)) {
		t.Fatalf("created_at = %q (%v)", task.CreatedAt, err)
	}

	res := s.do(http.MethodGet, "/api/tasks", user.Token, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("list = %d", res.Code)
	}
	var page TaskPageResponse
	res.decode(t, &page)
	if page.Total != 1 || len(page.Tasks) != 1 || page.Tasks[0].Title != "Buy milk" {
		t.Fatalf("page = %+v", page)
	}
	if page.Page != 1 || page.TotalPages != 1 || page.HasMore {
		t.Fatalf("page meta = %+v", page)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	s := newTestServer(t, "")
	user := s.register("a@example.com", "secret1")

	res := s.do(http.MethodPost, "/api/tasks", user.Token, gin.H{"title": "   "})
	if res.Code != http.StatusBadRequest || res.message(t) != "Title is required" {
		t.Fatalf("blank title = %d %s", res.Code, res.Body)
	}
	res = s.do(http.MethodPost, "/api/tasks", user.Token, gin.H{"title": "x", "status": "Done"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("bad status = %d", res.Code)
	}
}

func TestListPagingAndSearch(t *testing.T) {
	s := newTestServer(t, "")
	user := s.register("a@example.com", "secret1")
	for i := 0; i < 7; i++ {
		title := fmt.Sprintf("chore %d", i)
		if i%3 == 0 {
			title = fmt.Sprintf("ABC item %d", i)
		}
		s.createTask(user.Token, title)
	}

	res := s.do(http.MethodGet, "/api/tasks?page=2&limit=5", user.Token, nil)
	var page TaskPageResponse
	res.decode(t, &page)
	if page.Total != 7 || len(page.Tasks) != 2 || page.TotalPages != 2 || page.HasMore {
		t.Fatalf("page 2 = %+v", page)
	}

	res = s.do(http.MethodGet, "/api/tasks?search=abc&limit=abc&page=x", user.Token, nil)
	res.decode(t, &page)
	if page.Total != 3 || page.Page != 1 {
		t.Fatalf("search = %+v", page)
	}
	for _, task := range page.Tasks {
		if !strings.Contains(strings.ToLower(task.Title), "abc") {
			t.Fatalf("unexpected match %q", task.Title)
		}
	}

	res = s.do(http.MethodGet, "/api/tasks?page=2abc&limit=5.5", user.Token, nil)
	res.decode(t, &page)
	if page.Page != 2 || page.TotalPages != 2 || len(page.Tasks) != 2 {
		t.Fatalf("leading digits = %+v", page)
	}

	res = s.do(http.MethodGet, "/api/tasks?page=99999999999999999999999&limit=4", user.Token, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("huge page = %d %s", res.Code, res.Body)
	}
	res.decode(t, &page)
	if len(page.Tasks) != 0 || page.HasMore || page.Total != 7 || page.TotalPages != 2 {
		t.Fatalf("huge page = %+v", page)
	}

	res = s.do(http.MethodGet, "/api/tasks?status=Completed", user.Token, nil)
	res.decode(t, &page)
	if page.Total != 0 || page.TotalPages != 1 || len(page.Tasks) != 0 {
		t.Fatalf("status filter = %+v", page)
	}
	if !strings.Contains(string(res.Body), `"tasks":[]`) {
		t.Fatalf("empty page should encode an empty array: %s", res.Body)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	s := newTestServer(t, "")
	alice := s.register("alice@example.com", "secret1")
	bob := s.register("bob@example.com", "secret1")
	task := s.createTask(alice.Token, "alice's task")
	path := fmt.Sprintf("/api/tasks/%d", task.ID)

	if res := s.do(http.MethodGet, path, bob.Token, nil); res.Code != http.StatusForbidden {
		t.Fatalf("get = %d", res.Code)
	}
	if res := s.do(http.MethodPut, path, bob.Token, gin.H{"title": "hijack"}); res.Code != http.StatusForbidden {
		t.Fatalf("update = %d", res.Code)
	}
	res := s.do(http.MethodDelete, path, bob.Token, nil)
	if res.Code != http.StatusForbidden || res.message(t) != "Not authorized to delete this task" {
		t.Fatalf("delete = %d %s", res.Code, res.Body)
	}

	var page TaskPageResponse
	s.do(http.MethodGet, "/api/tasks", bob.Token, nil).decode(t, &page)
	if page.Total != 0 {
		t.Fatalf("bob sees %d tasks", page.Total)
	}

	res = s.do(http.MethodGet, path, alice.Token, nil)
	var got TaskResponse
	res.decode(t, &got)
	if res.Code != http.StatusOK || got.Title != "alice's task" {
		t.Fatalf("owner get = %d %+v", res.Code, got)
	}
}

func TestUpdateTask(t *testing.T) {
	s := newTestServer(t, "")
	user := s.register("a@example.com", "secret1")
	task := s.createTask(user.Token, "draft")
	path := fmt.Sprintf("/api/tasks/%d", task.ID)

	res := s.do(http.MethodPut, path, user.Token, gin.H{"status": "In Progress"})
	var updated TaskResponse
	res.decode(t, &updated)
	if res.Code != http.StatusOK || updated.Status != "In Progress" || updated.Title != "draft" {
		t.Fatalf("partial update = %d %+v", res.Code, updated)
	}

	res = s.do(http.MethodPut, path, user.Token, gin.H{})
	var unchanged TaskResponse
	res.decode(t, &unchanged)
	if res.Code != http.StatusOK || unchanged != updated {
		t.Fatalf("empty update = %d %+v, want %+v", res.Code, unchanged, updated)
	}

	req := httptest.NewRequest(http.MethodPut, path, nil)
	req.Header.Set("Authorization", "Bearer "+user.Token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bodyless update = %d", rec.Code)
	}

	res = s.do(http.MethodPut, path, user.Token, gin.H{"title": ""})
	if res.Code != http.StatusBadRequest || res.message(t) != "Title cannot be empty" {
		t.Fatalf("empty title = %d %s", res.Code, res.Body)
	}

	if res := s.do(http.MethodPut, "/api/tasks/9999", user.Token, gin.H{"title": "x"}); res.Code != http.StatusNotFound {
		t.Fatalf("missing task = %d", res.Code)
	}
}

func TestDeleteTwice(t *testing.T) {
	s := newTestServer(t, "")
	user := s.register("a@example.com", "secret1")
	task := s.createTask(user.Token, "temp")
	path := fmt.Sprintf("/api/tasks/%d", task.ID)

	res := s.do(http.MethodDelete, path, user.Token, nil)
	if res.Code != http.StatusOK || res.message(t) != "Task deleted successfully" {
		t.Fatalf("first delete = %d %s", res.Code, res.Body)
	}
	res = s.do(http.MethodDelete, path, user.Token, nil)
	if res.Code != http.StatusNotFound || res.message(t) != "Task not found" {
		t.Fatalf("second delete = %d %s", res.Code, res.Body)
	}
}

func TestInvalidTaskID(t *testing.T) {
	s := newTestServer(t, "")
	user := s.register("a@example.com", "secret1")
	res := s.do(http.MethodGet, "/api/tasks/abc", user.Token, nil)
	if res.Code != http.StatusBadRequest || res.message(t) != "invalid task id" {
		t.Fatalf("non-numeric id = %d %s", res.Code, res.Body)
	}
}

func TestExportDisabled(t *testing.T) {
	s := newTestServer(t, "")
	user := s.register("a@example.com", "secret1")
	for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
		path := "/api/tasks/exports"
		if method == http.MethodPost {
			path = "/api/tasks/export"
		}
		res := s.do(method, path, user.Token, nil)
		if res.Code != http.StatusServiceUnavailable || res.message(t) != "export storage not configured" {
			t.Fatalf("%s %s = %d %s", method, path, res.Code, res.Body)
		}
	}
}

func TestExportLifecycle(t *testing.T) {
	s := newTestServer(t, "bucket")
	alice := s.register("alice@example.com", "secret1")
	bob := s.register("bob@example.com", "secret1")
	s.createTask(alice.Token, "one")
	s.createTask(alice.Token, "two")

	res := s.do(http.MethodPost, "/api/tasks/export", alice.Token, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("export = %d %s", res.Code, res.Body)
	}
	var export ExportResponse
	res.decode(t, &export)
	if export.Count != 2 || !strings.HasPrefix(export.Key, fmt.Sprintf("exports/%d/", alice.ID)) {
		t.Fatalf("export = %+v", export)
	}
	if _, ok := s.store.Object("bucket", export.Key); !ok {
		t.Fatalf("object %s not stored", export.Key)
	}

	var listed []ExportObjectResponse
	s.do(http.MethodGet, "/api/tasks/exports", alice.Token, nil).decode(t, &listed)
	if len(listed) != 1 || listed[0].Key != export.Key || listed[0].URL == "" {
		t.Fatalf("alice exports = %+v", listed)
	}

	s.do(http.MethodGet, "/api/tasks/exports", bob.Token, nil).decode(t, &listed)
	if len(listed) != 0 {
		t.Fatalf("bob sees alice's exports: %+v", listed)
	}

	if res := s.do(http.MethodDelete, "/api/tasks/exports", alice.Token, nil); res.Code != http.StatusOK {
		t.Fatalf("clear = %d", res.Code)
	}
	s.do(http.MethodGet, "/api/tasks/exports", alice.Token, nil).decode(t, &listed)
	if len(listed) != 0 {
		t.Fatalf("exports after clear = %+v", listed)
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, "")
	res := s.do(http.MethodGet, "/api/nope", "", nil)
	if res.Code != http.StatusNotFound || res.message(t) != "Route not found" {
		t.Fatalf("unknown route = %d %s", res.Code, res.Body)
	}
}

func TestLeadingInt(t *testing.T) {
	cases := map[string]int{
		"":      0,
		"abc":   0,
		"-":     0,
		"2abc":  2,
		"7.5":   7,
		" 12":   12,
		"-3":    -3,
		"+4x":   4,
		"0":     0,
	}
	cases["99999999999999999999999"] = math.MaxInt
	for in, want := range cases {
		if got := leadingInt(in); got != want {
			t.Errorf("leadingInt(%q) = %d, want %d", in, got, want)
		}
	}
}
