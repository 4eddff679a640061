package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shinyyama/goodjob-alarm/internal/config"
	"github.com/shinyyama/goodjob-alarm/internal/db/dbtest"
	appmw "github.com/shinyyama/goodjob-alarm/internal/middleware"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		TimeZone:  "Asia/Seoul",
		Deadline:  config.DeadlineConfig{Enabled: true, Cron: "0 0 10 * * *", WindowDays: 2, MaxItemsPerUser: 10},
		Recommend: config.RecommendConfig{Enabled: false, Cron: "0 */15 * * * *", Lookback: time.Hour, TopK: 50, Threshold: 90, DisplayLimit: 10},
		TopN:      config.TopNConfig{Enabled: true, Cron: "0 10 12 * * *", N: 5},
	}
}

func request(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealthzBeforeDatabase(t *testing.T) {
	s, err := New(Options{Config: testConfig(), Logger: zap.NewNop(), SHA: "abc"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rec := request(s, http.MethodGet, "/healthz", "", nil)
	var body struct {
		OK      bool     `json:"ok"`
		DBReady bool     `json:"db_ready"`
		Jobs    []string `json:"jobs"`
		SHA     string   `json:"git_sha"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.DBReady || body.SHA != "abc" || len(body.Jobs) != 3 {
		t.Fatalf("healthz=%+v", body)
	}
	if rec := request(s, http.MethodGet, "/api/notifications", "", map[string]string{appmw.UserIDHeader: "1"}); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("api before db status=%d", rec.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	s, err := New(Options{Config: testConfig(), Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.SetDB(dbtest.Open(t))
	if rec := request(s, http.MethodPost, "/api/admin/jobs/deadline/run", "", map[string]string{appmw.AdminTokenHeader: "x"}); rec.Code != http.StatusNotFound {
		t.Fatalf("admin route mounted without token: %d", rec.Code)
	}
	if rec := request(s, http.MethodGet, "/api/notifications", "", map[string]string{appmw.UserIDHeader: "1"}); rec.Code != http.StatusOK {
		t.Fatalf("user list status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestWiredServerWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := testConfig()
	cfg.AdminToken = "tok"
	s, err := New(Options{Config: cfg, Logger: zap.NewNop(), Redis: client})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.SetDB(dbtest.Open(t))
	admin := map[string]string{appmw.AdminTokenHeader: "tok"}

	rec := request(s, http.MethodPost, "/api/admin/notifications",
		`{"recipientId":3,"text":"hello","kind":"POPULAR","dedupeKey":"manual-1"}`, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = request(s, http.MethodGet, "/api/notifications/unread-count", "", map[string]string{appmw.UserIDHeader: "3"})
	if !strings.Contains(rec.Body.String(), `"unreadCount":1`) {
		t.Fatalf("unread=%s", rec.Body.String())
	}

	// the recommend job has no schedule but can still be run by hand
	if rec := request(s, http.MethodPost, "/api/admin/jobs/recommend/run", "", admin); rec.Code != http.StatusAccepted {
		t.Fatalf("run status=%d", rec.Code)
	}
	if rec := request(s, http.MethodPost, "/api/admin/jobs/unknown/run", "", admin); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job status=%d", rec.Code)
	}
	if rec := request(s, http.MethodPost, "/api/admin/jobs/deadline/run?wait=true", "", admin); rec.Code != http.StatusOK {
		t.Fatalf("blocking run status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = request(s, http.MethodGet, "/api/admin/notifications/unread-count?user_id=3", "", admin)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"unreadCount":1`) {
		t.Fatalf("admin unread status=%d body=%s", rec.Code, rec.Body.String())
	}
	s.scheduler.Stop()
}

func TestOriginAllower(t *testing.T) {
	allow := originAllower([]string{"https://goodjob.example.com/", " .vercel.app", ""})
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"https://127.0.0.1:5173", true},
		{"https://goodjob.example.com", true},
		{"https://GoodJob.Example.com", true},
		{"http://goodjob.example.com", false},
		{"https://goodjob.example.com:8443", false},
		{"https://preview-42.vercel.app", true},
		{"https://evilvercel.app", false},
		{"https://example.org", false},
		{"ftp://goodjob.example.com", false},
		{"null", false},
	}
	for _, tt := range tests {
		got, err := allow(tt.origin)
		if err != nil || got != tt.want {
			t.Fatalf("%s: got=%v err=%v want %v", tt.origin, got, err, tt.want)
		}
	}
}

func TestCORSUsesConfiguredOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.CORSOrigins = []string{"https://goodjob.example.com"}
	s, err := New(Options{Config: cfg, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tests := []struct {
		origin string
		want   string
	}{
		{"https://goodjob.example.com", "https://goodjob.example.com"},
		{"http://localhost:3000", "http://localhost:3000"},
		{"https://app.vercel.app", ""},
	}
	for _, tt := range tests {
		rec := request(s, http.MethodGet, "/healthz", "", map[string]string{"Origin": tt.origin})
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Fatalf("%s: allow-origin=%q want %q", tt.origin, got, tt.want)
		}
	}
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.TimeZone = "Mars/Olympus"
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatalf("expected timezone error")
	}
}
