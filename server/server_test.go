package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testEnv struct {
	server *Server
	gin    *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:trace-test-%d?mode=memory&cache=shared", time.Now().UnixNano())
	return newTestEnvWithDSN(t, dsn)
}

// newFileTestEnv backs the store with an on-disk database; the concurrency
// tests need real file locking rather than the shared-cache shortcut.
func newFileTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDSN(t, filepath.Join(t.TempDir(), "trace.db"))
}

func newTestEnvWithDSN(t *testing.T, dsn string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Agent{}, &ScanResult{}, &CheckDetail{}, &User{}))

	srv := &Server{
		db:           db,
		logger:       zerolog.Nop(),
		rateLimiter:  NewRateLimiter(),
		queryTimeout: 5 * time.Second,
	}

	r := gin.New()
	r.Use(withRequestContext(zerolog.Nop()))
	srv.registerRoutes(r)

	return &testEnv{server: srv, gin: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	e.gin.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) register(t *testing.T, name, osName, ip string) (uint, string) {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/agents/register", map[string]string{
		"system_name": name,
		"os_name":     osName,
		"ip_address":  ip,
	}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body struct {
		AgentID    uint   `json:"agent_id"`
		AgentToken string `json:"agent_token"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotEmpty(t, body.AgentToken)
	return body.AgentID, body.AgentToken
}

func (e *testEnv) upload(t *testing.T, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return e.do(t, http.MethodPost, "/api/upload", payload, headers)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// checksPayload builds a raw-checks upload with n checks of which failing
// are marked fail.
func checksPayload(benchmark string, n, failing int) map[string]any {
	checks := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		status := "pass"
		if i < failing {
			status = "fail"
		}
		checks = append(checks, map[string]any{
			"cis_id":      fmt.Sprintf("1.1.%d", i+1),
			"title":       fmt.Sprintf("Rule %d", i+1),
			"status":      status,
			"remediation": "Apply the documented fix",
		})
	}
	return map[string]any{
		"hostname": "test-host",
		"os":       "Linux",
		"results": map[string]any{
			"benchmark": benchmark,
			"checks":    checks,
		},
	}
}

// seedScan inserts a scan row directly, bypassing the ingest path.
func (e *testEnv) seedScan(t *testing.T, agentID uint, benchmark string, score float64, passed, failed int, at time.Time) ScanResult {
	t.Helper()
	scan := ScanResult{
		AgentID:       agentID,
		BenchmarkName: benchmark,
		ScorePercent:  score,
		PassedCount:   passed,
		FailedCount:   failed,
		ScanTime:      at,
	}
	require.NoError(t, e.server.db.Create(&scan).Error)
	return scan
}

func (e *testEnv) scanCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.server.db.Model(&ScanResult{}).Count(&count).Error)
	return count
}

func (e *testEnv) setRole(t *testing.T, agentID uint, role string) {
	t.Helper()
	require.NoError(t, e.server.db.Model(&Agent{}).Where("id = ?", agentID).Update("role", role).Error)
}
