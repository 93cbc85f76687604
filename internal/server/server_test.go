package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/exerceo/internal/app"
	"github.com/ternarybob/exerceo/internal/auth"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/models"
)

// newTestServer boots the full application (memory store, simulation
// trainers tuned for speed) behind an httptest server. The gate runs in
// testing mode so requests impersonate roles via the X-Auth-Roles header;
// individual tests switch to production mode through mutate.
func newTestServer(t *testing.T, mutate func(*common.Config)) (*Server, *httptest.Server) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Auth.Mode = auth.ModeTesting
	cfg.Jobs.Workers = 2
	cfg.Jobs.CancelGraceTimeout = "2s"
	cfg.Events.ThrottleInterval = "" // assertions want every frame
	cfg.Datasets.DocumentRoot = t.TempDir()
	cfg.Datasets.ExportRoot = t.TempDir()
	cfg.Trainers = map[string]common.TrainerDefaults{
		"lora":       {Epochs: 1, StepsPerEpoch: 2, StepInterval: "1ms"},
		"qlora":      {Epochs: 1, StepsPerEpoch: 2, StepInterval: "1ms"},
		"continuous": {StepInterval: "5ms"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.New(cfg, arbor.NewLogger())
	require.NoError(t, err, "application must boot")

	s := New(application)
	ts := httptest.NewServer(s.server.Handler)

	t.Cleanup(func() {
		ts.Close()
		application.Close()
	})
	return s, ts
}

// doJSONAs issues a request as the given principal/roles and decodes the
// JSON reply. Every API route answers JSON, including errors.
func doJSONAs(t *testing.T, ts *httptest.Server, method, path, principal, roles string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	if principal != "" {
		req.Header.Set("X-Auth-Principal", principal)
	}
	if roles != "" {
		req.Header.Set("X-Auth-Roles", roles)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded), "response body must be JSON")
	return resp.StatusCode, decoded
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, roles string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	return doJSONAs(t, ts, method, path, "", roles, body)
}

func submitJob(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	status, body := doJSON(t, ts, http.MethodPost, "/api/jobs", auth.RoleTrainer, map[string]interface{}{
		"trainer_kind": "lora",
		"config_ref":   "cfg://smoke",
		"dataset_ref":  "ds://smoke",
	})
	require.Equal(t, http.StatusAccepted, status)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID, "submit must return a job_id")
	return jobID
}

func waitJobStatus(t *testing.T, ts *httptest.Server, jobID, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, body := doJSON(t, ts, http.MethodGet, "/api/jobs/"+jobID, auth.RoleViewer, nil)
		require.Equal(t, http.StatusOK, status)
		if body["status"] == want {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, nil)

	// Health is open: no roles, no token.
	status, body := doJSON(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "exerceo", body["service"])
	assert.Equal(t, "training", body["role"])
	assert.NotEmpty(t, body["version"])
}

func TestServer_SubmitToCompletionFlow(t *testing.T) {
	_, ts := newTestServer(t, nil)

	jobID := submitJob(t, ts)
	record := waitJobStatus(t, ts, jobID, "completed")

	artifacts, _ := record["artifact_refs"].(map[string]interface{})
	assert.NotEmpty(t, artifacts, "completed job must carry artifact refs")
	assert.NotNil(t, record["finished_at"])

	status, listing := doJSON(t, ts, http.MethodGet, "/api/jobs?status=completed&kind=lora", auth.RoleViewer, nil)
	require.Equal(t, http.StatusOK, status)
	jobs, _ := listing["jobs"].([]interface{})
	found := false
	for _, entry := range jobs {
		if m, ok := entry.(map[string]interface{}); ok && m["id"] == jobID {
			found = true
		}
	}
	assert.True(t, found, "completed job must appear in the filtered listing")
	t.Logf("✓ job %s submitted, completed and listed over HTTP", jobID)
}

func TestServer_ErrorBodies(t *testing.T) {
	_, ts := newTestServer(t, nil)

	t.Run("unknown trainer kind", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPost, "/api/jobs", auth.RoleTrainer, map[string]interface{}{
			"trainer_kind": "full_finetune",
			"config_ref":   "cfg://x",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "unknown_trainer", body["error_kind"])
	})

	t.Run("missing required field", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPost, "/api/jobs", auth.RoleTrainer, map[string]interface{}{
			"trainer_kind": "lora",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_config", body["error_kind"])
	})

	t.Run("submit without a role", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodPost, "/api/jobs", "", map[string]interface{}{
			"trainer_kind": "lora",
			"config_ref":   "cfg://x",
			"dataset_ref":  "ds://x",
		})
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "auth_insufficient", body["error_kind"])
	})

	t.Run("unknown job id", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodGet, "/api/jobs/no-such-job", auth.RoleViewer, nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "not_found", body["error_kind"])
	})

	t.Run("method not allowed", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodDelete, "/api/jobs", auth.RoleAdmin, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, status)
		assert.Contains(t, body["message"], "not allowed")
	})

	t.Run("unmatched api route", func(t *testing.T) {
		status, body := doJSON(t, ts, http.MethodGet, "/api/nope", auth.RoleViewer, nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "not_found", body["error_kind"])
	})
}

func TestServer_CancelTerminalConflict(t *testing.T) {
	_, ts := newTestServer(t, nil)

	jobID := submitJob(t, ts)
	waitJobStatus(t, ts, jobID, "completed")

	status, body := doJSON(t, ts, http.MethodPost, "/api/jobs/"+jobID+"/cancel", auth.RoleTrainer, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "terminal", body["error_kind"])
}

func TestServer_CancelOwnershipRule(t *testing.T) {
	_, ts := newTestServer(t, nil)

	jobID := submitJob(t, ts) // submitted by the default mock principal

	// A different non-admin principal may not cancel someone else's job.
	status, body := doJSONAs(t, ts, http.MethodPost, "/api/jobs/"+jobID+"/cancel", "mallory", auth.RoleTrainer, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "auth_insufficient", body["error_kind"])

	// An admin may cancel anything, terminal conflicts aside.
	status, _ = doJSONAs(t, ts, http.MethodPost, "/api/jobs/"+jobID+"/cancel", "root", auth.RoleAdmin, nil)
	assert.Contains(t, []int{http.StatusOK, http.StatusConflict}, status,
		"admin cancel is either accepted or the job already finished")
}

func TestServer_ProductionModeAuth(t *testing.T) {
	s, ts := newTestServer(t, func(cfg *common.Config) {
		cfg.Auth.Mode = auth.ModeProduction
		cfg.Auth.JWTSecret = "integration-test-secret"
	})

	// No credential: rejected at the middleware.
	status, body := doJSON(t, ts, http.MethodGet, "/api/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", body["error_kind"])

	// A signed bearer token passes and carries its roles.
	token, err := s.app.Gate.SignToken("alice", []string{auth.RoleTrainer})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open even in production mode.
	status, _ = doJSON(t, ts, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestServer_WebSocketObserve(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *common.Config) {
		// Slow the simulation down enough for intermediate frames.
		cfg.Trainers["lora"] = common.TrainerDefaults{
			Epochs: 1, StepsPerEpoch: 3, StepInterval: "20ms",
		}
	})

	jobID := submitJob(t, ts)

	wsURL := fmt.Sprintf("ws%s/ws?filter=%s", strings.TrimPrefix(ts.URL, "http"), jobID)
	header := http.Header{"X-Auth-Roles": []string{auth.RoleViewer}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err, "websocket dial must succeed")
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	type wsFrame struct {
		Type    string               `json:"type"`
		Payload models.ProgressEvent `json:"payload"`
	}

	var (
		frames   []wsFrame
		terminal bool
	)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !terminal {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		require.Equal(t, "progress", frame.Type)
		frames = append(frames, frame)
		terminal = frame.Payload.IsTerminal()
	}

	require.NotEmpty(t, frames, "observer must receive at least the bootstrap frame")
	for _, frame := range frames {
		assert.Equal(t, jobID, frame.Payload.JobID)
	}
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].Payload.Seq, frames[i-1].Payload.Seq,
			"event seq must increase strictly")
	}
	last := frames[len(frames)-1].Payload
	assert.Equal(t, models.JobStatusCompleted, last.Status)
	assert.NotEmpty(t, last.ArtifactRefs)
	t.Logf("✓ received %d ordered frames ending in %s", len(frames), last.Status)
}

func TestServer_WebSocketRejectsMissingCredential(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *common.Config) {
		cfg.Auth.Mode = auth.ModeProduction
		cfg.Auth.JWTSecret = "integration-test-secret"
	})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err, "dial without a credential must fail the handshake")
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	jobID := submitJob(t, ts)
	waitJobStatus(t, ts, jobID, "completed")

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(payload)
	assert.Contains(t, text, "exerceo_jobs_submitted_total")
	assert.Contains(t, text, "exerceo_jobs_completed_total")
}

func TestServer_MetricsDisabled(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *common.Config) {
		cfg.Metrics.Enabled = false
	})

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_FeedbackEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	status, body := doJSON(t, ts, http.MethodPost, "/api/feedback", auth.RoleTrainer, map[string]interface{}{
		"items": []map[string]interface{}{
			{"text": "the answer was wrong", "score": -1},
			{"text": "helpful and correct", "score": 1},
		},
	})
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, float64(2), body["accepted"])

	// Feedback feeds continuous training: submitting it needs that role.
	status, body = doJSON(t, ts, http.MethodPost, "/api/feedback", auth.RoleViewer, map[string]interface{}{
		"items": []map[string]interface{}{{"text": "x", "score": 0}},
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "auth_insufficient", body["error_kind"])
}

func TestServer_ShutdownEndpoint(t *testing.T) {
	s, ts := newTestServer(t, nil)
	shutdownChan := make(chan struct{})
	s.SetShutdownChannel(shutdownChan)

	// Not for mere mortals.
	status, body := doJSON(t, ts, http.MethodPost, "/api/shutdown", auth.RoleTrainer, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "auth_insufficient", body["error_kind"])
	select {
	case <-shutdownChan:
		t.Fatal("shutdown channel closed by a non-admin request")
	default:
	}

	status, body = doJSON(t, ts, http.MethodPost, "/api/shutdown", auth.RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "shutting down", body["status"])
	select {
	case <-shutdownChan:
	case <-time.After(time.Second):
		t.Fatal("shutdown channel not closed")
	}

	// Repeated shutdown requests must not panic on a closed channel.
	status, _ = doJSON(t, ts, http.MethodPost, "/api/shutdown", auth.RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, status)
}
