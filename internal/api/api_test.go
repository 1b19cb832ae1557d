package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newfem_go/internal/acquisition"
	"newfem_go/internal/capture"
	"newfem_go/internal/config"
	"newfem_go/internal/detector"
	"newfem_go/internal/models"
	"newfem_go/internal/store"
	"newfem_go/internal/timeutil"
)

const testPassword = "31415"

type fakeArchive struct {
	connected bool
	peaks     []models.PeakRegion
}

func (a *fakeArchive) IsConnected() bool { return a.connected }

func (a *fakeArchive) RecentPeaks(n int) ([]models.PeakRegion, error) {
	if n < len(a.peaks) {
		return a.peaks[:n], nil
	}
	return a.peaks, nil
}

type fakeClients int

func (c fakeClients) Count() int { return int(c) }

type testEnv struct {
	router    http.Handler
	store     *store.SignalStore
	detector  *detector.PeakDetector
	acq       *acquisition.Service
	capture   *capture.CachedSource
	archive   *fakeArchive
	persisted config.Config
	saves     int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.New(store.Options{})
	det, err := detector.New(detector.DefaultConfig())
	require.NoError(t, err)

	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	cached := capture.NewCachedSource(capture.NewSimulatedSource(clock), 2, clock)
	acq := acquisition.NewService(st, det, cached, nil, acquisition.Options{FPS: acquisition.MinFPS})
	t.Cleanup(func() { _ = acq.Stop() })

	env := &testEnv{
		store:     st,
		detector:  det,
		acq:       acq,
		capture:   cached,
		archive:   &fakeArchive{},
		persisted: *config.Default(),
	}

	handler := NewHandler(Deps{
		Store:       st,
		Detector:    det,
		Acquisition: acq,
		Capture:     cached,
		Archive:     env.archive,
		Clients:     fakeClients(3),
		Password:    testPassword,
		Version:     "test",
		Persist: func(update func(*config.Config)) error {
			update(&env.persisted)
			env.saves++
			return nil
		},
	})
	router := NewRouter(handler, "/api/v1", true)
	router.Setup()
	env.router = router.Handler()
	return env
}

func (e *testEnv) do(method, path string, body string, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postForm(path string, values url.Values) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, path, values.Encode(), "application/x-www-form-urlencoded")
}

func (e *testEnv) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	return e.do(http.MethodPost, path, string(raw), "application/json")
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStatusRejectsWrongMethod(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/status", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeError(t, rec).ErrorCode)
}

func TestStatusReportsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddFrame(120, time.Now(), models.Signal(0))

	rec := env.do(http.MethodGet, "/api/v1/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.FrameCount)
	assert.Equal(t, 120.0, resp.CurrentValue)
	assert.Equal(t, acquisition.MinFPS, resp.FPS)
	assert.Equal(t, 3, resp.ConnectedClients)
	assert.Equal(t, 2.0, resp.RoiFrameRate)
}

func TestRealtimeData(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 10; i++ {
		env.store.AddFrame(float64(100+i), time.Now(), models.Signal(0))
	}

	rec := env.do(http.MethodGet, "/api/v1/data/realtime?count=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.RealtimeSeries
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Frames, 5)
	assert.Equal(t, 105.0, resp.Frames[0].Value)
	assert.Equal(t, 109.0, resp.Frames[4].Value)

	for _, count := range []string{"0", "1001", "abc"} {
		rec = env.do(http.MethodGet, "/api/v1/data/realtime?count="+count, "", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, count)
		assert.Equal(t, "INVALID_PARAMETER", decodeError(t, rec).ErrorCode)
	}
}

func TestControlRequiresPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/api/v1/control", url.Values{"command": {"STATUS"}, "password": {"errada"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).ErrorCode)
}

func TestControlStartRequiresRoi(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/api/v1/control", url.Values{"command": {"START_DETECTION"}, "password": {testPassword}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ROI_NOT_CONFIGURED", decodeError(t, rec).ErrorCode)
	assert.False(t, env.acq.IsRunning())
}

func TestControlUnknownCommand(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON("/api/v1/control", models.ControlRequest{Command: "REBOOT", Password: testPassword})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "INVALID_COMMAND", resp.ErrorCode)
	assert.Equal(t, "Unsupported command", resp.ErrorMessage)
}

func TestControlPeakSignalAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddFrame(130, time.Now(), models.Signal(1))

	rec := env.postForm("/api/v1/control", url.Values{"command": {"peak_signal"}, "password": {testPassword}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ControlCommandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CmdPeakSignal, resp.Command)
	require.NotNil(t, resp.Signal)
	assert.Equal(t, 1, *resp.Signal)
	require.NotNil(t, resp.HasPeak)
	assert.True(t, *resp.HasPeak)
	require.NotNil(t, resp.FrameCount)
	assert.Equal(t, uint64(1), *resp.FrameCount)

	rec = env.postForm("/api/v1/control", url.Values{"command": {"STATUS"}, "password": {testPassword}})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = models.ControlCommandResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusStopped, resp.ServerStatus)
	require.NotNil(t, resp.ConnectedClients)
	assert.Equal(t, 3, *resp.ConnectedClients)
	require.NotNil(t, resp.LastPeakSignal)
	assert.Equal(t, 1, *resp.LastPeakSignal)
}

func TestControlStartStopWithRoi(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetRoiConfig(models.RoiConfig{X1: 0, Y1: 0, X2: 50, Y2: 50}))

	rec := env.postForm("/api/v1/control", url.Values{"command": {"START_DETECTION"}, "password": {testPassword}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.acq.IsRunning())

	rec = env.postForm("/api/v1/control", url.Values{"command": {"PAUSE_DETECTION"}, "password": {testPassword}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.acq.IsRunning())
	assert.Equal(t, models.StatusStopped, env.store.Status())

	rec = env.postForm("/api/v1/control", url.Values{"command": {"RESUME_DETECTION"}, "password": {testPassword}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.acq.IsRunning())

	rec = env.postForm("/api/v1/control", url.Values{"command": {"STOP_DETECTION"}, "password": {testPassword}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.acq.IsRunning())
}

func TestRoiConfig(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/roi/config", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.RoiConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Configured)

	rec = env.postJSON("/api/v1/roi/config", map[string]interface{}{
		"x1": 10, "y1": 20, "x2": 110, "y2": 220, "password": testPassword,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = models.RoiConfigResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Configured)
	assert.Equal(t, models.RoiConfig{X1: 10, Y1: 20, X2: 110, Y2: 220}, resp.Roi)
	assert.Equal(t, 100, resp.Width)
	assert.Equal(t, 200, resp.Height)

	assert.True(t, env.persisted.Roi.Enabled)
	assert.Equal(t, 110, env.persisted.Roi.X2)
	assert.Equal(t, 1, env.saves)
}

func TestRoiConfigRejectsInvalidRegions(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]url.Values{
		"invertida":  {"x1": {"100"}, "y1": {"0"}, "x2": {"10"}, "y2": {"50"}},
		"pequena":    {"x1": {"0"}, "y1": {"0"}, "x2": {"5"}, "y2": {"50"}},
		"grande":     {"x1": {"0"}, "y1": {"0"}, "x2": {"1500"}, "y2": {"50"}},
		"incompleta": {"x1": {"0"}, "y1": {"0"}, "x2": {"50"}},
		"texto":      {"x1": {"a"}, "y1": {"0"}, "x2": {"50"}, "y2": {"50"}},
	}
	for name, values := range cases {
		values.Set("password", testPassword)
		rec := env.postForm("/api/v1/roi/config", values)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, "INVALID_ROI_COORDINATES", decodeError(t, rec).ErrorCode, name)
	}

	_, configured := env.store.RoiConfig()
	assert.False(t, configured)
	assert.Equal(t, 0, env.saves)
}

func TestRoiConfigRequiresPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/api/v1/roi/config", url.Values{"x1": {"0"}, "y1": {"0"}, "x2": {"50"}, "y2": {"50"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoiFrameRate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/api/v1/roi/frame-rate", url.Values{"frame_rate": {"0"}, "password": {testPassword}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_FRAME_RATE", decodeError(t, rec).ErrorCode)

	rec = env.postForm("/api/v1/roi/frame-rate", url.Values{"frame_rate": {"61"}, "password": {testPassword}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.postForm("/api/v1/roi/frame-rate", url.Values{"frame_rate": {"5"}, "password": {testPassword}})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.FrameRateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5.0, resp.FrameRate)
	assert.Equal(t, 5.0, env.capture.FrameRate())
	assert.Equal(t, 5.0, env.persisted.Roi.FrameRate)
}

func TestFPS(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/api/v1/data/fps", url.Values{"fps": {"5"}, "password": {testPassword}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_FPS", decodeError(t, rec).ErrorCode)
	assert.Equal(t, acquisition.MinFPS, env.acq.FPS())

	rec = env.postForm("/api/v1/data/fps", url.Values{"fps": {"30"}, "password": {testPassword}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, env.acq.FPS())
	assert.Equal(t, 30, env.persisted.Acquisition.FPS)

	rec = env.do(http.MethodGet, "/api/v1/data/fps", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.FPSResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 30, resp.FPS)
}

func TestPeakDetectionConfig(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postForm("/api/v1/peak-detection/config", url.Values{"threshold": {"300"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_THRESHOLD", decodeError(t, rec).ErrorCode)
	assert.Equal(t, 105.0, env.detector.Config().Threshold)

	rec = env.postForm("/api/v1/peak-detection/config", url.Values{"margin_frames": {"x"}})
	assert.Equal(t, "INVALID_MARGIN_FRAMES", decodeError(t, rec).ErrorCode)

	rec = env.postJSON("/api/v1/peak-detection/config", map[string]interface{}{"threshold": 120, "min_region_length": 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.PeakDetectionConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 120.0, resp.Threshold)
	assert.Equal(t, 4, resp.MinRegionLength)
	assert.Equal(t, 5, resp.MarginFrames)
	assert.Equal(t, 120.0, env.detector.Config().Threshold)
	assert.Equal(t, 120.0, env.persisted.Detector.Threshold)
}

func TestPeaksFromMemoryAndArchive(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/peak-detection/peaks", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.PeaksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "memory", resp.Source)
	assert.Empty(t, resp.Peaks)

	env.archive.connected = true
	env.archive.peaks = []models.PeakRegion{{PeakFrame: 7, MaxValue: 150, Color: models.ColorGreen}}
	rec = env.do(http.MethodGet, "/api/v1/peak-detection/peaks?source=archive&count=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = models.PeaksResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "archive", resp.Source)
	require.Len(t, resp.Peaks, 1)
	assert.Equal(t, uint64(7), resp.Peaks[0].PeakFrame)

	rec = env.do(http.MethodGet, "/api/v1/peak-detection/peaks?count=500", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearPeakHistoryRequiresPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodDelete, "/api/v1/peak-detection/peaks", `{"password":"errada"}`, "application/json")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodDelete, "/api/v1/peak-detection/peaks", `{"password":"`+testPassword+`"}`, "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.PeaksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
	assert.Empty(t, env.detector.RecentPeaks(10))
}

func TestResetSession(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.SetRoiConfig(models.RoiConfig{X1: 0, Y1: 0, X2: 50, Y2: 50}))
	for i := 0; i < 5; i++ {
		env.store.AddFrame(float64(100+i), time.Now(), models.Signal(0))
	}

	rec := env.do(http.MethodGet, "/api/v1/data/reset", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.postForm("/api/v1/data/reset", url.Values{"password": {testPassword}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(0), resp.FrameCount)
	assert.Empty(t, env.store.Series(10))

	_, configured := env.store.RoiConfig()
	assert.True(t, configured)
}

func TestControlServiceOverWebSocket(t *testing.T) {
	env := newTestEnv(t)
	control := NewControlService(env.store, env.acq, nil)

	resp := control.HandleControl(context.Background(), "REBOOT")
	assert.False(t, resp.Success)
	assert.Equal(t, "REBOOT", resp.Command)

	resp = control.HandleControl(context.Background(), "status")
	assert.True(t, resp.Success)
	assert.Equal(t, models.StatusStopped, resp.Status)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := Chain(RequestIDMiddleware, LoggingMiddleware, RecoveryMiddleware)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("falha")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestCorsPreflight(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodOptions, "/api/v1/control", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
