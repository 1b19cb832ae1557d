package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"newfem_go/internal/acquisition"
	"newfem_go/internal/capture"
	"newfem_go/internal/config"
	"newfem_go/internal/detector"
	"newfem_go/internal/models"
	"newfem_go/internal/store"
	"newfem_go/pkg/logger"
	"newfem_go/pkg/utils"
)

// Limites aceitos pela API
const (
	MinRealtimeCount     = 1
	MaxRealtimeCount     = 1000
	DefaultRealtimeCount = 100

	DefaultPeaksCount = 10
	MaxPeaksCount     = 100

	MinRoiSize = 10
	MaxRoiSize = 1000

	MinRoiFrameRate = 1
	MaxRoiFrameRate = 60

	maxBodySize = 1 << 16
)

// ClientCounter informa quantos assinantes estão conectados
type ClientCounter interface {
	Count() int
}

// PeakArchive é o histórico persistente de picos (Redis)
type PeakArchive interface {
	IsConnected() bool
	RecentPeaks(n int) ([]models.PeakRegion, error)
}

// PersistFunc aplica uma alteração à configuração salva em disco
type PersistFunc func(update func(*config.Config)) error

// Deps reúne as dependências dos handlers. Capture, Archive, Clients e
// Persist são opcionais.
type Deps struct {
	Store       *store.SignalStore
	Detector    *detector.PeakDetector
	Acquisition *acquisition.Service
	Capture     *capture.CachedSource
	Archive     PeakArchive
	Clients     ClientCounter
	Control     *ControlService
	Password    string
	Version     string
	Persist     PersistFunc
}

// Handler contém os handlers HTTP para a API
type Handler struct {
	deps      Deps
	startedAt time.Time
}

// NewHandler cria um novo handler de API
func NewHandler(deps Deps) *Handler {
	if deps.Control == nil {
		deps.Control = NewControlService(deps.Store, deps.Acquisition, deps.Clients)
	}
	return &Handler{
		deps:      deps,
		startedAt: time.Now(),
	}
}

// Control retorna o executor de comandos compartilhado com o WebSocket
func (h *Handler) Control() *ControlService {
	return h.deps.Control
}

// GetHealth responde se o processo está ativo
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodGet) {
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.HealthResponse{
		Status:    "ok",
		Version:   h.deps.Version,
		Timestamp: models.UnixSeconds(time.Now()),
		Uptime:    utils.FormatDuration(time.Since(h.startedAt)),
	})
}

// GetStatus retorna o snapshot atual do pipeline
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodGet) {
		return
	}

	h.respondWithJSON(w, http.StatusOK, h.statusResponse())
}

func (h *Handler) statusResponse() models.StatusResponse {
	resp := models.StatusResponse{
		StatusSnapshot: h.deps.Store.Snapshot(),
		Timestamp:      models.UnixSeconds(time.Now()),
		FPS:            h.deps.Acquisition.FPS(),
	}
	if h.deps.Clients != nil {
		resp.ConnectedClients = h.deps.Clients.Count()
	}
	if h.deps.Capture != nil {
		resp.RoiFrameRate = h.deps.Capture.FrameRate()
	}
	return resp
}

// GetRealtimeData retorna as últimas amostras dos dois canais
func (h *Handler) GetRealtimeData(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodGet) {
		return
	}

	count, err := queryInt(r, "count", DefaultRealtimeCount, MinRealtimeCount, MaxRealtimeCount)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), map[string]interface{}{
			"parameter": "count",
			"min":       MinRealtimeCount,
			"max":       MaxRealtimeCount,
		})
		return
	}

	frames := h.deps.Store.Series(count)
	h.respondWithJSON(w, http.StatusOK, models.RealtimeSeries{
		Count:     len(frames),
		Frames:    frames,
		RoiFrames: h.deps.Store.RoiSeries(count),
		Snapshot:  h.deps.Store.Snapshot(),
	})
}

// PostControl executa um comando de controle protegido por senha
func (h *Handler) PostControl(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodPost) {
		return
	}

	p, ok := h.readAuthorized(w, r)
	if !ok {
		return
	}

	command := p["command"]
	if command == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_COMMAND", "Comando não informado", nil)
		return
	}

	result, err := h.deps.Control.Execute(command)
	switch {
	case errors.Is(err, ErrUnknownCommand):
		h.respondWithError(w, http.StatusBadRequest, "INVALID_COMMAND", "Unsupported command", map[string]string{
			"command": result.Command,
		})
		return
	case errors.Is(err, ErrRoiNotConfigured):
		h.respondWithError(w, http.StatusBadRequest, "ROI_NOT_CONFIGURED", "ROI must be configured before starting detection", nil)
		return
	case err != nil:
		logger.Error("Falha ao executar comando de controle", err)
		h.respondWithError(w, http.StatusInternalServerError, "CONTROL_FAILED", err.Error(), map[string]string{
			"command": result.Command,
		})
		return
	}

	snap := result.Snapshot
	resp := models.ControlCommandResponse{
		Command:    result.Command,
		Success:    true,
		Message:    result.Message,
		Status:     snap.Status,
		PeakSignal: result.PeakSignal,
	}

	switch result.Command {
	case CmdPeakSignal:
		signal := 0
		if snap.PeakSignal != nil {
			signal = *snap.PeakSignal
		}
		hasPeak := signal == 1
		resp.Signal = &signal
		resp.HasPeak = &hasPeak
		resp.CurrentValue = &snap.CurrentValue
		resp.FrameCount = &snap.FrameCount
	case CmdStatus:
		resp.ServerStatus = snap.Status
		resp.ConnectedClients = &result.Clients
		resp.LastPeakSignal = snap.LastPeakSignal
	}

	h.respondWithJSON(w, http.StatusOK, resp)
}

// HandleRoiConfig consulta (GET) ou altera (POST) a região monitorada
func (h *Handler) HandleRoiConfig(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		h.respondWithJSON(w, http.StatusOK, h.roiResponse())
		return
	}

	p, ok := h.readAuthorized(w, r)
	if !ok {
		return
	}

	var coords [4]int
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		v, present, err := p.intValue(name)
		if !present || err != nil {
			h.respondWithError(w, http.StatusBadRequest, "INVALID_ROI_COORDINATES",
				fmt.Sprintf("Coordenada %s ausente ou inválida", name), map[string]string{"field": name})
			return
		}
		coords[i] = v
	}

	roi := models.RoiConfig{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}
	if err := validateRoiSize(roi); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ROI_COORDINATES", err.Error(), roi)
		return
	}
	if err := h.deps.Store.SetRoiConfig(roi); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_ROI_COORDINATES", err.Error(), roi)
		return
	}
	if h.deps.Capture != nil {
		h.deps.Capture.Invalidate()
	}

	h.persist(func(cfg *config.Config) {
		cfg.Roi.Enabled = true
		cfg.Roi.X1, cfg.Roi.Y1, cfg.Roi.X2, cfg.Roi.Y2 = roi.X1, roi.Y1, roi.X2, roi.Y2
	})

	logger.Infof("ROI configurada: %s (%dx%d)", roi, roi.Width(), roi.Height())
	h.respondWithJSON(w, http.StatusOK, h.roiResponse())
}

func (h *Handler) roiResponse() models.RoiConfigResponse {
	roi, configured := h.deps.Store.RoiConfig()
	return models.RoiConfigResponse{
		Configured: configured,
		Roi:        roi,
		Width:      roi.Width(),
		Height:     roi.Height(),
	}
}

func validateRoiSize(roi models.RoiConfig) error {
	if !roi.Valid() {
		return errors.New("coordenadas devem satisfazer x1 < x2 e y1 < y2")
	}
	if roi.Width() < MinRoiSize || roi.Height() < MinRoiSize {
		return fmt.Errorf("ROI deve ter no mínimo %dx%d pixels", MinRoiSize, MinRoiSize)
	}
	if roi.Width() > MaxRoiSize || roi.Height() > MaxRoiSize {
		return fmt.Errorf("ROI deve ter no máximo %dx%d pixels", MaxRoiSize, MaxRoiSize)
	}
	return nil
}

// HandleRoiFrameRate consulta ou altera a taxa de captura da ROI
func (h *Handler) HandleRoiFrameRate(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if h.deps.Capture == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "CAPTURE_UNAVAILABLE", "Captura de ROI não configurada", nil)
		return
	}

	if r.Method == http.MethodGet {
		h.respondWithJSON(w, http.StatusOK, models.FrameRateResponse{FrameRate: h.deps.Capture.FrameRate()})
		return
	}

	p, ok := h.readAuthorized(w, r)
	if !ok {
		return
	}

	rate, present, err := p.floatValue("frame_rate")
	if !present || err != nil || rate < MinRoiFrameRate || rate > MaxRoiFrameRate {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_FRAME_RATE",
			fmt.Sprintf("frame_rate deve estar entre %d e %d", MinRoiFrameRate, MaxRoiFrameRate),
			map[string]string{"frame_rate": p["frame_rate"]})
		return
	}

	h.deps.Capture.SetFrameRate(rate)
	h.persist(func(cfg *config.Config) { cfg.Roi.FrameRate = rate })

	logger.Infof("Taxa de captura da ROI alterada para %.1f fps", rate)
	h.respondWithJSON(w, http.StatusOK, models.FrameRateResponse{FrameRate: h.deps.Capture.FrameRate()})
}

// HandleFPS consulta ou altera a frequência do laço de aquisição
func (h *Handler) HandleFPS(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		h.respondWithJSON(w, http.StatusOK, models.FPSResponse{FPS: h.deps.Acquisition.FPS()})
		return
	}

	p, ok := h.readAuthorized(w, r)
	if !ok {
		return
	}

	fps, present, err := p.intValue("fps")
	if !present || err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_FPS",
			fmt.Sprintf("fps deve estar entre %d e %d", acquisition.MinFPS, acquisition.MaxFPS),
			map[string]string{"fps": p["fps"]})
		return
	}
	if err := h.deps.Acquisition.SetFPS(fps); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_FPS", err.Error(), map[string]int{"fps": fps})
		return
	}

	h.persist(func(cfg *config.Config) { cfg.Acquisition.FPS = fps })
	h.respondWithJSON(w, http.StatusOK, models.FPSResponse{FPS: h.deps.Acquisition.FPS()})
}

// HandlePeakDetectionConfig consulta ou altera os parâmetros principais do
// detector. Campos ausentes no POST mantêm o valor atual.
func (h *Handler) HandlePeakDetectionConfig(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		h.respondWithJSON(w, http.StatusOK, peakConfigView(h.deps.Detector.Config()))
		return
	}

	p, err := readParams(r)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	cfg := h.deps.Detector.Config()
	if v, present, err := p.floatValue("threshold"); present {
		if err != nil {
			h.respondFieldError(w, "threshold", p["threshold"])
			return
		}
		cfg.Threshold = v
	}
	if v, present, err := p.intValue("margin_frames"); present {
		if err != nil {
			h.respondFieldError(w, "margin_frames", p["margin_frames"])
			return
		}
		cfg.MarginFrames = v
	}
	if v, present, err := p.floatValue("difference_threshold"); present {
		if err != nil {
			h.respondFieldError(w, "difference_threshold", p["difference_threshold"])
			return
		}
		cfg.DifferenceThreshold = v
	}
	if v, present, err := p.intValue("min_region_length"); present {
		if err != nil {
			h.respondFieldError(w, "min_region_length", p["min_region_length"])
			return
		}
		cfg.MinRegionLength = v
	}

	if err := h.deps.Detector.UpdateConfig(cfg); err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			h.respondWithError(w, http.StatusBadRequest, fieldErrorCode(verr.Field), verr.Error(), map[string]interface{}{
				"field": verr.Field,
				"value": verr.Value,
			})
			return
		}
		h.respondWithError(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error(), nil)
		return
	}

	h.persist(func(c *config.Config) { c.Detector = cfg })
	h.respondWithJSON(w, http.StatusOK, peakConfigView(cfg))
}

func peakConfigView(cfg detector.Config) models.PeakDetectionConfig {
	return models.PeakDetectionConfig{
		Threshold:           cfg.Threshold,
		MarginFrames:        cfg.MarginFrames,
		DifferenceThreshold: cfg.DifferenceThreshold,
		MinRegionLength:     cfg.MinRegionLength,
	}
}

func (h *Handler) respondFieldError(w http.ResponseWriter, field, value string) {
	h.respondWithError(w, http.StatusBadRequest, fieldErrorCode(field),
		fmt.Sprintf("Valor inválido para %s", field), map[string]string{"field": field, "value": value})
}

func fieldErrorCode(field string) string {
	return "INVALID_" + strings.ToUpper(field)
}

// HandlePeaks retorna as regiões de pico mais recentes (GET) ou limpa o
// histórico em memória (DELETE, com senha). Com source=archive a leitura vem
// do Redis quando conectado.
func (h *Handler) HandlePeaks(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodGet, http.MethodDelete) {
		return
	}

	if r.Method == http.MethodDelete {
		if _, ok := h.readAuthorized(w, r); !ok {
			return
		}
		h.deps.Detector.ClearHistory()
		h.respondWithJSON(w, http.StatusOK, models.PeaksResponse{Source: "memory", Peaks: []models.PeakRegion{}})
		return
	}

	count, err := queryInt(r, "count", DefaultPeaksCount, 1, MaxPeaksCount)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_PARAMETER", err.Error(), map[string]interface{}{
			"parameter": "count",
			"min":       1,
			"max":       MaxPeaksCount,
		})
		return
	}

	if r.URL.Query().Get("source") == "archive" && h.deps.Archive != nil && h.deps.Archive.IsConnected() {
		peaks, err := h.deps.Archive.RecentPeaks(count)
		if err == nil {
			h.respondWithJSON(w, http.StatusOK, models.PeaksResponse{Source: "archive", Count: len(peaks), Peaks: peaks})
			return
		}
		logger.Warnf("Falha ao ler histórico de picos do Redis, usando memória: %v", err)
	}

	peaks := h.deps.Detector.RecentPeaks(count)
	if peaks == nil {
		peaks = []models.PeakRegion{}
	}
	h.respondWithJSON(w, http.StatusOK, models.PeaksResponse{Source: "memory", Count: len(peaks), Peaks: peaks})
}

// PostReset descarta os dados da sessão atual sem parar a aquisição
func (h *Handler) PostReset(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethods(w, r, http.MethodPost) {
		return
	}
	if _, ok := h.readAuthorized(w, r); !ok {
		return
	}

	h.deps.Acquisition.ResetSession()
	h.respondWithJSON(w, http.StatusOK, h.statusResponse())
}

func (h *Handler) persist(update func(*config.Config)) {
	if h.deps.Persist == nil {
		return
	}
	if err := h.deps.Persist(update); err != nil {
		logger.Error("Erro ao salvar configuração", err)
	}
}

// readAuthorized lê os parâmetros e confere a senha. Responde 401 quando a
// senha não confere.
func (h *Handler) readAuthorized(w http.ResponseWriter, r *http.Request) (params, bool) {
	p, err := readParams(r)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return nil, false
	}
	if subtle.ConstantTimeCompare([]byte(p["password"]), []byte(h.deps.Password)) != 1 {
		logger.Warnf("Senha inválida em %s %s de %s", r.Method, r.URL.Path, r.RemoteAddr)
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid password", nil)
		return nil, false
	}
	return p, true
}

func (h *Handler) allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	h.respondWithError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Método não permitido", nil)
	return false
}

// params são os campos de um formulário ou de um objeto JSON
type params map[string]string

// readParams aceita tanto application/json quanto formulário
func readParams(r *http.Request) (params, error) {
	p := params{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]interface{}
		decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
		decoder.UseNumber()
		if err := decoder.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("corpo JSON inválido: %w", err)
		}
		for k, v := range body {
			if v == nil {
				continue
			}
			p[k] = fmt.Sprint(v)
		}
		return p, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("formulário inválido: %w", err)
	}
	for k := range r.PostForm {
		p[k] = r.PostForm.Get(k)
	}
	return p, nil
}

func (p params) intValue(name string) (int, bool, error) {
	raw, ok := p[name]
	if !ok || raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	return v, true, err
}

func (p params) floatValue(name string) (float64, bool, error) {
	raw, ok := p[name]
	if !ok || raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return v, true, err
}

func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, fmt.Errorf("%s deve ser um inteiro entre %d e %d", name, lo, hi)
	}
	return v, nil
}

// respondWithError envia uma resposta de erro no formato padrão
func (h *Handler) respondWithError(w http.ResponseWriter, code int, errorCode, message string, details interface{}) {
	h.respondWithJSON(w, code, models.ErrorResponse{
		ErrorCode:    errorCode,
		ErrorMessage: message,
		Details:      details,
	})
}

// respondWithJSON envia uma resposta JSON
func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("Erro ao codificar resposta JSON: %v", err)
		fmt.Fprintf(w, `{"error_code":"INTERNAL_ERROR","error_message":"Erro interno ao processar resposta"}`)
	}
}
