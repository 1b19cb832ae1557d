package server

import (
	"encoding/json"
	"net/http"
	"time"

	"newfem_go/internal/api"
	"newfem_go/internal/websocket"
	"newfem_go/pkg/logger"
)

// setupRoutes configura todas as rotas do servidor
func (s *Server) setupRoutes() {
	s.router = api.NewRouter(s.apiHandler, APIBasePath, s.config.Server.EnableCORS)
	s.router.Setup()

	wsHandler := websocket.NewHandler(s.wsHub)
	s.router.Handle(WSPath, wsHandler)
	s.router.Handle(WSPath+"/health", wsHandler.GetHealthHandler())

	s.router.Handle("/health", http.HandlerFunc(s.healthHandler))
	s.router.Handle("/info", http.HandlerFunc(s.infoHandler))
	s.router.Handle("/api/discover", http.HandlerFunc(s.discoverHandler))

	if s.metrics != nil {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler())
		logger.Infof("Métricas Prometheus em %s", s.config.Metrics.Path)
	}
}

// healthHandler responde com o status de cada serviço
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	acquisitionStatus := "stopped"
	if s.acquisitionService.IsRunning() {
		acquisitionStatus = "ok"
	}

	redisStatus := "disabled"
	if s.config.Redis.Enabled {
		redisStatus = "offline"
		if s.redisService.IsConnected() {
			redisStatus = "ok"
		}
	}

	plcStatus := "disabled"
	if s.plcService != nil {
		plcStatus = "offline"
		if s.plcService.IsRunning() {
			plcStatus = "ok"
		}
	}

	discoveryStatus := "disabled"
	if s.discoveryService != nil {
		discoveryStatus = "offline"
		if s.discoveryService.IsRunning() {
			discoveryStatus = "ok"
		}
	}

	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"services": map[string]string{
			"acquisition": acquisitionStatus,
			"redis":       redisStatus,
			"plc":         plcStatus,
			"websocket":   "ok",
			"discovery":   discoveryStatus,
		},
	}

	if redisStatus == "offline" || plcStatus == "offline" {
		response["status"] = "degraded"
	}

	writeJSON(w, response)
}

// infoHandler retorna informações básicas sobre o servidor
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	info := s.GetServerInfo()

	response := map[string]interface{}{
		"name":        "NewFEM",
		"version":     info.Version,
		"ip":          info.IP,
		"port":        info.Port,
		"websocket":   info.WebSocketURL,
		"api":         info.APIURL,
		"startTime":   info.StartTime,
		"uptime":      time.Since(info.StartTime).Round(time.Second).String(),
		"connections": info.Connections,
		"acquisition": s.acquisitionService.Stats(),
		"detector":    s.detector.Status(),
	}
	if s.plcService != nil {
		response["plc"] = s.plcService.Status()
	}

	writeJSON(w, response)
}

// discoverHandler fornece informações para descoberta manual
func (s *Server) discoverHandler(w http.ResponseWriter, r *http.Request) {
	info := s.GetServerInfo()

	response := map[string]interface{}{
		"name":         "NewFEM",
		"ip":           info.IP,
		"port":         info.Port,
		"wsUrl":        info.WebSocketURL,
		"apiUrl":       info.APIURL,
		"version":      info.Version,
		"wsEndpoint":   WSPath,
		"apiEndpoint":  APIBasePath,
		"authRequired": s.wsHub.AuthRequired(),
	}
	if s.discoveryService != nil {
		response["mdnsInstance"] = s.discoveryService.GetInstanceName()
	}

	writeJSON(w, response)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("Erro ao codificar resposta JSON: %v", err)
	}
}
