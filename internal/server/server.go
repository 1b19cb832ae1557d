package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"newfem_go/internal/acquisition"
	"newfem_go/internal/api"
	"newfem_go/internal/capture"
	"newfem_go/internal/config"
	"newfem_go/internal/detector"
	"newfem_go/internal/discovery"
	"newfem_go/internal/metrics"
	"newfem_go/internal/plc"
	"newfem_go/internal/redis"
	"newfem_go/internal/store"
	"newfem_go/internal/timeutil"
	"newfem_go/internal/websocket"
	"newfem_go/pkg/logger"
)

// Version é a versão anunciada pela API e pelo mDNS
const Version = "1.0.0"

// Caminhos fixos fora do base path da API
const (
	APIBasePath = "/api/v1"
	WSPath      = "/ws"
)

// Server encapsula o servidor HTTP com todos os componentes
type Server struct {
	config     *config.Config
	configPath string
	configMu   sync.Mutex

	httpServer *http.Server
	router     *api.Router
	apiHandler *api.Handler

	store              *store.SignalStore
	detector           *detector.PeakDetector
	capture            *capture.CachedSource
	remote             *capture.RemoteSource
	acquisitionService *acquisition.Service
	wsHub              *websocket.Hub
	feed               *websocket.Feed
	redisService       *redis.Service
	plcService         *plc.PLCService
	discoveryService   *discovery.DiscoveryService
	metrics            *metrics.Metrics

	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup
	serverInfo ServerInfo
}

// ServerInfo contém informações sobre o servidor
type ServerInfo struct {
	IP           string
	Port         int
	StartTime    time.Time
	Connections  int
	Version      string
	WebSocketURL string
	APIURL       string
}

// NewServer cria uma nova instância do servidor. configPath vazio desativa a
// gravação das alterações feitas pela API.
func NewServer(cfg *config.Config, configPath string) (*Server, error) {
	server := &Server{
		config:     cfg,
		configPath: configPath,
		serverInfo: ServerInfo{
			StartTime: time.Now(),
			Version:   Version,
			Port:      cfg.Server.Port,
		},
	}

	server.ctx, server.cancel = context.WithCancel(context.Background())

	ip := getLocalIP()
	server.serverInfo.IP = ip
	server.serverInfo.WebSocketURL = fmt.Sprintf("ws://%s:%d%s", ip, cfg.Server.Port, WSPath)
	server.serverInfo.APIURL = fmt.Sprintf("http://%s:%d%s", ip, cfg.Server.Port, APIBasePath)

	if err := server.initComponents(); err != nil {
		return nil, err
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return server, nil
}

// initComponents cria os componentes e liga os consumidores de resultado ao
// laço de aquisição
func (s *Server) initComponents() error {
	cfg := s.config
	clock := timeutil.RealClock{}

	if cfg.Metrics.Enabled {
		s.metrics = metrics.New()
	}

	s.store = store.New(store.Options{
		BufferSize:     cfg.Acquisition.BufferSize,
		RoiBufferSize:  cfg.Acquisition.RoiBufferSize,
		BaselineWindow: cfg.Acquisition.FPS,
	})
	if cfg.Roi.Enabled {
		if err := s.store.SetRoiConfig(cfg.Roi.Region()); err != nil {
			return fmt.Errorf("erro ao aplicar ROI inicial: %w", err)
		}
		logger.Infof("ROI inicial configurada: %s", cfg.Roi.Region())
	}

	det, err := detector.New(cfg.Detector)
	if err != nil {
		return fmt.Errorf("erro ao inicializar detector: %w", err)
	}
	s.detector = det

	var source capture.FrameSource = capture.Unavailable{}
	switch {
	case cfg.Acquisition.AgentHost != "":
		s.remote = capture.NewRemoteSource(cfg.Acquisition.AgentHost, cfg.Acquisition.AgentPort, cfg.Acquisition.AgentTimeout)
		source = s.remote
		logger.Infof("Usando agente de captura remoto em %s", s.remote.Address())
	case cfg.Acquisition.Simulated:
		source = capture.NewSimulatedSource(clock)
		logger.Info("Usando fonte de captura simulada")
	default:
		logger.Warn("Nenhuma fonte de captura configurada; apenas o sinal sintético será usado")
	}
	s.capture = capture.NewCachedSource(source, cfg.Roi.FrameRate, clock)

	s.acquisitionService = acquisition.NewService(s.store, s.detector, s.capture, s.metrics, acquisition.Options{
		FPS:          cfg.Acquisition.FPS,
		StopTimeout:  cfg.Acquisition.StopTimeout,
		SimpleMargin: cfg.Acquisition.SimpleMargin,
	})

	s.wsHub = websocket.NewHub(websocket.Options{
		MaxClients:        cfg.Socket.MaxClients,
		Password:          cfg.Server.Password,
		HeartbeatInterval: cfg.Socket.HeartbeatInterval,
		PongTimeout:       cfg.Socket.PongTimeout,
		Clock:             clock,
		Metrics:           s.metrics,
	})
	s.feed = websocket.NewFeed(s.wsHub, s.store, statusSource{s.acquisitionService, s.detector}, cfg.Socket.FeedRate)
	s.acquisitionService.RegisterResultHandler(s.feed.OnTick)

	s.redisService = redis.NewService(cfg.Redis, s.store.Snapshot)
	if cfg.Redis.Enabled {
		s.acquisitionService.RegisterResultHandler(s.redisService.OnTick)
	}

	if cfg.PLC.Enabled {
		s.plcService = plc.NewPLCService(cfg.PLC, s.acquisitionService)
		s.acquisitionService.RegisterResultHandler(s.plcService.OnTick)
	}

	if cfg.Discovery.Enabled {
		s.discoveryService = discovery.NewDiscoveryService(cfg.Discovery, cfg.Server.Port, WSPath)
	}

	s.apiHandler = api.NewHandler(api.Deps{
		Store:       s.store,
		Detector:    s.detector,
		Acquisition: s.acquisitionService,
		Capture:     s.capture,
		Archive:     s.redisService,
		Clients:     s.wsHub,
		Password:    cfg.Server.Password,
		Version:     Version,
		Persist:     s.persistConfig,
	})
	s.wsHub.SetController(s.apiHandler.Control())

	s.registerGauges()
	return nil
}

// registerGauges expõe o estado corrente do pipeline no /metrics
func (s *Server) registerGauges() {
	if s.metrics == nil {
		return
	}
	boolGauge := func(v bool) float64 {
		if v {
			return 1
		}
		return 0
	}

	s.metrics.RegisterGaugeFunc("frame_count", "Quantidade de frames gravados desde o início", func() float64 {
		return float64(s.store.FrameCount())
	})
	s.metrics.RegisterGaugeFunc("baseline", "Baseline atual do canal principal", s.store.Baseline)
	s.metrics.RegisterGaugeFunc("subscribers", "Assinantes WebSocket conectados", func() float64 {
		return float64(s.wsHub.Count())
	})
	s.metrics.RegisterGaugeFunc("acquisition_fps", "Taxa configurada do laço de aquisição", func() float64 {
		return float64(s.acquisitionService.FPS())
	})
	s.metrics.RegisterGaugeFunc("acquisition_running", "1 quando o laço de aquisição está ativo", func() float64 {
		return boolGauge(s.acquisitionService.IsRunning())
	})
	s.metrics.RegisterGaugeFunc("roi_configured", "1 quando há ROI configurada", func() float64 {
		_, configured := s.store.RoiConfig()
		return boolGauge(configured)
	})
	s.metrics.RegisterGaugeFunc("redis_connected", "1 quando o arquivo Redis está conectado", func() float64 {
		return boolGauge(s.redisService.IsConnected())
	})
}

// persistConfig aplica a alteração na configuração em memória e grava o arquivo
func (s *Server) persistConfig(update func(*config.Config)) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	update(s.config)
	if s.configPath == "" {
		return nil
	}
	return s.config.Save(s.configPath)
}

// Start inicia os serviços de fundo e bloqueia servindo HTTP
func (s *Server) Start() error {
	ctx := s.ctx

	s.background.Add(2)
	go func() {
		defer s.background.Done()
		s.wsHub.Run(ctx)
	}()
	go func() {
		defer s.background.Done()
		s.feed.Run(ctx)
	}()

	if s.discoveryService != nil {
		if err := s.discoveryService.Start(); err != nil {
			logger.Warnf("Erro ao iniciar serviço de descoberta: %v", err)
		}
	}

	if s.config.Acquisition.AutoStart {
		if err := s.acquisitionService.Start(); err != nil {
			return fmt.Errorf("erro ao iniciar aquisição: %w", err)
		}
	}

	if s.plcService != nil {
		if err := s.plcService.Start(); err != nil {
			logger.Errorf("Erro ao iniciar serviço PLC: %v", err)
		}
	}

	s.logServerInfo()

	logger.Infof("Iniciando servidor HTTP em %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("erro ao iniciar servidor HTTP: %w", err)
	}

	return nil
}

// Shutdown encerra graciosamente o servidor e todos os serviços
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Iniciando shutdown do servidor")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("Erro ao encerrar servidor HTTP: %v", err)
	}

	if s.discoveryService != nil {
		s.discoveryService.Stop()
	}

	if s.plcService != nil {
		s.plcService.Shutdown()
	}

	if err := s.acquisitionService.Stop(); err != nil {
		logger.Error("Erro ao parar aquisição", err)
	}

	s.cancel()
	s.background.Wait()

	s.redisService.Shutdown()

	if s.remote != nil {
		s.remote.Close()
	}

	logger.Info("Shutdown completo")
	return nil
}

// GetServerInfo retorna informações sobre o servidor
func (s *Server) GetServerInfo() ServerInfo {
	info := s.serverInfo
	info.Connections = s.wsHub.Count()
	return info
}

// logServerInfo exibe informações do servidor no log
func (s *Server) logServerInfo() {
	logger.Info("===============================================")
	logger.Info("          NewFEM Peak Detection Server         ")
	logger.Info("===============================================")
	logger.Infof("Versão: %s", s.serverInfo.Version)
	logger.Infof("Endereço IP: %s", s.serverInfo.IP)
	logger.Infof("Porta HTTP: %d", s.serverInfo.Port)
	logger.Infof("WebSocket URL: %s", s.serverInfo.WebSocketURL)
	logger.Infof("API URL: %s", s.serverInfo.APIURL)
	logger.Infof("Aquisição: %d FPS, fonte simulada=%v, auto start=%v",
		s.acquisitionService.FPS(), s.config.Acquisition.Simulated, s.config.Acquisition.AutoStart)
	if s.discoveryService != nil {
		logger.Infof("mDNS: %s.%s.%s", s.discoveryService.GetInstanceName(), s.config.Discovery.Service, s.config.Discovery.Domain)
	}
	logger.Info("===============================================")
	logger.Info("Servidor pronto para conexões!")
}

// getLocalIP obtém o primeiro IPv4 que não seja loopback
func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "localhost"
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "localhost"
}

// statusSource fornece ao feed os campos que não estão no armazenamento
type statusSource struct {
	acquisition *acquisition.Service
	detector    *detector.PeakDetector
}

func (s statusSource) FPS() int {
	return s.acquisition.FPS()
}

func (s statusSource) Threshold() float64 {
	return s.detector.Config().Threshold
}
