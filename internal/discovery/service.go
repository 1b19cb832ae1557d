// Package discovery anuncia a API na rede local via mDNS/DNS-SD
package discovery

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"

	"newfem_go/internal/config"
	"newfem_go/pkg/logger"
)

// Version é anunciada no registro TXT
const Version = "1.0"

// DiscoveryService gerencia o anúncio do serviço na rede local
type DiscoveryService struct {
	server       *zeroconf.Server
	config       config.DiscoveryConfig
	mutex        sync.Mutex
	instanceName string
	port         int
	wsPath       string
	running      bool
	serverIP     string
}

// NewDiscoveryService cria um novo serviço de descoberta
func NewDiscoveryService(cfg config.DiscoveryConfig, port int, wsPath string) *DiscoveryService {
	instanceName := cfg.InstanceName
	if instanceName == "" {
		hostname, _ := os.Hostname()
		instanceName = fmt.Sprintf("%s-newfem", hostname)
	}
	if cfg.Service == "" {
		cfg.Service = "_newfem._tcp"
	}
	if cfg.Domain == "" {
		cfg.Domain = "local."
	}

	return &DiscoveryService{
		config:       cfg,
		port:         port,
		wsPath:       wsPath,
		instanceName: instanceName,
	}
}

// TXTRecords retorna os metadados anunciados
func (s *DiscoveryService) TXTRecords(ip string) []string {
	records := []string{
		"version=" + Version,
		"name=NewFEM",
		"ws=" + s.wsPath,
		"api=/api/v1",
	}
	if ip != "" {
		records = append(records, "ip="+ip)
	}
	return records
}

// Start registra o serviço
func (s *DiscoveryService) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return nil
	}

	// o IP é apenas informativo; sem ele o anúncio segue normalmente
	ip, err := getLocalIP()
	if err != nil {
		logger.Warnf("Não foi possível determinar o IP local: %v", err)
	}
	s.serverIP = ip

	server, err := zeroconf.Register(
		s.instanceName,
		s.config.Service,
		s.config.Domain,
		s.port,
		s.TXTRecords(ip),
		nil, // todas as interfaces
	)
	if err != nil {
		return fmt.Errorf("erro ao registrar serviço de descoberta: %w", err)
	}

	s.server = server
	s.running = true

	logger.Infof("Serviço de descoberta iniciado em %s:%d (mDNS: %s.%s%s)",
		ip, s.port, s.instanceName, s.config.Service, s.config.Domain)
	return nil
}

// Stop para o serviço de descoberta
func (s *DiscoveryService) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return
	}

	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
	}
	s.running = false

	logger.Info("Serviço de descoberta parado")
}

// GetInstanceName retorna o nome da instância do serviço
func (s *DiscoveryService) GetInstanceName() string {
	return s.instanceName
}

// IsRunning verifica se o serviço está em execução
func (s *DiscoveryService) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

// getLocalIP obtém o primeiro endereço IPv4 que não seja loopback
func getLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}
	return "", fmt.Errorf("não foi possível determinar o endereço IP local")
}
