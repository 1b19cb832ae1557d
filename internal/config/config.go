package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"newfem_go/internal/detector"
	"newfem_go/internal/models"
)

// DefaultFile é o arquivo lido por Load quando presente no diretório de trabalho
const DefaultFile = "config.json"

// envPrefix é o prefixo das variáveis de ambiente que sobrescrevem o arquivo
const envPrefix = "NEWFEM_"

// ErrInvalidConfig é retornado por Validate
var ErrInvalidConfig = errors.New("configuração inválida")

// Config representa a configuração completa da aplicação
type Config struct {
	Server      ServerConfig      `json:"server"`
	Acquisition AcquisitionConfig `json:"acquisition"`
	Detector    detector.Config   `json:"detector"`
	Roi         RoiConfig         `json:"roi"`
	Socket      SocketConfig      `json:"socket"`
	Redis       RedisConfig       `json:"redis"`
	PLC         PLCConfig         `json:"plc"`
	Discovery   DiscoveryConfig   `json:"discovery"`
	Metrics     MetricsConfig     `json:"metrics"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig contém configurações do servidor HTTP/WebSocket
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Password        string        `json:"password"`
	EnableCORS      bool          `json:"enableCors"`
	ReadTimeout     time.Duration `json:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout"`
	ShutdownTimeout time.Duration `json:"shutdownTimeout"`
}

// Addr retorna host:porta para o listener
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AcquisitionConfig contém configurações do laço de aquisição
type AcquisitionConfig struct {
	FPS           int           `json:"fps"`
	BufferSize    int           `json:"bufferSize"`
	RoiBufferSize int           `json:"roiBufferSize"`
	StopTimeout   time.Duration `json:"stopTimeout"`
	SimpleMargin  float64       `json:"simpleMargin"`
	Simulated     bool          `json:"simulated"` // usa pulsos sintéticos como fonte da ROI
	AutoStart     bool          `json:"autoStart"`

	// Agente de captura remoto; com AgentHost preenchido tem prioridade
	// sobre a fonte simulada
	AgentHost    string        `json:"agentHost"`
	AgentPort    int           `json:"agentPort"`
	AgentTimeout time.Duration `json:"agentTimeout"`
}

// RoiConfig contém a região inicial e a taxa de captura
type RoiConfig struct {
	Enabled   bool    `json:"enabled"`
	X1        int     `json:"x1"`
	Y1        int     `json:"y1"`
	X2        int     `json:"x2"`
	Y2        int     `json:"y2"`
	FrameRate float64 `json:"frameRate"`
}

// Region converte para o modelo de ROI
func (r RoiConfig) Region() models.RoiConfig {
	return models.RoiConfig{X1: r.X1, Y1: r.Y1, X2: r.X2, Y2: r.Y2}
}

// SocketConfig contém configurações do hub de assinantes
type SocketConfig struct {
	MaxClients        int           `json:"maxClients"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval"`
	PongTimeout       time.Duration `json:"pongTimeout"`
	FeedRate          int           `json:"feedRate"`
}

// RedisConfig contém configurações do Redis
type RedisConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Password     string `json:"password"`
	DB           int    `json:"db"`
	Prefix       string `json:"prefix"`
	Enabled      bool   `json:"enabled"`
	HistoryLimit int64  `json:"historyLimit"`
	StatusEveryN int    `json:"statusEveryN"` // frames entre gravações de status
}

// PLCConfig contém configurações para comunicação com o PLC S7
type PLCConfig struct {
	Enabled      bool          `json:"enabled"`
	Host         string        `json:"host"`
	Rack         int           `json:"rack"`
	Slot         int           `json:"slot"`
	DBNumber     int           `json:"dbNumber"`
	UpdateRate   time.Duration `json:"updateRate"`
	ReadTimeout  time.Duration `json:"readTimeout"`
	WriteTimeout time.Duration `json:"writeTimeout"`
}

// DiscoveryConfig contém configurações do anúncio mDNS
type DiscoveryConfig struct {
	Enabled      bool   `json:"enabled"`
	InstanceName string `json:"instanceName"`
	Service      string `json:"service"`
	Domain       string `json:"domain"`
}

// MetricsConfig contém configurações do endpoint Prometheus
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingConfig contém configurações do logger
type LoggingConfig struct {
	Level string `json:"level"`
	File  bool   `json:"file"`
	Dir   string `json:"dir"`
}

// Load carrega a configuração do arquivo padrão ou usa valores padrão
func Load() (*Config, error) {
	return LoadFile(DefaultFile)
}

// LoadFile carrega a configuração do arquivo informado, se existir, aplica
// as variáveis de ambiente e valida o resultado
func LoadFile(path string) (*Config, error) {
	config := getDefaultConfig()

	if _, err := os.Stat(path); err == nil {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		if err := decoder.Decode(&config); err != nil {
			return nil, fmt.Errorf("erro ao ler %s: %w", path, err)
		}
	}

	if err := applyEnvironmentOverrides(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save grava a configuração em JSON indentado
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejeita valores fora de faixa
func (c *Config) Validate() error {
	invalid := func(field string, value interface{}, reason string) error {
		return &models.ValidationError{Field: field, Value: value, Reason: reason, Err: ErrInvalidConfig}
	}

	switch {
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return invalid("server.port", c.Server.Port, "deve estar entre 1 e 65535")
	case c.Acquisition.FPS < 10 || c.Acquisition.FPS > 120:
		return invalid("acquisition.fps", c.Acquisition.FPS, "deve estar entre 10 e 120")
	case c.Acquisition.BufferSize < 1:
		return invalid("acquisition.bufferSize", c.Acquisition.BufferSize, "deve ser positivo")
	case c.Acquisition.RoiBufferSize < 1:
		return invalid("acquisition.roiBufferSize", c.Acquisition.RoiBufferSize, "deve ser positivo")
	case c.Roi.FrameRate < 1 || c.Roi.FrameRate > 60:
		return invalid("roi.frameRate", c.Roi.FrameRate, "deve estar entre 1 e 60")
	case c.Roi.Enabled && !c.Roi.Region().Valid():
		return invalid("roi", c.Roi.Region().String(), "requer x1<x2 e y1<y2")
	case c.Acquisition.AgentHost != "" && (c.Acquisition.AgentPort < 1 || c.Acquisition.AgentPort > 65535):
		return invalid("acquisition.agentPort", c.Acquisition.AgentPort, "deve estar entre 1 e 65535")
	case c.Socket.MaxClients < 1:
		return invalid("socket.maxClients", c.Socket.MaxClients, "deve ser positivo")
	case c.Socket.PongTimeout <= c.Socket.HeartbeatInterval:
		return invalid("socket.pongTimeout", c.Socket.PongTimeout, "deve ser maior que o intervalo de heartbeat")
	case c.Socket.FeedRate < 1 || c.Socket.FeedRate > 120:
		return invalid("socket.feedRate", c.Socket.FeedRate, "deve estar entre 1 e 120")
	}
	return c.Detector.Validate()
}

// applyEnvironmentOverrides sobrescreve configurações com variáveis NEWFEM_*
func applyEnvironmentOverrides(config *Config) error {
	strs := map[string]*string{
		"API_HOST":      &config.Server.Host,
		"PASSWORD":      &config.Server.Password,
		"REDIS_HOST":    &config.Redis.Host,
		"REDIS_PREFIX":  &config.Redis.Prefix,
		"PLC_HOST":      &config.PLC.Host,
		"AGENT_HOST":    &config.Acquisition.AgentHost,
		"LOG_LEVEL":     &config.Logging.Level,
		"INSTANCE_NAME": &config.Discovery.InstanceName,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"API_PORT":    &config.Server.Port,
		"FPS":         &config.Acquisition.FPS,
		"BUFFER_SIZE": &config.Acquisition.BufferSize,
		"MAX_CLIENTS": &config.Socket.MaxClients,
		"REDIS_PORT":  &config.Redis.Port,
		"PLC_DB":      &config.PLC.DBNumber,
		"AGENT_PORT":  &config.Acquisition.AgentPort,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("variável %s%s inválida: %w", envPrefix, name, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"REDIS_ENABLED":     &config.Redis.Enabled,
		"PLC_ENABLED":       &config.PLC.Enabled,
		"DISCOVERY_ENABLED": &config.Discovery.Enabled,
		"METRICS_ENABLED":   &config.Metrics.Enabled,
		"SIMULATED":         &config.Acquisition.Simulated,
		"AUTO_START":        &config.Acquisition.AutoStart,
	}
	for name, dst := range bools {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("variável %s%s inválida: %w", envPrefix, name, err)
		}
		*dst = b
	}
	return nil
}
