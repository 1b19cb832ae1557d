package config

import (
	"time"

	"newfem_go/internal/detector"
)

// getDefaultConfig retorna uma configuração padrão
func getDefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8421,
			Password:        "31415",
			EnableCORS:      true,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Acquisition: AcquisitionConfig{
			FPS:           60,
			BufferSize:    100,
			RoiBufferSize: 500,
			StopTimeout:   2 * time.Second,
			SimpleMargin:  8.0,
			Simulated:     true,
			AutoStart:     false,
			AgentPort:     2112,
			AgentTimeout:  2 * time.Second,
		},
		Detector: detector.DefaultConfig(),
		Roi: RoiConfig{
			Enabled:   false,
			X1:        0,
			Y1:        0,
			X2:        200,
			Y2:        150,
			FrameRate: 2,
		},
		Socket: SocketConfig{
			MaxClients:        10,
			HeartbeatInterval: 10 * time.Second,
			PongTimeout:       30 * time.Second,
			FeedRate:          60,
		},
		Redis: RedisConfig{
			Host:         "localhost",
			Port:         6379,
			Password:     "",
			DB:           0,
			Prefix:       "newfem",
			Enabled:      false,
			HistoryLimit: 1000,
			StatusEveryN: 60,
		},
		PLC: PLCConfig{
			Enabled:      false,
			Host:         "192.168.1.100",
			Rack:         0,
			Slot:         1,
			DBNumber:     100,
			UpdateRate:   500 * time.Millisecond,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Enabled:      false,
			InstanceName: "NewFEM",
			Service:      "_newfem._tcp",
			Domain:       "local.",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  false,
			Dir:   "logs",
		},
	}
}

// Default retorna uma cópia da configuração padrão
func Default() *Config {
	c := getDefaultConfig()
	return &c
}
