package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"newfem_go/internal/config"
	"newfem_go/pkg/logger"
)

// Client encapsula a conexão com o Redis e o prefixo das chaves
type Client struct {
	client    *redis.Client
	prefix    string
	config    config.RedisConfig
	mutex     sync.RWMutex
	connected bool
}

// NewClient cria um novo cliente Redis. Com o Redis desabilitado o cliente
// fica permanentemente desconectado.
func NewClient(cfg config.RedisConfig) *Client {
	if !cfg.Enabled {
		logger.Info("Cliente Redis desabilitado por configuração")
		return &Client{config: cfg, prefix: cfg.Prefix}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
	})

	return &Client{
		client: redisClient,
		config: cfg,
		prefix: cfg.Prefix,
	}
}

// Connect testa a conexão com ping
func (c *Client) Connect(ctx context.Context) error {
	if !c.config.Enabled || c.client == nil {
		return fmt.Errorf("cliente Redis desabilitado por configuração")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.client.Ping(ctx).Result(); err != nil {
		c.setConnected(false)
		return fmt.Errorf("erro ao conectar ao Redis: %w", err)
	}

	c.setConnected(true)
	logger.Infof("Conexão estabelecida com Redis em %s:%d", c.config.Host, c.config.Port)
	return nil
}

// IsConnected verifica se o cliente está conectado
func (c *Client) IsConnected() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.connected && c.config.Enabled
}

// MarkFailed coloca o cliente em modo offline após uma falha de escrita
func (c *Client) MarkFailed(err error) {
	if c.IsConnected() {
		logger.Warnf("Redis indisponível, entrando em modo offline: %v", err)
	}
	c.setConnected(false)
}

func (c *Client) setConnected(v bool) {
	c.mutex.Lock()
	c.connected = v
	c.mutex.Unlock()
}

// Close fecha a conexão com o Redis
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.setConnected(false)
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("erro ao fechar conexão Redis: %w", err)
	}
	logger.Info("Conexão com Redis fechada")
	return nil
}

// Pipeline cria uma nova pipeline de comandos Redis
func (c *Client) Pipeline() redis.Pipeliner {
	if c.client == nil {
		return nil
	}
	return c.client.Pipeline()
}

// Redis retorna o cliente subjacente
func (c *Client) Redis() *redis.Client {
	return c.client
}

// FormatKey formata uma chave com o prefixo configurado
func (c *Client) FormatKey(parts ...string) string {
	key := c.prefix
	for _, p := range parts {
		key += ":" + p
	}
	return key
}
