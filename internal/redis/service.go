// Package redis arquiva os picos detectados e o status do pipeline no Redis.
// Sem conexão o serviço opera em modo offline e as escritas são ignoradas.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"newfem_go/internal/acquisition"
	"newfem_go/internal/config"
	"newfem_go/internal/models"
	"newfem_go/pkg/logger"
)

// ErrOffline é retornado por leituras quando o Redis não está conectado
var ErrOffline = errors.New("Redis não conectado ou desabilitado")

// SnapshotFunc fornece o status corrente do pipeline
type SnapshotFunc func() models.StatusSnapshot

// Service gerencia o arquivo de picos e status
type Service struct {
	client       *Client
	ctx          context.Context
	cancel       context.CancelFunc
	historyLimit int64
	statusEveryN uint64
	snapshot     SnapshotFunc
	async        bool
}

// NewService cria o serviço e testa a conexão. Falha de conexão não é erro:
// o serviço segue em modo offline.
func NewService(cfg config.RedisConfig, snapshot SnapshotFunc) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = 1000
	}
	every := uint64(60)
	if cfg.StatusEveryN > 0 {
		every = uint64(cfg.StatusEveryN)
	}

	s := &Service{
		client:       NewClient(cfg),
		ctx:          ctx,
		cancel:       cancel,
		historyLimit: limit,
		statusEveryN: every,
		snapshot:     snapshot,
		async:        true,
	}

	if cfg.Enabled {
		if err := s.client.Connect(ctx); err != nil {
			logger.Warnf("Aviso: %v. O Redis será utilizado em modo offline.", err)
		}
	}
	return s
}

// IsConnected verifica se o serviço está conectado
func (s *Service) IsConnected() bool {
	return s.client.IsConnected()
}

// SetAsync define se as escritas disparadas por OnTick rodam em goroutine própria
func (s *Service) SetAsync(async bool) {
	s.async = async
}

// OnTick é registrado como ResultHandler da aquisição
func (s *Service) OnTick(tick acquisition.Tick) {
	if !s.IsConnected() {
		return
	}

	writeStatus := s.snapshot != nil && tick.Frame.Index%s.statusEveryN == 0
	if tick.Result.Region == nil && !writeStatus {
		return
	}

	var snapshot models.StatusSnapshot
	if writeStatus {
		snapshot = s.snapshot()
	}

	write := func() {
		if region := tick.Result.Region; region != nil {
			if err := s.WritePeak(*region); err != nil {
				logger.Errorf("Erro ao escrever pico no Redis: %v", err)
			}
		}
		if writeStatus {
			if err := s.WriteStatus(snapshot); err != nil {
				logger.Errorf("Erro ao escrever status no Redis: %v", err)
			}
		}
	}

	if s.async {
		go write()
	} else {
		write()
	}
}

// WritePeak grava o pico como último pico e no histórico ordenado por
// horário, limitado aos historyLimit mais recentes
func (s *Service) WritePeak(region models.PeakRegion) error {
	if !s.IsConnected() {
		return nil
	}

	data, err := json.Marshal(region)
	if err != nil {
		return err
	}
	detectedAt := region.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}

	historyKey := s.client.FormatKey("peaks")
	pipe := s.client.Pipeline()
	pipe.Set(s.ctx, s.client.FormatKey("peak", "latest"), string(data), 0)
	pipe.ZAdd(s.ctx, historyKey, &redis.Z{
		Score:  float64(detectedAt.UnixMilli()),
		Member: string(data),
	})
	pipe.ZRemRangeByRank(s.ctx, historyKey, 0, -(s.historyLimit + 1))
	pipe.Incr(s.ctx, s.client.FormatKey("peaks", "count"))
	pipe.HIncrBy(s.ctx, s.client.FormatKey("peaks", "by_color"), colorField(region.Color), 1)

	if _, err := pipe.Exec(s.ctx); err != nil {
		s.client.MarkFailed(err)
		return fmt.Errorf("erro ao escrever pico no Redis: %w", err)
	}
	return nil
}

// WriteStatus grava o snapshot de status em um hash
func (s *Service) WriteStatus(snapshot models.StatusSnapshot) error {
	if !s.IsConnected() {
		return nil
	}

	fields := map[string]interface{}{
		"status":         string(snapshot.Status),
		"frame_count":    snapshot.FrameCount,
		"current_value":  snapshot.CurrentValue,
		"baseline":       snapshot.Baseline,
		"buffer_size":    snapshot.BufferSize,
		"roi_configured": strconv.FormatBool(snapshot.RoiConfigured),
		"updated_at":     time.Now().UnixMilli(),
	}
	if snapshot.LastPeakSignal != nil {
		fields["last_peak_signal"] = *snapshot.LastPeakSignal
	}

	pipe := s.client.Pipeline()
	pipe.HSet(s.ctx, s.client.FormatKey("status"), fields)
	if _, err := pipe.Exec(s.ctx); err != nil {
		s.client.MarkFailed(err)
		return fmt.Errorf("erro ao escrever status no Redis: %w", err)
	}
	return nil
}

// RecentPeaks retorna até n picos arquivados, do mais recente ao mais antigo
func (s *Service) RecentPeaks(n int) ([]models.PeakRegion, error) {
	if !s.IsConnected() {
		return nil, ErrOffline
	}
	if n <= 0 {
		n = 10
	}

	members, err := s.client.Redis().ZRevRange(s.ctx, s.client.FormatKey("peaks"), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("erro ao obter picos: %w", err)
	}

	peaks := make([]models.PeakRegion, 0, len(members))
	for _, m := range members {
		var region models.PeakRegion
		if err := json.Unmarshal([]byte(m), &region); err != nil {
			continue
		}
		peaks = append(peaks, region)
	}
	return peaks, nil
}

// Status lê o hash de status gravado por WriteStatus
func (s *Service) Status() (map[string]string, error) {
	if !s.IsConnected() {
		return nil, ErrOffline
	}
	return s.client.Redis().HGetAll(s.ctx, s.client.FormatKey("status")).Result()
}

// Shutdown encerra graciosamente o serviço Redis
func (s *Service) Shutdown() {
	s.cancel()
	if err := s.client.Close(); err != nil {
		logger.Errorf("Erro ao fechar conexão com Redis: %v", err)
	}
}

func colorField(c models.PeakColor) string {
	if c == models.ColorNone {
		return "none"
	}
	return string(c)
}
