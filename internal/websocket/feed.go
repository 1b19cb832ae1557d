package websocket

import (
	"context"
	"time"

	"newfem_go/internal/acquisition"
	"newfem_go/internal/models"
	"newfem_go/internal/store"
	"newfem_go/pkg/utils"
)

const (
	DefaultFeedRate = 60 // Hz
	statusEvery     = 60 // feed ticks entre dois system_status
)

// StatusSource fornece os campos de system_status que não estão no armazenamento
type StatusSource interface {
	FPS() int
	Threshold() float64
}

// Feed empurra dados do armazenamento para os assinantes do hub
type Feed struct {
	hub     *Hub
	store   *store.SignalStore
	status  StatusSource
	rate    int
	started time.Time

	lastFrame uint64
	ticks     uint64
}

// NewFeed cria o feed com a taxa informada (<= 0 usa 60 Hz)
func NewFeed(hub *Hub, st *store.SignalStore, status StatusSource, rate int) *Feed {
	if rate <= 0 {
		rate = DefaultFeedRate
	}
	return &Feed{
		hub:     hub,
		store:   st,
		status:  status,
		rate:    rate,
		started: time.Now(),
	}
}

// Run executa o feed até o contexto ser cancelado
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(f.rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Tick()
		}
	}
}

// Tick executa uma iteração do feed: realtime_data quando há frame novo e
// system_status a cada 60 iterações
func (f *Feed) Tick() {
	f.ticks++
	if f.hub.Count() == 0 {
		return
	}

	snapshot := f.store.Snapshot()
	if snapshot.FrameCount != f.lastFrame && f.hub.HasSubscribers(models.MsgRealtimeData) {
		f.lastFrame = snapshot.FrameCount
		var roi *models.RoiFrame
		if snapshot.RoiConfigured {
			if latest, ok := f.store.LatestRoiFrame(); ok {
				roi = &latest
			}
		}
		f.hub.Broadcast(models.MsgRealtimeData, NewRealtimeData(snapshot, roi), nil)
	}

	if f.ticks%statusEvery == 0 {
		f.hub.Broadcast(models.MsgSystemStatus, f.statusData(snapshot), nil)
	}
}

func (f *Feed) statusData(snapshot models.StatusSnapshot) models.SystemStatusData {
	data := models.SystemStatusData{
		StatusSnapshot: snapshot,
		Subscribers:    f.hub.Count(),
		Uptime:         utils.FormatDuration(time.Since(f.started)),
	}
	if f.status != nil {
		data.FPS = f.status.FPS()
		data.Threshold = f.status.Threshold()
	}
	return data
}

// OnTick é registrado como ResultHandler da aquisição e publica cada pico emitido
func (f *Feed) OnTick(tick acquisition.Tick) {
	if tick.Result.Region == nil {
		return
	}
	f.hub.Broadcast(models.MsgPeakDetected, tick.Result.Region, nil)
}
