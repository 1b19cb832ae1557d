// Package plc publica o último resultado de detecção num DB de um PLC
// Siemens S7 e lê dele o bit de habilitação da aquisição.
package plc

import (
	"context"
	"sync"
	"time"

	"newfem_go/internal/acquisition"
	"newfem_go/internal/config"
	"newfem_go/pkg/logger"
	"newfem_go/pkg/utils"
)

// AcquisitionControl é o que o PLC pode comandar
type AcquisitionControl interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// PLCService gerencia a comunicação com o PLC
type PLCService struct {
	client          BlockIO
	config          config.PLCConfig
	acquisition     AcquisitionControl
	ctx             context.Context
	cancel          context.CancelFunc
	updateFrequency time.Duration
	mutex           sync.RWMutex
	running         bool

	// estado acumulado entre duas escritas; um pico dura um único tick e
	// o PLC é atualizado em intervalos maiores
	pendingLock sync.Mutex
	pending     Output
	peakLatched bool
	hasData     bool
	heartbeat   int16

	lastEnable *bool
	lastError  error
}

// Status resume o estado do serviço para o endpoint /info
type Status struct {
	Running    bool    `json:"running"`
	Connected  bool    `json:"connected"`
	DBNumber   int     `json:"db_number"`
	LastOutput *Output `json:"last_output,omitempty"`
	LastError  string  `json:"last_error,omitempty"`
}

// NewPLCService cria um novo serviço de PLC
func NewPLCService(cfg config.PLCConfig, acq AcquisitionControl) *PLCService {
	return newService(cfg, NewS7Client(cfg), acq)
}

func newService(cfg config.PLCConfig, client BlockIO, acq AcquisitionControl) *PLCService {
	ctx, cancel := context.WithCancel(context.Background())
	freq := cfg.UpdateRate
	if freq <= 0 {
		freq = 500 * time.Millisecond
	}
	return &PLCService{
		client:          client,
		config:          cfg,
		acquisition:     acq,
		ctx:             ctx,
		cancel:          cancel,
		updateFrequency: freq,
	}
}

// Start inicia o serviço de comunicação com o PLC. Falha de conexão inicial
// não impede o início; o laço tenta reconectar.
func (s *PLCService) Start() error {
	if !s.config.Enabled {
		logger.Info("Serviço PLC desabilitado por configuração")
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return nil
	}

	if err := s.client.Connect(); err != nil {
		logger.Warnf("PLC indisponível no início (%v). Tentando novamente no ciclo de atualização.", err)
	}

	go s.runUpdateLoop()

	s.running = true
	logger.Infof("Serviço PLC iniciado (DB%d, ciclo %v)", s.config.DBNumber, s.updateFrequency)
	return nil
}

// Stop para o serviço de comunicação com o PLC
func (s *PLCService) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.client.Disconnect()
	s.running = false
	logger.Info("Serviço PLC parado")
}

// IsRunning verifica se o serviço está em execução
func (s *PLCService) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// OnTick é registrado como ResultHandler da aquisição
func (s *PLCService) OnTick(tick acquisition.Tick) {
	if !s.config.Enabled {
		return
	}

	out := NewOutput(tick.Frame, tick.Result)

	s.pendingLock.Lock()
	defer s.pendingLock.Unlock()

	s.hasData = true
	if tick.Result.Region != nil {
		s.peakLatched = true
		s.pending = out
		return
	}
	// sem pico: atualiza apenas contador e limiar, preservando o último pico
	s.pending.FrameCount = out.FrameCount
	s.pending.Threshold = out.Threshold
	if !s.peakLatched {
		s.pending.PeakSignal = out.PeakSignal
	}
}

// runUpdateLoop executa o loop de atualização contínua para o PLC
func (s *PLCService) runUpdateLoop() {
	ticker := time.NewTicker(s.updateFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sync()
		}
	}
}

// sync escreve a saída pendente e aplica o bit de habilitação
func (s *PLCService) sync() {
	err := s.writeOutput()
	if err != nil {
		logger.Error("Falha ao escrever resultado no PLC", err)
	} else if err = s.applyEnableBit(); err != nil {
		logger.Error("Falha ao ler habilitação do PLC", err)
	}

	s.mutex.Lock()
	s.lastError = err
	s.mutex.Unlock()
}

func (s *PLCService) writeOutput() error {
	s.pendingLock.Lock()
	if !s.hasData {
		s.pendingLock.Unlock()
		return nil
	}
	s.heartbeat++
	out := s.pending
	out.Heartbeat = s.heartbeat
	s.peakLatched = false
	s.pending.PeakSignal = 0
	s.pendingLock.Unlock()

	return s.client.WriteDataBlock(s.config.DBNumber, 0, out.Encode())
}

// applyEnableBit inicia ou para a aquisição nas transições do bit
func (s *PLCService) applyEnableBit() error {
	if s.acquisition == nil {
		return nil
	}

	data, err := s.client.ReadDataBlock(s.config.DBNumber, controlOffset, 1)
	if err != nil {
		return err
	}
	enable := utils.GetBit(data[0], enableBitIndex)

	if s.lastEnable != nil && *s.lastEnable == enable {
		return nil
	}
	first := s.lastEnable == nil
	s.lastEnable = &enable

	// na primeira leitura só registra o estado, sem comandar
	if first {
		return nil
	}

	if enable && !s.acquisition.IsRunning() {
		logger.Info("PLC habilitou a aquisição")
		return s.acquisition.Start()
	}
	if !enable && s.acquisition.IsRunning() {
		logger.Info("PLC desabilitou a aquisição")
		return s.acquisition.Stop()
	}
	return nil
}

// LastOutput retorna a saída pendente; usada por Status
func (s *PLCService) LastOutput() (Output, bool) {
	s.pendingLock.Lock()
	defer s.pendingLock.Unlock()
	return s.pending, s.hasData
}

// Status retorna o estado atual da comunicação
func (s *PLCService) Status() Status {
	st := Status{
		Running:   s.IsRunning(),
		Connected: s.client.IsConnected(),
		DBNumber:  s.config.DBNumber,
	}
	if out, ok := s.LastOutput(); ok {
		st.LastOutput = &out
	}

	s.mutex.RLock()
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	s.mutex.RUnlock()
	return st
}

// Shutdown encerra graciosamente o serviço
func (s *PLCService) Shutdown() {
	s.Stop()
}
