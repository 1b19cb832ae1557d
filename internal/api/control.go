package api

import (
	"context"
	"errors"
	"strings"

	"newfem_go/internal/models"
	"newfem_go/internal/store"
	"newfem_go/pkg/logger"
)

// Comandos aceitos por POST /control e pela mensagem control do WebSocket
const (
	CmdPeakSignal      = "PEAK_SIGNAL"
	CmdStatus          = "STATUS"
	CmdStartDetection  = "START_DETECTION"
	CmdStopDetection   = "STOP_DETECTION"
	CmdPauseDetection  = "PAUSE_DETECTION"
	CmdResumeDetection = "RESUME_DETECTION"
)

var (
	// ErrUnknownCommand indica um comando fora da lista suportada
	ErrUnknownCommand = errors.New("comando não suportado")
	// ErrRoiNotConfigured impede iniciar a detecção sem ROI
	ErrRoiNotConfigured = errors.New("ROI deve ser configurada antes de iniciar a detecção")
)

// Acquisition é o subconjunto do laço de aquisição usado pelo controle
type Acquisition interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// ControlResult é o resultado de um comando executado
type ControlResult struct {
	Command    string
	Message    string
	Snapshot   models.StatusSnapshot
	PeakSignal *int
	Clients    int
}

// ControlService executa os comandos de controle. É compartilhado entre a
// API REST e o hub WebSocket.
type ControlService struct {
	store       *store.SignalStore
	acquisition Acquisition
	clients     ClientCounter
}

// NewControlService cria o executor de comandos
func NewControlService(st *store.SignalStore, acq Acquisition, clients ClientCounter) *ControlService {
	return &ControlService{
		store:       st,
		acquisition: acq,
		clients:     clients,
	}
}

// Execute aplica um comando. O nome é normalizado para maiúsculas.
func (c *ControlService) Execute(command string) (ControlResult, error) {
	cmd := strings.ToUpper(strings.TrimSpace(command))
	result := ControlResult{Command: cmd}

	switch cmd {
	case CmdPeakSignal, CmdStatus:
		result.Message = "ok"

	case CmdStartDetection:
		if _, configured := c.store.RoiConfig(); !configured {
			return result, ErrRoiNotConfigured
		}
		if err := c.acquisition.Start(); err != nil {
			return result, err
		}
		result.Message = "Detecção iniciada"

	case CmdStopDetection, CmdPauseDetection:
		if err := c.acquisition.Stop(); err != nil {
			return result, err
		}
		if cmd == CmdPauseDetection {
			result.Message = "Detecção pausada"
		} else {
			result.Message = "Detecção parada"
		}

	case CmdResumeDetection:
		if err := c.acquisition.Start(); err != nil {
			return result, err
		}
		result.Message = "Detecção retomada"

	default:
		return result, ErrUnknownCommand
	}

	result.Snapshot = c.store.Snapshot()
	result.PeakSignal = result.Snapshot.PeakSignal
	if c.clients != nil {
		result.Clients = c.clients.Count()
	}
	logger.Infof("Comando de controle executado: %s (status=%s)", cmd, result.Snapshot.Status)
	return result, nil
}

// HandleControl atende a mensagem control recebida pelo WebSocket
func (c *ControlService) HandleControl(_ context.Context, command string) models.ControlResponseData {
	result, err := c.Execute(command)
	resp := models.ControlResponseData{
		Command: result.Command,
		Success: err == nil,
		Message: result.Message,
		Status:  c.store.Status(),
	}
	if err != nil {
		resp.Message = err.Error()
	}
	return resp
}
