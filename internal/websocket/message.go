package websocket

import (
	"encoding/json"

	"newfem_go/internal/models"
)

// encodeEnvelope serializa um envelope de saída
func encodeEnvelope(env models.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeEnvelope decodifica um envelope de saída; usado por clientes e testes
func DecodeEnvelope(raw []byte) (models.Envelope, error) {
	var env models.Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

// NewRealtimeData monta o payload de realtime_data a partir de um snapshot
func NewRealtimeData(snapshot models.StatusSnapshot, roi *models.RoiFrame) models.RealtimeData {
	data := models.RealtimeData{
		FrameCount: snapshot.FrameCount,
		Value:      snapshot.CurrentValue,
		Baseline:   snapshot.Baseline,
		PeakSignal: snapshot.PeakSignal,
	}
	if roi != nil {
		gray := roi.GrayValue
		data.RoiGray = &gray
	}
	return data
}
