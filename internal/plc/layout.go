package plc

import (
	"newfem_go/internal/models"
	"newfem_go/pkg/utils"
)

// Layout do DB de saída (big-endian, tipos S7):
//
//	0  INT   sinal de pico (0/1, -1 sem decisão)
//	2  INT   cor (0 nenhuma, 1 verde, 2 vermelho)
//	4  REAL  confiança
//	8  REAL  limiar dinâmico
//	12 DINT  contador de frames
//	16 INT   heartbeat (incrementa a cada escrita)
//
// Byte 18, bit 0: habilitação da aquisição, escrito pelo PLC.
const (
	outputSize     = 18
	controlOffset  = 18
	enableBitIndex = 0
)

// Output é o conteúdo do DB de saída
type Output struct {
	PeakSignal int16   `json:"peak_signal"`
	Color      int16   `json:"color"`
	Confidence float32 `json:"confidence"`
	Threshold  float32 `json:"threshold"`
	FrameCount int32   `json:"frame_count"`
	Heartbeat  int16   `json:"heartbeat"`
}

// NewOutput converte um resultado de detecção para o layout do PLC
func NewOutput(frame models.Frame, result models.DetectionResult) Output {
	out := Output{
		PeakSignal: -1,
		Color:      colorCode(result.Color),
		Confidence: float32(result.Confidence),
		Threshold:  float32(result.Threshold),
		FrameCount: int32(frame.Index),
	}
	if result.PeakSignal != nil {
		out.PeakSignal = int16(*result.PeakSignal)
	}
	return out
}

// Encode serializa a saída no layout do DB
func (o Output) Encode() []byte {
	buf := make([]byte, 0, outputSize)
	buf = append(buf, utils.Int16ToBytes(o.PeakSignal)...)
	buf = append(buf, utils.Int16ToBytes(o.Color)...)
	buf = append(buf, utils.Float32ToBytes(o.Confidence)...)
	buf = append(buf, utils.Float32ToBytes(o.Threshold)...)
	buf = append(buf, utils.IntToBytes(int(o.FrameCount))...)
	buf = append(buf, utils.Int16ToBytes(o.Heartbeat)...)
	return buf
}

// DecodeOutput é o inverso de Encode
func DecodeOutput(buf []byte) Output {
	if len(buf) < outputSize {
		return Output{}
	}
	return Output{
		PeakSignal: utils.BytesToInt16(buf[0:2]),
		Color:      utils.BytesToInt16(buf[2:4]),
		Confidence: utils.BytesToFloat32(buf[4:8]),
		Threshold:  utils.BytesToFloat32(buf[8:12]),
		FrameCount: int32(utils.BytesToInt(buf[12:16])),
		Heartbeat:  utils.BytesToInt16(buf[16:18]),
	}
}

func colorCode(c models.PeakColor) int16 {
	switch c {
	case models.ColorGreen:
		return 1
	case models.ColorRed:
		return 2
	default:
		return 0
	}
}
