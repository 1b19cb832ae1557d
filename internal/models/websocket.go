package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifica o tipo de uma mensagem WebSocket
type MessageType string

// Mensagens recebidas do cliente
const (
	MsgAuth        MessageType = "auth"
	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"
	MsgPing        MessageType = "ping"
	MsgPong        MessageType = "pong"
	MsgControl     MessageType = "control"
)

// Mensagens enviadas pelo servidor
const (
	MsgConnectionEstablished MessageType = "connection_established"
	MsgAuthSuccess           MessageType = "auth_success"
	MsgAuthError             MessageType = "auth_error"
	MsgSubscribed            MessageType = "subscribed"
	MsgRealtimeData          MessageType = "realtime_data"
	MsgPeakDetected          MessageType = "peak_detected"
	MsgSystemStatus          MessageType = "system_status"
	MsgControlResponse       MessageType = "control_response"
	MsgError                 MessageType = "error"
)

// Topics aceitos em subscribe
var Topics = []MessageType{MsgRealtimeData, MsgPeakDetected, MsgSystemStatus}

// Envelope é a estrutura comum de todas as mensagens
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp float64         `json:"timestamp"` // segundos Unix
	Sequence  uint64          `json:"sequence"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// UnixSeconds converte um instante para o formato de timestamp do envelope
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// ErrUnknownMessage é retornado para tipos de mensagem fora do protocolo
var ErrUnknownMessage = errors.New("tipo de mensagem desconhecido")

// InboundMessage é a união fechada das mensagens aceitas do cliente
type InboundMessage interface {
	Kind() MessageType
}

// AuthMessage solicita autenticação
type AuthMessage struct {
	Password string `json:"password"`
}

// SubscribeMessage adiciona tópicos à assinatura
type SubscribeMessage struct {
	Topics []MessageType `json:"topics"`
}

// UnsubscribeMessage remove tópicos da assinatura
type UnsubscribeMessage struct {
	Topics []MessageType `json:"topics"`
}

// PingMessage é um ping de aplicação enviado pelo cliente
type PingMessage struct{}

// PongMessage responde a um ping do servidor
type PongMessage struct{}

// ControlMessage encaminha um comando de controle
type ControlMessage struct {
	Command string `json:"command"`
	ID      string `json:"id,omitempty"`
}

func (AuthMessage) Kind() MessageType        { return MsgAuth }
func (SubscribeMessage) Kind() MessageType   { return MsgSubscribe }
func (UnsubscribeMessage) Kind() MessageType { return MsgUnsubscribe }
func (PingMessage) Kind() MessageType        { return MsgPing }
func (PongMessage) Kind() MessageType        { return MsgPong }
func (ControlMessage) Kind() MessageType     { return MsgControl }

// DecodeInbound decodifica o envelope e o payload em um tipo fixo
func DecodeInbound(raw []byte) (InboundMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("formato de mensagem inválido: %w", err)
	}

	var msg InboundMessage
	switch env.Type {
	case MsgAuth:
		m := AuthMessage{}
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		msg = m
	case MsgSubscribe:
		m := SubscribeMessage{}
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		msg = m
	case MsgUnsubscribe:
		m := UnsubscribeMessage{}
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		msg = m
	case MsgPing:
		msg = PingMessage{}
	case MsgPong:
		msg = PongMessage{}
	case MsgControl:
		m := ControlMessage{}
		if err := decodeData(env.Data, &m); err != nil {
			return nil, err
		}
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	return msg, nil
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("payload inválido: %w", err)
	}
	return nil
}

// ConnectionEstablishedData é enviado logo após a conexão
type ConnectionEstablishedData struct {
	ClientID     string `json:"client_id"`
	ServerTime   int64  `json:"server_time"`
	AuthRequired bool   `json:"auth_required"`
}

// MessageData é um payload com mensagem textual
type MessageData struct {
	Message string `json:"message"`
}

// SubscribedData confirma a assinatura atual
type SubscribedData struct {
	Topics []MessageType `json:"topics"`
}

// RealtimeData é o payload de realtime_data
type RealtimeData struct {
	FrameCount uint64   `json:"frame_count"`
	Value      float64  `json:"value"`
	Baseline   float64  `json:"baseline"`
	PeakSignal *int     `json:"peak_signal"`
	RoiGray    *float64 `json:"roi_gray,omitempty"`
}

// SystemStatusData é o payload de system_status
type SystemStatusData struct {
	StatusSnapshot
	Subscribers int     `json:"subscribers"`
	FPS         int     `json:"fps"`
	Uptime      string  `json:"uptime"`
	Threshold   float64 `json:"threshold"`
}

// ControlResponseData responde a um comando de controle
type ControlResponseData struct {
	ID      string       `json:"id,omitempty"`
	Command string       `json:"command"`
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Status  SystemStatus `json:"status,omitempty"`
}
