package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"newfem_go/pkg/logger"
)

// Código de fechamento enviado quando o limite de clientes é atingido
const closeTryAgainLater = 1013

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// Handler faz o upgrade HTTP e registra o cliente no hub
type Handler struct {
	hub *Hub
}

// NewHandler cria um novo gerenciador de WebSocket
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP implementa a interface http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("Erro ao fazer upgrade para WebSocket: %v", err)
		return
	}

	ipAddress := getIPAddress(r)
	client := newClient(h.hub, conn, r.UserAgent())

	sub, err := h.hub.Accept(client, ipAddress)
	if err != nil {
		if errors.Is(err, ErrCapacity) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeTryAgainLater, "Server overloaded"),
				time.Now().Add(writeWait))
		}
		conn.Close()
		return
	}
	client.id = sub.ID

	logger.Debugf("Conexão WebSocket de %s (%s) registrada como %s", ipAddress, client.userAgent, sub.ID)

	go client.writePump()
	go client.readPump()
}

// checkOrigin aceita todas as origens; o painel roda em outra porta
func checkOrigin(r *http.Request) bool {
	return true
}

// getIPAddress extrai o endereço IP do cliente
func getIPAddress(r *http.Request) string {
	ipAddress := r.Header.Get("X-Real-IP")
	if ipAddress == "" {
		ipAddress = r.Header.Get("X-Forwarded-For")
	}
	if ipAddress == "" {
		ipAddress = r.RemoteAddr
	}
	return ipAddress
}

// GetHealthHandler retorna um handler para verificação de saúde do WebSocket
func (h *Handler) GetHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		status := struct {
			Status    string    `json:"status"`
			Clients   int       `json:"clients"`
			Timestamp time.Time `json:"timestamp"`
		}{
			Status:    "ok",
			Clients:   h.hub.Count(),
			Timestamp: time.Now(),
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}
