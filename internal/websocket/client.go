package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"newfem_go/pkg/logger"
)

const (
	// Tempo permitido para escrever uma mensagem para o peer.
	writeWait = 10 * time.Second

	// Tamanho máximo da mensagem permitido.
	maxMessageSize = 64 * 1024

	// Tamanho do buffer de canal para mensagens de saída.
	sendBufferSize = 256
)

var (
	errSendBufferFull = errors.New("buffer de envio cheio")
	errClientClosed   = errors.New("conexão encerrada")
)

// Client é o Peer sobre uma conexão gorilla/websocket
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   uuid.UUID

	// Buffer de mensagens para envio.
	send chan []byte

	mu     sync.Mutex
	closed bool

	userAgent string
}

func newClient(hub *Hub, conn *websocket.Conn, userAgent string) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		userAgent: userAgent,
	}
}

// Send enfileira a mensagem sem bloquear
func (c *Client) Send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- message:
		return nil
	default:
		return errSendBufferFull
	}
}

// Ping envia um frame de controle ping; WriteControl pode ser chamado
// concorrentemente com o writePump
func (c *Client) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close fecha o canal de envio; o writePump envia o frame de fechamento
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	return nil
}

// readPump bombeia mensagens do WebSocket para o hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Remove(c.id, reasonDisconnected)
		c.conn.Close()
	}()

	pongWait := c.hub.PongTimeout()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.hub.MarkPong(c.id)
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				logger.Errorf("Erro de leitura WebSocket: %v", err)
			}
			break
		}
		c.hub.HandleInbound(ctx, c.id, message)
	}
}

// writePump bombeia mensagens do hub para a conexão WebSocket.
// Cada envelope segue num frame de texto próprio.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	// O hub fechou o canal.
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
