package websocket

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"newfem_go/internal/metrics"
	"newfem_go/internal/models"
	"newfem_go/internal/timeutil"
	"newfem_go/pkg/logger"
)

const (
	DefaultMaxClients        = 10
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultPongTimeout       = 30 * time.Second
)

var (
	// ErrCapacity é retornado quando o número máximo de assinantes foi atingido
	ErrCapacity = errors.New("número máximo de clientes atingido")
	// ErrNotAuthenticated é retornado para operações de assinante não autenticado
	ErrNotAuthenticated = errors.New("autenticação necessária")
	// ErrUnknownSubscriber é retornado quando o id não está registrado
	ErrUnknownSubscriber = errors.New("assinante desconhecido")
)

// Motivos de remoção usados em logs e métricas
const (
	reasonDisconnected = "disconnected"
	reasonSendFailed   = "send_failed"
	reasonTimeout      = "timeout"
	reasonShutdown     = "shutdown"
)

// Peer é a conexão de um assinante. Send não deve bloquear.
type Peer interface {
	Send(message []byte) error
	Ping() error
	Close() error
}

// Controller executa comandos de controle recebidos pelo canal
type Controller interface {
	HandleControl(ctx context.Context, command string) models.ControlResponseData
}

// Predicate filtra destinatários de um broadcast
type Predicate func(info SubscriberInfo) bool

// Subscriber é uma conexão registrada no hub
type Subscriber struct {
	ID            uuid.UUID
	peer          Peer
	remoteAddr    string
	authenticated bool
	topics        map[models.MessageType]bool
	lastPong      time.Time
	connectedAt   time.Time
}

// SubscriberInfo é uma cópia imutável do estado de um assinante
type SubscriberInfo struct {
	ID            string               `json:"id"`
	RemoteAddr    string               `json:"remote_addr"`
	Authenticated bool                 `json:"authenticated"`
	Topics        []models.MessageType `json:"topics"`
	LastPong      time.Time            `json:"last_pong"`
	ConnectedAt   time.Time            `json:"connected_at"`
}

func (s *Subscriber) info() SubscriberInfo {
	topics := make([]models.MessageType, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return SubscriberInfo{
		ID:            s.ID.String(),
		RemoteAddr:    s.remoteAddr,
		Authenticated: s.authenticated,
		Topics:        topics,
		LastPong:      s.lastPong,
		ConnectedAt:   s.connectedAt,
	}
}

// Options configura o hub
type Options struct {
	MaxClients        int
	Password          string // vazio dispensa autenticação
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	Clock             timeutil.Clock
	Metrics           *metrics.Metrics
}

// Hub gerencia os assinantes, a distribuição de mensagens e o heartbeat
type Hub struct {
	opts  Options
	clock timeutil.Clock

	mu          sync.RWMutex
	subscribers map[uuid.UUID]*Subscriber

	controller Controller
	sequence   atomic.Uint64

	// Estatísticas
	stats struct {
		totalMessages atomic.Int64
		totalClients  atomic.Int64
		rejected      atomic.Int64
		evicted       atomic.Int64
	}
}

// NewHub cria um hub vazio
func NewHub(opts Options) *Hub {
	if opts.MaxClients <= 0 {
		opts.MaxClients = DefaultMaxClients
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = DefaultPongTimeout
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Hub{
		opts:        opts,
		clock:       opts.Clock,
		subscribers: make(map[uuid.UUID]*Subscriber),
	}
}

// SetController define quem executa os comandos de controle
func (h *Hub) SetController(c Controller) {
	h.mu.Lock()
	h.controller = c
	h.mu.Unlock()
}

// AuthRequired indica se há senha configurada
func (h *Hub) AuthRequired() bool {
	return h.opts.Password != ""
}

// PongTimeout retorna o prazo de liveness dos assinantes
func (h *Hub) PongTimeout() time.Duration {
	return h.opts.PongTimeout
}

// Run executa o heartbeat e as estatísticas periódicas até o contexto ser cancelado
func (h *Hub) Run(ctx context.Context) {
	logger.Info("Iniciando WebSocket Hub")

	heartbeat := h.clock.NewTicker(h.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	statsTicker := time.NewTicker(time.Minute)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Encerrando WebSocket Hub")
			h.closeAll()
			return
		case <-heartbeat.C():
			h.CheckHeartbeats()
		case <-statsTicker.C:
			logger.Infof("Estatísticas WebSocket: %d clientes, %d mensagens, %d rejeitados, %d expirados",
				h.Count(), h.stats.totalMessages.Load(), h.stats.rejected.Load(), h.stats.evicted.Load())
		}
	}
}

// Accept registra uma nova conexão. Acima de MaxClients retorna ErrCapacity
// e a conexão não é registrada.
func (h *Hub) Accept(peer Peer, remoteAddr string) (*Subscriber, error) {
	now := h.clock.Now()

	h.mu.Lock()
	if len(h.subscribers) >= h.opts.MaxClients {
		h.mu.Unlock()
		h.stats.rejected.Add(1)
		logger.Warnf("Conexão de %s rejeitada: limite de %d clientes", remoteAddr, h.opts.MaxClients)
		return nil, fmt.Errorf("%w (%d)", ErrCapacity, h.opts.MaxClients)
	}
	sub := &Subscriber{
		ID:            uuid.New(),
		peer:          peer,
		remoteAddr:    remoteAddr,
		authenticated: !h.AuthRequired(),
		topics:        make(map[models.MessageType]bool),
		lastPong:      now,
		connectedAt:   now,
	}
	h.subscribers[sub.ID] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	h.stats.totalClients.Add(1)
	logger.Infof("Novo cliente WebSocket conectado. ID: %s. Total: %d", sub.ID, count)

	h.sendTo(sub.ID, models.MsgConnectionEstablished, models.ConnectionEstablishedData{
		ClientID:     sub.ID.String(),
		ServerTime:   now.Unix(),
		AuthRequired: h.AuthRequired(),
	})
	return sub, nil
}

// Remove desregistra e fecha a conexão do assinante
func (h *Hub) Remove(id uuid.UUID, reason string) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.peer.Close()
	h.opts.Metrics.ObserveRemoval(reason)
	logger.Infof("Cliente WebSocket removido (%s). ID: %s. Total: %d", reason, id, count)
}

// Authenticate valida a senha do assinante e responde com auth_success ou auth_error
func (h *Hub) Authenticate(id uuid.UUID, password string) (bool, error) {
	ok := !h.AuthRequired() ||
		subtle.ConstantTimeCompare([]byte(password), []byte(h.opts.Password)) == 1

	h.mu.Lock()
	sub, found := h.subscribers[id]
	if found && ok {
		sub.authenticated = true
	}
	h.mu.Unlock()

	if !found {
		return false, ErrUnknownSubscriber
	}
	if ok {
		h.sendTo(id, models.MsgAuthSuccess, models.MessageData{Message: "Autenticado"})
	} else {
		logger.Warnf("Falha de autenticação do cliente %s", id)
		h.sendTo(id, models.MsgAuthError, models.MessageData{Message: "Senha inválida"})
	}
	return ok, nil
}

// Subscribe adiciona tópicos à assinatura; tópicos desconhecidos são ignorados
func (h *Hub) Subscribe(id uuid.UUID, topics []models.MessageType) ([]models.MessageType, error) {
	return h.updateTopics(id, topics, true)
}

// Unsubscribe remove tópicos da assinatura
func (h *Hub) Unsubscribe(id uuid.UUID, topics []models.MessageType) ([]models.MessageType, error) {
	return h.updateTopics(id, topics, false)
}

func (h *Hub) updateTopics(id uuid.UUID, topics []models.MessageType, add bool) ([]models.MessageType, error) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if !ok {
		h.mu.Unlock()
		return nil, ErrUnknownSubscriber
	}
	if !sub.authenticated {
		h.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	for _, t := range topics {
		if !isTopic(t) {
			continue
		}
		if add {
			sub.topics[t] = true
		} else {
			delete(sub.topics, t)
		}
	}
	current := sub.info().Topics
	h.mu.Unlock()

	h.sendTo(id, models.MsgSubscribed, models.SubscribedData{Topics: current})
	return current, nil
}

// MarkPong registra sinal de vida do assinante
func (h *Hub) MarkPong(id uuid.UUID) {
	now := h.clock.Now()
	h.mu.Lock()
	if sub, ok := h.subscribers[id]; ok {
		sub.lastPong = now
	}
	h.mu.Unlock()
}

// Broadcast envia a mensagem a todo assinante autenticado inscrito no tópico
// (e que satisfaça o predicado, se houver). Assinantes cujo envio falha são
// removidos. Retorna o número de entregas.
func (h *Hub) Broadcast(topic models.MessageType, payload interface{}, predicate Predicate) int {
	type target struct {
		id   uuid.UUID
		peer Peer
	}

	h.mu.RLock()
	targets := make([]target, 0, len(h.subscribers))
	for id, sub := range h.subscribers {
		if !sub.authenticated || !sub.topics[topic] {
			continue
		}
		if predicate != nil && !predicate(sub.info()) {
			continue
		}
		targets = append(targets, target{id: id, peer: sub.peer})
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	message, err := h.encode(topic, payload)
	if err != nil {
		logger.Error("Erro ao serializar mensagem de broadcast", err)
		return 0
	}

	delivered := 0
	for _, t := range targets {
		if err := safeSend(t.peer, message); err != nil {
			logger.Warnf("Falha ao enviar %s para %s: %v", topic, t.id, err)
			h.Remove(t.id, reasonSendFailed)
			continue
		}
		delivered++
		h.opts.Metrics.ObserveMessage(topic)
	}
	h.stats.totalMessages.Add(int64(delivered))
	return delivered
}

// HandleInbound processa uma mensagem recebida de um assinante
func (h *Hub) HandleInbound(ctx context.Context, id uuid.UUID, raw []byte) {
	msg, err := models.DecodeInbound(raw)
	if err != nil {
		h.sendError(id, err.Error())
		return
	}

	h.mu.RLock()
	sub, ok := h.subscribers[id]
	authenticated := ok && sub.authenticated
	controller := h.controller
	h.mu.RUnlock()
	if !ok {
		return
	}

	if !authenticated {
		switch msg.(type) {
		case models.AuthMessage, models.PingMessage, models.PongMessage:
		default:
			h.sendError(id, "Authentication required")
			return
		}
	}

	switch m := msg.(type) {
	case models.AuthMessage:
		h.Authenticate(id, m.Password)
	case models.SubscribeMessage:
		if _, err := h.Subscribe(id, m.Topics); err != nil {
			h.sendError(id, err.Error())
		}
	case models.UnsubscribeMessage:
		if _, err := h.Unsubscribe(id, m.Topics); err != nil {
			h.sendError(id, err.Error())
		}
	case models.PingMessage:
		h.sendTo(id, models.MsgPong, nil)
	case models.PongMessage:
		// apenas pong renova o prazo do heartbeat
		h.MarkPong(id)
	case models.ControlMessage:
		if controller == nil {
			h.sendError(id, "Controle indisponível")
			return
		}
		resp := controller.HandleControl(ctx, m.Command)
		resp.ID = m.ID
		if resp.ID == "" {
			resp.ID = uuid.NewString()
		}
		h.sendTo(id, models.MsgControlResponse, resp)
	}
}

// CheckHeartbeats remove assinantes sem pong dentro do prazo e envia ping
// aos demais
func (h *Hub) CheckHeartbeats() {
	now := h.clock.Now()

	type target struct {
		id   uuid.UUID
		peer Peer
	}
	var expired, alive []target

	h.mu.RLock()
	for id, sub := range h.subscribers {
		if now.Sub(sub.lastPong) > h.opts.PongTimeout {
			expired = append(expired, target{id, sub.peer})
		} else {
			alive = append(alive, target{id, sub.peer})
		}
	}
	h.mu.RUnlock()

	for _, t := range expired {
		h.stats.evicted.Add(1)
		logger.Warnf("Cliente %s sem resposta há mais de %v", t.id, h.opts.PongTimeout)
		h.Remove(t.id, reasonTimeout)
	}
	for _, t := range alive {
		if err := safePing(t.peer); err != nil {
			h.Remove(t.id, reasonSendFailed)
		}
	}
}

// Count retorna o número de assinantes registrados
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Subscribers retorna cópias do estado de todos os assinantes
func (h *Hub) Subscribers() []SubscriberInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	infos := make([]SubscriberInfo, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		infos = append(infos, sub.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectedAt.Before(infos[j].ConnectedAt) })
	return infos
}

// HasSubscribers indica se algum assinante autenticado está inscrito no tópico
func (h *Hub) HasSubscribers(topic models.MessageType) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		if sub.authenticated && sub.topics[topic] {
			return true
		}
	}
	return false
}

// sendTo envia uma mensagem a um único assinante, removendo-o em caso de falha
func (h *Hub) sendTo(id uuid.UUID, msgType models.MessageType, payload interface{}) error {
	h.mu.RLock()
	sub, ok := h.subscribers[id]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownSubscriber
	}

	message, err := h.encode(msgType, payload)
	if err != nil {
		return err
	}
	if err := safeSend(sub.peer, message); err != nil {
		h.Remove(id, reasonSendFailed)
		return err
	}
	h.opts.Metrics.ObserveMessage(msgType)
	h.stats.totalMessages.Add(1)
	return nil
}

func (h *Hub) sendError(id uuid.UUID, message string) {
	h.sendTo(id, models.MsgError, models.MessageData{Message: message})
}

// encode monta o envelope com o próximo número de sequência
func (h *Hub) encode(msgType models.MessageType, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return encodeEnvelope(models.Envelope{
		Type:      msgType,
		Timestamp: models.UnixSeconds(h.clock.Now()),
		Sequence:  h.sequence.Add(1),
		Data:      data,
	})
}

// closeAll fecha todas as conexões
func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[uuid.UUID]*Subscriber)
	h.mu.Unlock()

	logger.Info("Fechando todas as conexões de clientes WebSocket")
	for _, sub := range subs {
		sub.peer.Close()
		h.opts.Metrics.ObserveRemoval(reasonShutdown)
	}
}

// safeSend isola falhas inesperadas de um peer
func safeSend(peer Peer, message []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("falha no envio: %v", r)
		}
	}()
	return peer.Send(message)
}

func safePing(peer Peer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("falha no ping: %v", r)
		}
	}()
	return peer.Ping()
}

func isTopic(t models.MessageType) bool {
	for _, topic := range models.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
