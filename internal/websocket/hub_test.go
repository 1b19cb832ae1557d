package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newfem_go/internal/acquisition"
	"newfem_go/internal/models"
	"newfem_go/internal/store"
	"newfem_go/internal/timeutil"
)

type fakePeer struct {
	mu       sync.Mutex
	messages []models.Envelope
	failSend bool
	pings    int
	closed   bool
}

func (p *fakePeer) Send(message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSend || p.closed {
		return errors.New("conexão perdida")
	}
	env, err := DecodeEnvelope(message)
	if err != nil {
		return err
	}
	p.messages = append(p.messages, env)
	return nil
}

func (p *fakePeer) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pings++
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) count(t models.MessageType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.messages {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (p *fakePeer) last() models.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[len(p.messages)-1]
}

func inbound(t *testing.T, msgType models.MessageType, data interface{}) []byte {
	t.Helper()
	env := map[string]interface{}{"type": msgType}
	if data != nil {
		env["data"] = data
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func newTestHub(clock timeutil.Clock) *Hub {
	return NewHub(Options{
		MaxClients:        2,
		Password:          "31415",
		HeartbeatInterval: 10 * time.Second,
		PongTimeout:       30 * time.Second,
		Clock:             clock,
	})
}

// connect aceita, autentica e inscreve um peer em todos os tópicos
func connect(t *testing.T, h *Hub) (*fakePeer, uuid.UUID) {
	t.Helper()
	peer := &fakePeer{}
	sub, err := h.Accept(peer, "127.0.0.1")
	require.NoError(t, err)
	ok, err := h.Authenticate(sub.ID, "31415")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = h.Subscribe(sub.ID, models.Topics)
	require.NoError(t, err)
	return peer, sub.ID
}

func TestAcceptSendsConnectionEstablished(t *testing.T) {
	h := newTestHub(nil)
	peer := &fakePeer{}
	sub, err := h.Accept(peer, "10.0.0.1")
	require.NoError(t, err)

	env := peer.last()
	assert.Equal(t, models.MsgConnectionEstablished, env.Type)

	var data models.ConnectionEstablishedData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, sub.ID.String(), data.ClientID)
	assert.True(t, data.AuthRequired)
}

func TestCapacityRejectsThirdConnection(t *testing.T) {
	h := newTestHub(nil)
	first, _ := connect(t, h)
	second, _ := connect(t, h)

	_, err := h.Accept(&fakePeer{}, "10.0.0.3")
	require.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, 2, h.Count())

	n := h.Broadcast(models.MsgRealtimeData, models.RealtimeData{FrameCount: 1}, nil)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, first.count(models.MsgRealtimeData))
	assert.Equal(t, 1, second.count(models.MsgRealtimeData))
}

func TestBroadcastRequiresAuthAndTopic(t *testing.T) {
	h := newTestHub(nil)

	anon := &fakePeer{}
	anonSub, err := h.Accept(anon, "10.0.0.1")
	require.NoError(t, err)
	_, err = h.Subscribe(anonSub.ID, models.Topics)
	require.ErrorIs(t, err, ErrNotAuthenticated)

	peer := &fakePeer{}
	sub, err := h.Accept(peer, "10.0.0.2")
	require.NoError(t, err)
	_, err = h.Authenticate(sub.ID, "31415")
	require.NoError(t, err)
	topics, err := h.Subscribe(sub.ID, []models.MessageType{models.MsgPeakDetected, "bogus"})
	require.NoError(t, err)
	assert.Equal(t, []models.MessageType{models.MsgPeakDetected}, topics)

	assert.Zero(t, h.Broadcast(models.MsgRealtimeData, models.RealtimeData{}, nil))
	assert.Equal(t, 1, h.Broadcast(models.MsgPeakDetected, models.PeakRegion{}, nil))
	assert.Zero(t, anon.count(models.MsgPeakDetected))
}

func TestBroadcastPredicate(t *testing.T) {
	h := newTestHub(nil)
	_, firstID := connect(t, h)
	second, _ := connect(t, h)

	n := h.Broadcast(models.MsgSystemStatus, models.SystemStatusData{}, func(info SubscriberInfo) bool {
		return info.ID != firstID.String()
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, second.count(models.MsgSystemStatus))
}

func TestBroadcastPrunesFailingSubscriber(t *testing.T) {
	h := newTestHub(nil)
	bad, _ := connect(t, h)
	good, _ := connect(t, h)

	bad.mu.Lock()
	bad.failSend = true
	bad.mu.Unlock()

	n := h.Broadcast(models.MsgRealtimeData, models.RealtimeData{}, nil)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.Count())
	assert.True(t, bad.closed)
	assert.Equal(t, 1, good.count(models.MsgRealtimeData))
}

func TestSequenceIsMonotonic(t *testing.T) {
	h := newTestHub(nil)
	peer, _ := connect(t, h)
	h.Broadcast(models.MsgRealtimeData, models.RealtimeData{}, nil)
	h.Broadcast(models.MsgRealtimeData, models.RealtimeData{}, nil)

	peer.mu.Lock()
	defer peer.mu.Unlock()
	for i := 1; i < len(peer.messages); i++ {
		assert.Greater(t, peer.messages[i].Sequence, peer.messages[i-1].Sequence)
	}
}

func TestHeartbeatEvictsSilentSubscriber(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h := newTestHub(clock)
	silent, silentID := connect(t, h)
	_, aliveID := connect(t, h)

	clock.Advance(20 * time.Second)
	h.MarkPong(aliveID)
	h.CheckHeartbeats()
	assert.Equal(t, 2, h.Count())

	clock.Advance(15 * time.Second)
	h.CheckHeartbeats()
	assert.Equal(t, 1, h.Count())
	assert.True(t, silent.closed)

	for _, info := range h.Subscribers() {
		assert.NotEqual(t, silentID.String(), info.ID)
	}
	assert.Equal(t, 1, h.Broadcast(models.MsgRealtimeData, models.RealtimeData{}, nil))
}

func TestHeartbeatIgnoresClientPings(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h := newTestHub(clock)
	chatty, chattyID := connect(t, h)
	_, answeringID := connect(t, h)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		clock.Advance(10 * time.Second)
		h.HandleInbound(ctx, chattyID, inbound(t, models.MsgPing, nil))
		h.HandleInbound(ctx, answeringID, inbound(t, models.MsgPong, nil))
		h.CheckHeartbeats()
	}

	// 40s sem pong: o ping do cliente não conta como resposta
	assert.Equal(t, 1, h.Count())
	assert.True(t, chatty.closed)
	for _, info := range h.Subscribers() {
		assert.Equal(t, answeringID.String(), info.ID)
	}
}

func TestHeartbeatPingsLiveSubscribers(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	h := newTestHub(clock)
	peer, _ := connect(t, h)

	h.CheckHeartbeats()
	assert.Equal(t, 1, peer.pings)
}

func TestRunEvictsOnHeartbeatTick(t *testing.T) {
	clock := timeutil.NewMockClock(time.Now())
	h := newTestHub(clock)
	connect(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	// o ticker do Run precisa existir antes de avançar o relógio
	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Second)
		return h.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestHandleInboundRequiresAuthentication(t *testing.T) {
	h := newTestHub(nil)
	peer := &fakePeer{}
	sub, err := h.Accept(peer, "10.0.0.1")
	require.NoError(t, err)
	ctx := context.Background()

	h.HandleInbound(ctx, sub.ID, inbound(t, models.MsgSubscribe, map[string]interface{}{"topics": []string{"realtime_data"}}))
	env := peer.last()
	require.Equal(t, models.MsgError, env.Type)
	var data models.MessageData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "Authentication required", data.Message)

	h.HandleInbound(ctx, sub.ID, inbound(t, models.MsgPing, nil))
	assert.Equal(t, models.MsgPong, peer.last().Type)

	h.HandleInbound(ctx, sub.ID, inbound(t, models.MsgAuth, map[string]string{"password": "errada"}))
	assert.Equal(t, models.MsgAuthError, peer.last().Type)

	h.HandleInbound(ctx, sub.ID, inbound(t, models.MsgAuth, map[string]string{"password": "31415"}))
	assert.Equal(t, models.MsgAuthSuccess, peer.last().Type)

	h.HandleInbound(ctx, sub.ID, inbound(t, models.MsgSubscribe, map[string]interface{}{"topics": []string{"realtime_data"}}))
	assert.Equal(t, models.MsgSubscribed, peer.last().Type)
	assert.True(t, h.HasSubscribers(models.MsgRealtimeData))
}

func TestHandleInboundUnknownType(t *testing.T) {
	h := newTestHub(nil)
	peer, id := connect(t, h)

	h.HandleInbound(context.Background(), id, []byte(`{"type":"launch"}`))
	assert.Equal(t, models.MsgError, peer.last().Type)
	assert.Equal(t, 1, h.Count())
}

type fakeController struct{ commands []string }

func (c *fakeController) HandleControl(_ context.Context, command string) models.ControlResponseData {
	c.commands = append(c.commands, command)
	return models.ControlResponseData{Command: command, Success: true, Status: models.StatusRunning}
}

func TestHandleInboundControl(t *testing.T) {
	h := newTestHub(nil)
	ctrl := &fakeController{}
	h.SetController(ctrl)
	peer, id := connect(t, h)
	other, _ := connect(t, h)

	h.HandleInbound(context.Background(), id, inbound(t, models.MsgControl, map[string]string{"command": "START_DETECTION", "id": "req-1"}))

	assert.Equal(t, []string{"START_DETECTION"}, ctrl.commands)
	env := peer.last()
	require.Equal(t, models.MsgControlResponse, env.Type)
	var resp models.ControlResponseData
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "req-1", resp.ID)
	assert.True(t, resp.Success)
	assert.Zero(t, other.count(models.MsgControlResponse))
}

func TestNoPasswordAuthenticatesOnAccept(t *testing.T) {
	h := NewHub(Options{})
	sub, err := h.Accept(&fakePeer{}, "10.0.0.1")
	require.NoError(t, err)
	_, err = h.Subscribe(sub.ID, []models.MessageType{models.MsgSystemStatus})
	assert.NoError(t, err)
}

type fixedStatus struct{}

func (fixedStatus) FPS() int           { return 60 }
func (fixedStatus) Threshold() float64 { return 105 }

func TestFeedPublishesRealtimeAndPeaks(t *testing.T) {
	h := newTestHub(nil)
	peer, _ := connect(t, h)
	st := store.New(store.Options{})
	feed := NewFeed(h, st, fixedStatus{}, 60)

	feed.Tick()
	assert.Zero(t, peer.count(models.MsgRealtimeData))

	st.AddFrame(123, time.Time{}, models.Signal(0))
	feed.Tick()
	feed.Tick()
	assert.Equal(t, 1, peer.count(models.MsgRealtimeData))

	for i := 0; i < statusEvery; i++ {
		feed.Tick()
	}
	assert.Equal(t, 1, peer.count(models.MsgSystemStatus))

	feed.OnTick(acquisition.Tick{})
	feed.OnTick(acquisition.Tick{Result: models.DetectionResult{Region: &models.PeakRegion{PeakFrame: 7, Color: models.ColorRed}}})
	assert.Equal(t, 1, peer.count(models.MsgPeakDetected))

	var region models.PeakRegion
	require.NoError(t, json.Unmarshal(peer.last().Data, &region))
	assert.Equal(t, uint64(7), region.PeakFrame)
}
