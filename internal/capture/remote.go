package capture

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"newfem_go/internal/models"
	"newfem_go/pkg/logger"
)

const (
	stx = 0x02
	etx = 0x03

	defaultRemoteTimeout = 2 * time.Second
	maxTelegramSize      = 256
)

// RemoteSource obtém a intensidade média da ROI de um agente de captura na
// rede. Cada leitura é um telegrama STX/ETX:
//
//	pedido:   STX "CAPTURE x1 y1 x2 y2" ETX
//	resposta: STX "OK largura altura media" ETX  ou  STX "ERR motivo" ETX
//
// A conexão é aberta sob demanda e descartada em qualquer falha.
type RemoteSource struct {
	host    string
	port    int
	timeout time.Duration

	mutex  sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	dialer net.Dialer
}

// NewRemoteSource cria a fonte; timeout <= 0 usa 2s por leitura
func NewRemoteSource(host string, port int, timeout time.Duration) *RemoteSource {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &RemoteSource{
		host:    host,
		port:    port,
		timeout: timeout,
	}
}

// Address retorna host:porta do agente
func (r *RemoteSource) Address() string {
	return net.JoinHostPort(r.host, strconv.Itoa(r.port))
}

func (r *RemoteSource) Capture(ctx context.Context, roi models.RoiConfig) (Capture, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	start := time.Now()
	if err := r.connect(ctx); err != nil {
		return Capture{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	deadline := start.Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = r.conn.SetDeadline(deadline)

	cmd := fmt.Sprintf("%cCAPTURE %d %d %d %d%c", stx, roi.X1, roi.Y1, roi.X2, roi.Y2, etx)
	if _, err := r.conn.Write([]byte(cmd)); err != nil {
		r.closeLocked()
		return Capture{}, fmt.Errorf("%w: erro ao enviar pedido: %v", ErrUnavailable, err)
	}

	telegram, err := r.readTelegram()
	if err != nil {
		r.closeLocked()
		return Capture{}, fmt.Errorf("%w: erro ao ler resposta: %v", ErrUnavailable, err)
	}

	capture, err := parseCaptureReply(telegram)
	if err != nil {
		return Capture{}, err
	}
	capture.CapturedAt = time.Now()
	capture.Duration = capture.CapturedAt.Sub(start)
	return capture, nil
}

func (r *RemoteSource) connect(ctx context.Context) error {
	if r.conn != nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn, err := r.dialer.DialContext(dialCtx, "tcp", r.Address())
	if err != nil {
		return err
	}
	r.conn = conn
	r.reader = bufio.NewReaderSize(conn, maxTelegramSize)
	logger.Infof("Conectado ao agente de captura em %s", r.Address())
	return nil
}

// readTelegram descarta bytes até STX e devolve o conteúdo até ETX
func (r *RemoteSource) readTelegram() (string, error) {
	if _, err := r.reader.ReadBytes(stx); err != nil {
		return "", err
	}
	body, err := r.reader.ReadBytes(etx)
	if err != nil {
		return "", err
	}
	if len(body) > maxTelegramSize {
		return "", fmt.Errorf("telegrama excede %d bytes", maxTelegramSize)
	}
	return string(body[:len(body)-1]), nil
}

func parseCaptureReply(telegram string) (Capture, error) {
	fields := strings.Fields(telegram)
	if len(fields) == 0 {
		return Capture{}, fmt.Errorf("%w: resposta vazia", ErrUnavailable)
	}

	switch fields[0] {
	case "OK":
		if len(fields) != 4 {
			return Capture{}, fmt.Errorf("%w: resposta malformada %q", ErrUnavailable, telegram)
		}
		width, errW := strconv.Atoi(fields[1])
		height, errH := strconv.Atoi(fields[2])
		mean, errM := strconv.ParseFloat(fields[3], 64)
		if errW != nil || errH != nil || errM != nil {
			return Capture{}, fmt.Errorf("%w: resposta malformada %q", ErrUnavailable, telegram)
		}
		return Capture{Width: width, Height: height, MeanIntensity: mean}, nil
	case "ERR":
		return Capture{}, fmt.Errorf("%w: agente recusou: %s", ErrUnavailable, strings.Join(fields[1:], " "))
	}
	return Capture{}, fmt.Errorf("%w: resposta desconhecida %q", ErrUnavailable, telegram)
}

// Close fecha a conexão com o agente
func (r *RemoteSource) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.closeLocked()
}

func (r *RemoteSource) closeLocked() {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
		r.reader = nil
		logger.Debugf("Conexão com o agente de captura %s fechada", r.Address())
	}
}
