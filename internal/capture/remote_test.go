package capture

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newfem_go/internal/models"
)

// fakeAgent responde cada pedido CAPTURE com a função reply
func fakeAgent(t *testing.T, reply func(cmd string) string) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				reader := bufio.NewReader(c)
				for {
					if _, err := reader.ReadBytes(stx); err != nil {
						return
					}
					body, err := reader.ReadBytes(etx)
					if err != nil {
						return
					}
					resp := reply(string(body[:len(body)-1]))
					if _, err := c.Write([]byte("\x02" + resp + "\x03")); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestRemoteSourceCapture(t *testing.T) {
	received := make(chan string, 10)
	host, port := fakeAgent(t, func(cmd string) string {
		received <- cmd
		return "OK 100 50 " + strconv.FormatFloat(123.5, 'f', 1, 64)
	})

	src := NewRemoteSource(host, port, time.Second)
	defer src.Close()

	roi := models.RoiConfig{X1: 10, Y1: 20, X2: 110, Y2: 70}
	c, err := src.Capture(context.Background(), roi)
	require.NoError(t, err)
	assert.Equal(t, 100, c.Width)
	assert.Equal(t, 50, c.Height)
	assert.Equal(t, 123.5, c.MeanIntensity)
	assert.False(t, c.CapturedAt.IsZero())

	// segunda leitura
	_, err = src.Capture(context.Background(), roi)
	require.NoError(t, err)
	require.Len(t, received, 2)
	assert.Equal(t, "CAPTURE 10 20 110 70", <-received)
}

func TestRemoteSourceAgentError(t *testing.T) {
	host, port := fakeAgent(t, func(string) string { return "ERR janela minimizada" })

	src := NewRemoteSource(host, port, time.Second)
	defer src.Close()

	_, err := src.Capture(context.Background(), models.RoiConfig{X1: 0, Y1: 0, X2: 10, Y2: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "janela minimizada")
}

func TestRemoteSourceUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	src := NewRemoteSource("127.0.0.1", port, 200*time.Millisecond)
	_, err = src.Capture(context.Background(), models.RoiConfig{X1: 0, Y1: 0, X2: 10, Y2: 10})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseCaptureReply(t *testing.T) {
	for _, telegram := range []string{"", "OK 1 2", "OK a 2 3", "HELLO"} {
		_, err := parseCaptureReply(telegram)
		assert.ErrorIs(t, err, ErrUnavailable, telegram)
	}

	c, err := parseCaptureReply(strings.Join([]string{"OK", "3", "4", "99.25"}, " "))
	require.NoError(t, err)
	assert.Equal(t, 99.25, c.MeanIntensity)
}
