package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"clobsim/internal/matcher"
	"clobsim/internal/protocol"
	"clobsim/internal/registry"

	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (addr string, shutdown func()) {
	t.Helper()
	reg := registry.New()
	engine := matcher.New(reg)
	srv := New("127.0.0.1", 0, engine, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Run(ctx)
		close(done)
	}()

	return srv.Addr().String(), func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("server did not shut down")
		}
	}
}

func TestServerRoundTripsCreateOrder(t *testing.T) {
	addr, shutdown := startServer(t)
	defer shutdown()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	orderID := int64(1)
	price := int64(100)
	qty := uint64(10)
	line, err := json.Marshal(protocol.Inbound{
		Message:   protocol.MsgCreateOrder,
		OrderType: protocol.OrderTypeLimit,
		Side:      protocol.SideBuy,
		OrderID:   &orderID,
		Price:     &price,
		Quantity:  &qty,
	})
	require.NoError(t, err)
	_, err = conn.Write(append(line, '\n'))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	respLine, err := reader.ReadString('\n')
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(respLine), &resp))
	require.Equal(t, "orderCreated", resp["message"])
}

func TestServerRejectsMalformedFrame(t *testing.T) {
	addr, shutdown := startServer(t)
	defer shutdown()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	respLine, err := reader.ReadString('\n')
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(respLine), &resp))
	require.Equal(t, "error", resp["message"])
}
