package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tiiuae/vhotplug/api"
	"github.com/tiiuae/vhotplug/config"
	"github.com/tiiuae/vhotplug/orchestrator"
)

func startServer(t *testing.T) net.Conn {
	t.Helper()

	sockPath := filepath.Join(t.TempDir(), "vhotplug.sock")

	cfg := &config.Config{}
	orch, err := orchestrator.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	orchDone := make(chan struct{})
	go func() {
		defer close(orchDone)
		orch.Run(ctx, nil)
	}()

	srv := api.New(config.ApiConfig{Enable: true, Transports: []string{"unix"}, UnixSocket: sockPath}, orch)

	srvDone := make(chan struct{})
	go func() {
		defer close(srvDone)
		_ = srv.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-srvDone
		<-orchDone
	})

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", sockPath)
		if err != nil {
			return false
		}

		conn.Close()

		return true
	}, time.Second, 10*time.Millisecond)

	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)

	t.Cleanup(func() { conn.Close() })

	return conn
}

func sendLine(t *testing.T, conn net.Conn, v any) map[string]any {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	_, err = conn.Write(append(b, '\n'))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))

	return resp
}

func TestUsbListOverUnixSocket(t *testing.T) {
	conn := startServer(t)

	resp := sendLine(t, conn, map[string]any{"action": "usb_list"})
	require.Equal(t, "ok", resp["result"])
}

func TestUnknownActionFails(t *testing.T) {
	conn := startServer(t)

	resp := sendLine(t, conn, map[string]any{"action": "frobnicate"})
	require.Equal(t, "failed", resp["result"])
}

func TestMalformedJsonFailsWithoutClosingConnection(t *testing.T) {
	conn := startServer(t)

	_, err := conn.Write([]byte("{not json\n"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	require.Equal(t, "failed", resp["result"])

	// Connection must still be usable for a well-formed follow-up request.
	resp2 := sendLine(t, conn, map[string]any{"action": "usb_list"})
	require.Equal(t, "ok", resp2["result"])
}

func TestUsbDetachUnattachedFails(t *testing.T) {
	conn := startServer(t)

	resp := sendLine(t, conn, map[string]any{"action": "usb_detach", "device_node": "/dev/bus/usb/002/005"})
	require.Equal(t, "failed", resp["result"])
	require.NotEmpty(t, resp["error"])
}
