package hypervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiiuae/vhotplug/vhperr"
)

func newTestConn(t *testing.T) (*conn, *int) {
	t.Helper()

	closes := 0
	c := newConn("vm1", func(ctx context.Context) error { return nil }, func() { closes++ })
	c.state = stateReady

	return c, &closes
}

func TestConnDoDeviceBusyLeavesConnectionReady(t *testing.T) {
	c, closes := newTestConn(t)

	err := c.do(context.Background(), func(ctx context.Context) error {
		return deviceBusy("duplicate id")
	})

	require.Error(t, err)
	assert.Equal(t, stateReady, c.state)
	assert.Equal(t, 0, *closes)
}

func TestConnDoProtocolErrorLeavesConnectionReady(t *testing.T) {
	c, closes := newTestConn(t)

	err := c.do(context.Background(), func(ctx context.Context) error {
		return vhperr.ProtocolError(errors.New("unknown command"))
	})

	require.Error(t, err)
	assert.Equal(t, stateReady, c.state)
	assert.Equal(t, 0, *closes)
}

func TestConnDoVmUnreachableTearsDownConnection(t *testing.T) {
	c, closes := newTestConn(t)

	err := c.do(context.Background(), func(ctx context.Context) error {
		return vhperr.VmUnreachable("vm1", errors.New("connection reset"))
	})

	require.Error(t, err)
	assert.Equal(t, stateDisconnected, c.state)
	assert.Equal(t, 1, *closes)
}
