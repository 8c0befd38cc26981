package hypervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tiiuae/vhotplug/vhperr"
)

type connState int

const (
	stateDisconnected connState = iota
	stateReady
	stateClosed
)

const (
	backoffInitial = 250 * time.Millisecond
	backoffMax     = 5 * time.Second
	commandTimeout = 5 * time.Second
)

// conn is the shared state-machine + serialization + backoff plumbing
// behind every hypervisor adapter variant (§4.4's state table). A
// single mutex gives per-VM command serialization: two concurrent
// attach calls to the same VM execute strictly one after the other,
// while adapters for different VMs run independently.
type conn struct {
	vmName  string
	connect func(ctx context.Context) error
	close   func()

	mu      sync.Mutex
	state   connState
	backoff time.Duration
}

func newConn(vmName string, connect func(ctx context.Context) error, closeFn func()) *conn {
	return &conn{
		vmName:  vmName,
		connect: connect,
		close:   closeFn,
		state:   stateDisconnected,
		backoff: backoffInitial,
	}
}

// do runs fn against a Ready connection, reconnecting lazily if needed
// (§4.4: "reconnection is triggered lazily on the next command, not
// proactively"). fn's error is classified by the caller via errors.As
// against vhperr.Error to decide the resulting connState.
func (c *conn) do(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return vhperr.VmUnreachable(c.vmName, context.Canceled)
	}

	if c.state == stateDisconnected {
		if err := c.reconnectLocked(ctx); err != nil {
			return err
		}
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	err := fn(cctx)
	if err == nil {
		c.state = stateReady
		c.backoff = backoffInitial
		return nil
	}

	code := vhperr.CodeOf(err)
	switch code {
	case vhperr.CodeProtocolError, "device_busy":
		// Socket round-tripped fine; QEMU rejected the command at the
		// protocol level. No retry, connection stays as-is.
		return err
	default:
		// VmUnreachable, Timeout, or an unclassified error: treat the
		// link as gone so the next command reconnects.
		c.state = stateDisconnected
		if c.close != nil {
			c.close()
		}

		return err
	}
}

func (c *conn) reconnectLocked(ctx context.Context) error {
	err := c.connect(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{"component": "hypervisor", "vm": c.vmName}).
			WithError(err).Warn("connect failed, backing off")

		wait := c.backoff
		c.backoff *= 2
		if c.backoff > backoffMax {
			c.backoff = backoffMax
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return vhperr.VmUnreachable(c.vmName, ctx.Err())
		}

		return vhperr.VmUnreachable(c.vmName, err)
	}

	c.state = stateReady
	c.backoff = backoffInitial

	return nil
}

// shutdown transitions to the terminal Closed state.
func (c *conn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return
	}

	if c.close != nil {
		c.close()
	}

	c.state = stateClosed
}
