package hypervisor

import (
	"errors"
	"testing"

	"github.com/digitalocean/go-qemu/qmp"
	"github.com/stretchr/testify/assert"

	"github.com/tiiuae/vhotplug/vhperr"
)

// classifyRunError must distinguish a QMP-level error returned by
// SocketMonitor.Run (the socket round-tripped fine, QEMU rejected the
// command) from a transport failure (the socket itself is gone).
func TestClassifyRunErrorDuplicateIDIsDeviceBusy(t *testing.T) {
	err := classifyRunError("vm1", &qmp.Error{Class: "GenericError", Desc: "Duplicate ID 'vhp-usb-2-5' for device"})
	assert.Equal(t, vhperr.Code("device_busy"), vhperr.CodeOf(err))
}

func TestClassifyRunErrorOtherQmpErrorIsProtocolError(t *testing.T) {
	err := classifyRunError("vm1", &qmp.Error{Class: "GenericError", Desc: "Property 'hostbus' not found"})
	assert.Equal(t, vhperr.CodeProtocolError, vhperr.CodeOf(err))
}

func TestClassifyRunErrorTransportFailureIsVmUnreachable(t *testing.T) {
	err := classifyRunError("vm1", errors.New("read unix: connection reset by peer"))
	assert.Equal(t, vhperr.CodeVmUnreachable, vhperr.CodeOf(err))
}
