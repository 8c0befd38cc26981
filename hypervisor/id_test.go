package hypervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tiiuae/vhotplug/device"
)

func TestStableUsbID(t *testing.T) {
	id := stableUsbID(device.UsbKey{Bus: 2, Address: 5})
	assert.Equal(t, "vhp-usb-2-5", id)
}

func TestStablePciIDReplacesColons(t *testing.T) {
	id := stablePciID(device.PciKey{Address: "0000:00:1f.2"})
	assert.Equal(t, "vhp-pci-0000-00-1f.2", id)
}

func TestStableEvdevID(t *testing.T) {
	id := stableEvdevID(device.EvdevKey{Node: "/dev/input/event3"})
	assert.Equal(t, "vhp-evdev-3", id)
}

func TestIsDuplicateID(t *testing.T) {
	assert.True(t, isDuplicateID("Duplicate ID 'vhp-usb-2-5' for device"))
	assert.True(t, isDuplicateID("Device with id \"vhp-usb-2-5\" already exists"))
	assert.False(t, isDuplicateID("Property 'hostbus' not found"))
}
