package hypervisor

import (
	"fmt"
	"strings"

	"github.com/tiiuae/vhotplug/device"
)

// stableUsbID returns vhp-usb-<bus>-<addr>, deterministic from the
// device key so a reconnect after a crash can reissue device_del on the
// same id (§9).
func stableUsbID(key device.UsbKey) string {
	return fmt.Sprintf("vhp-usb-%d-%d", key.Bus, key.Address)
}

// stablePciID returns vhp-pci-<address> with colons replaced by dashes,
// since QMP/crosvm device ids may not contain ':' (§9).
func stablePciID(key device.PciKey) string {
	return "vhp-pci-" + strings.ReplaceAll(key.Address, ":", "-")
}

// stableEvdevID returns vhp-evdev-<N> for /dev/input/eventN.
func stableEvdevID(key device.EvdevKey) string {
	node := strings.TrimPrefix(key.Node, "/dev/input/event")
	return "vhp-evdev-" + node
}
