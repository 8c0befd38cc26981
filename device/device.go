// Package device holds the typed device records normalized from raw
// udev attributes (§3, §4.2 of the spec).
package device

import "fmt"

// InterfaceInfo is one USB interface's class/subclass/protocol tuple.
type InterfaceInfo struct {
	Class    uint8
	Subclass uint8
	Protocol uint8
}

// UsbKey uniquely identifies a connected USB device.
type UsbKey struct {
	Bus     int
	Address int
}

func (k UsbKey) String() string {
	return fmt.Sprintf("usb-%d-%d", k.Bus, k.Address)
}

// DeviceNode is the kernel device node for this USB device.
func (k UsbKey) DeviceNode() string {
	return fmt.Sprintf("/dev/bus/usb/%03d/%03d", k.Bus, k.Address)
}

// UsbDevice is the normalized record for a connected USB device.
type UsbDevice struct {
	Key         UsbKey
	Vid         string // 4 hex digits, lowercase
	Pid         string
	VendorName  string
	ProductName string
	Bus         int
	Port        string // root-port path, e.g. "1" or "2.4"
	Class       uint8
	Subclass    uint8
	Protocol    uint8
	Interfaces  []InterfaceInfo
}

// DeviceNode returns this device's /dev/bus/usb node.
func (d *UsbDevice) DeviceNode() string {
	return d.Key.DeviceNode()
}

// PciKey uniquely identifies a PCI device: "DDDD:BB:DD.F".
type PciKey struct {
	Address string
}

func (k PciKey) String() string {
	return k.Address
}

// PciDevice is the normalized record for a PCI device.
type PciDevice struct {
	Key         PciKey
	Vid         string
	Did         string
	Class       uint8
	Subclass    uint8
	ProgIf      uint8
	Description string
}

// EvdevKey uniquely identifies an input device by its event node.
type EvdevKey struct {
	Node string // /dev/input/eventN
}

func (k EvdevKey) String() string {
	return k.Node
}

// EvdevDevice is the normalized record for an input device eligible for
// evdev passthrough.
type EvdevDevice struct {
	Key    EvdevKey
	Name   string
	Phys   string
	Unique string
}
