// Package hypervisor implements the per-VM Hypervisor Adapter (§4.4): a
// capability set {AttachUsb, DetachUsb, AttachPci, DetachPci,
// AttachEvdev} backed by either QMP (QEMU) or crosvm's control socket,
// with connection lifecycle, exponential backoff, and per-VM command
// serialization.
package hypervisor

import (
	"context"

	"github.com/tiiuae/vhotplug/device"
)

// Adapter is the capability set every hypervisor variant implements.
// Operations a variant does not support return vhperr.Unsupported
// (§4.4: "qemu and crosvm are variants of a capability set").
type Adapter interface {
	AttachUsb(ctx context.Context, dev *device.UsbDevice) error
	DetachUsb(ctx context.Context, dev *device.UsbDevice) error
	AttachPci(ctx context.Context, dev *device.PciDevice) error
	DetachPci(ctx context.Context, dev *device.PciDevice) error
	AttachEvdev(ctx context.Context, dev *device.EvdevDevice) error
	// Shutdown transitions the adapter to its terminal Closed state,
	// closing any open connection. Further commands fail.
	Shutdown()
}
