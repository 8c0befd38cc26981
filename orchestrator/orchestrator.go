// Package orchestrator implements the Orchestrator (§4.6): the single
// serialized command loop that glues the Kernel Device Source, Device
// Model, Rule Engine, Hypervisor Adapters, and Attachment Registry
// together, and is the sole mutator of the Registry and sole caller into
// adapters.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tiiuae/vhotplug/config"
	"github.com/tiiuae/vhotplug/device"
	"github.com/tiiuae/vhotplug/device/pcidesc"
	"github.com/tiiuae/vhotplug/device/usbids"
	"github.com/tiiuae/vhotplug/hypervisor"
	"github.com/tiiuae/vhotplug/registry"
	"github.com/tiiuae/vhotplug/udevsrc"
	"github.com/tiiuae/vhotplug/vhperr"
)

type request struct {
	fn    func(ctx context.Context) (any, error)
	reply chan result
}

type result struct {
	val any
	err error
}

// Orchestrator owns the Registry, the device-model snapshot, and every
// Adapter. All of it is touched only from within Run's single goroutine;
// every other caller communicates through submit or Subscribe.
type Orchestrator struct {
	cfg      *config.Config
	registry *registry.Registry
	adapters map[string]hypervisor.Adapter
	names    *usbids.DB
	pcidesc  *pcidesc.DB
	log      *logrus.Entry

	usb   map[device.UsbKey]*device.UsbDevice
	pci   map[device.PciKey]*device.PciDevice
	evdev map[device.EvdevKey]*device.EvdevDevice

	requests    chan request
	subscribers map[string]*subscriber
}

// New builds an Orchestrator and its per-VM adapters from cfg.
func New(cfg *config.Config) (*Orchestrator, error) {
	adapters := make(map[string]hypervisor.Adapter, len(cfg.Vms))

	for _, vm := range cfg.Vms {
		a, err := hypervisor.New(vm.Name, vm.Type, vm.Socket)
		if err != nil {
			return nil, err
		}

		adapters[vm.Name] = a
	}

	return &Orchestrator{
		cfg:         cfg,
		registry:    registry.New(),
		adapters:    adapters,
		names:       usbids.Load(),
		pcidesc:     pcidesc.Load(),
		log:         logrus.WithField("component", "orchestrator"),
		usb:         make(map[device.UsbKey]*device.UsbDevice),
		pci:         make(map[device.PciKey]*device.PciDevice),
		evdev:       make(map[device.EvdevKey]*device.EvdevDevice),
		requests:    make(chan request),
		subscribers: make(map[string]*subscriber),
	}, nil
}

// Run drains udevEvents and API requests until ctx is cancelled, then
// shuts every adapter down. It is the sole owner of all mutable state
// reachable from this struct.
func (o *Orchestrator) Run(ctx context.Context, udevEvents <-chan udevsrc.DeviceEvent) {
	for {
		select {
		case <-ctx.Done():
			o.shutdownAdapters()
			return

		case req := <-o.requests:
			val, err := req.fn(ctx)
			req.reply <- result{val: val, err: err}

		case ev, ok := <-udevEvents:
			if !ok {
				udevEvents = nil
				continue
			}

			o.handleKernelEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) shutdownAdapters() {
	for _, a := range o.adapters {
		a.Shutdown()
	}
}

// submit enqueues fn to run inside Run's loop and blocks for its result.
// Every externally-callable Orchestrator method funnels through this so
// the Registry and device maps are only ever touched by one goroutine.
func (o *Orchestrator) submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	req := request{fn: fn, reply: make(chan result, 1)}

	select {
	case o.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.val, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) handleKernelEvent(ctx context.Context, ev udevsrc.DeviceEvent) {
	typed, err := device.Normalize(ev.Record, o.names, o.pcidesc)
	if err != nil {
		if vhperr.CodeOf(err) == vhperr.CodeUnsupportedKind {
			return // dropped silently per §4.2
		}

		o.log.WithError(err).Warn("failed to normalize device event")

		return
	}

	switch d := typed.(type) {
	case *device.UsbDevice:
		o.handleUsbEvent(ctx, ev.Kind, d)
	case *device.PciDevice:
		o.handlePciEvent(ctx, ev.Kind, d)
	case *device.EvdevDevice:
		o.handleEvdevEvent(ctx, ev.Kind, d)
	}
}

// now is the clock that stamps each Attachment's AttachedAt.
var now = time.Now

func subscriberID() string {
	return uuid.NewString()
}

func (o *Orchestrator) vmNameFor(key registry.Key) string {
	if a, ok := o.registry.Lookup(key); ok {
		return a.VmName
	}

	return ""
}

func fmtUsbKey(k device.UsbKey) registry.Key {
	return registry.Key{Kind: registry.KindUsb, ID: fmt.Sprintf("%d:%d", k.Bus, k.Address)}
}

func fmtPciKey(k device.PciKey) registry.Key {
	return registry.Key{Kind: registry.KindPci, ID: k.Address}
}

func fmtEvdevKey(k device.EvdevKey) registry.Key {
	return registry.Key{Kind: registry.KindEvdev, ID: k.Node}
}
