package orchestrator

import (
	"context"

	"github.com/tiiuae/vhotplug/device"
	"github.com/tiiuae/vhotplug/rules"
	"github.com/tiiuae/vhotplug/vhperr"
)

// UsbList returns a snapshot of every currently-known USB device (§6).
func (o *Orchestrator) UsbList(ctx context.Context) ([]UsbDeviceView, error) {
	val, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		views := make([]UsbDeviceView, 0, len(o.usb))

		for _, d := range o.usb {
			views = append(views, o.usbView(d))
		}

		return views, nil
	})
	if err != nil {
		return nil, err
	}

	return val.([]UsbDeviceView), nil
}

func (o *Orchestrator) usbView(d *device.UsbDevice) UsbDeviceView {
	key := fmtUsbKey(d.Key)

	return UsbDeviceView{
		DeviceNode:  d.DeviceNode(),
		Vid:         d.Vid,
		Pid:         d.Pid,
		VendorName:  d.VendorName,
		ProductName: d.ProductName,
		Bus:         d.Bus,
		Port:        d.Port,
		AllowedVms:  rules.EligibleVmsUsb(o.cfg.UsbPassthrough, d),
		Vm:          o.vmNameFor(key),
	}
}

// PciList returns a snapshot of every currently-known PCI device (§6).
func (o *Orchestrator) PciList(ctx context.Context) ([]PciDeviceView, error) {
	val, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		views := make([]PciDeviceView, 0, len(o.pci))

		for _, d := range o.pci {
			views = append(views, o.pciView(d))
		}

		return views, nil
	})
	if err != nil {
		return nil, err
	}

	return val.([]PciDeviceView), nil
}

func (o *Orchestrator) pciView(d *device.PciDevice) PciDeviceView {
	key := fmtPciKey(d.Key)

	return PciDeviceView{
		Address:     d.Key.Address,
		Vid:         d.Vid,
		Did:         d.Did,
		Description: d.Description,
		AllowedVms:  rules.EligibleVmsPci(o.cfg.PciPassthrough, d),
		Vm:          o.vmNameFor(key),
	}
}

// resolveUsb finds the single USB device matching sel against the
// current Device Model (§4.6: "resolved against the current Device
// Model"), failing with NoSuchDevice/Ambiguous.
func (o *Orchestrator) resolveUsb(sel UsbSelector) (*device.UsbDevice, error) {
	var found *device.UsbDevice

	for _, d := range o.usb {
		if sel.matches(d.Bus, d.Port, d.DeviceNode(), d.Vid, d.Pid) {
			if found != nil {
				return nil, vhperr.Ambiguous("usb selector")
			}

			found = d
		}
	}

	if found == nil {
		return nil, vhperr.NoSuchDevice("usb selector")
	}

	return found, nil
}

func (o *Orchestrator) resolvePci(sel PciSelector) (*device.PciDevice, error) {
	var found *device.PciDevice

	for _, d := range o.pci {
		if sel.matches(d.Key.Address, d.Vid, d.Did) {
			if found != nil {
				return nil, vhperr.Ambiguous("pci selector")
			}

			found = d
		}
	}

	if found == nil {
		return nil, vhperr.NoSuchDevice("pci selector")
	}

	return found, nil
}

// UsbAttach resolves sel and attaches it to vm, bypassing the Rule
// Engine — the operator's intent is authoritative — but still enforcing
// I1 (§4.6).
func (o *Orchestrator) UsbAttach(ctx context.Context, sel UsbSelector, vm string) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		d, err := o.resolveUsb(sel)
		if err != nil {
			return nil, err
		}

		key := fmtUsbKey(d.Key)
		if a, ok := o.registry.Lookup(key); ok {
			return nil, vhperr.AlreadyAttached(a.VmName)
		}

		if err := o.attachUsb(ctx, key, d, vm); err != nil {
			return nil, err
		}

		o.publish(Event{Kind: EventUsbAttached, DeviceNode: d.DeviceNode(), Vm: vm})

		return nil, nil
	})

	return err
}

// UsbDetach resolves sel and detaches it from its current VM.
func (o *Orchestrator) UsbDetach(ctx context.Context, sel UsbSelector) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		d, err := o.resolveUsb(sel)
		if err != nil {
			return nil, err
		}

		key := fmtUsbKey(d.Key)

		a, ok := o.registry.Lookup(key)
		if !ok {
			return nil, vhperr.NotAttached()
		}

		adapter, found := o.adapters[a.VmName]
		if !found {
			return nil, vhperr.ConfigInvalid("unknown vm %q", a.VmName)
		}

		if err := adapter.DetachUsb(ctx, d); err != nil {
			return nil, err
		}

		_, _ = o.registry.Remove(key)
		o.publish(Event{Kind: EventUsbDetached, DeviceNode: d.DeviceNode(), Vm: a.VmName})

		return nil, nil
	})

	return err
}

// PciAttach mirrors UsbAttach for PCI devices.
func (o *Orchestrator) PciAttach(ctx context.Context, sel PciSelector, vm string) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		d, err := o.resolvePci(sel)
		if err != nil {
			return nil, err
		}

		key := fmtPciKey(d.Key)
		if a, ok := o.registry.Lookup(key); ok {
			return nil, vhperr.AlreadyAttached(a.VmName)
		}

		if err := o.attachPci(ctx, key, d, vm); err != nil {
			return nil, err
		}

		o.publish(Event{Kind: EventPciAttached, PciAddress: d.Key.Address, Vm: vm})

		return nil, nil
	})

	return err
}

// PciDetach mirrors UsbDetach for PCI devices.
func (o *Orchestrator) PciDetach(ctx context.Context, sel PciSelector) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		d, err := o.resolvePci(sel)
		if err != nil {
			return nil, err
		}

		key := fmtPciKey(d.Key)

		a, ok := o.registry.Lookup(key)
		if !ok {
			return nil, vhperr.NotAttached()
		}

		adapter, found := o.adapters[a.VmName]
		if !found {
			return nil, vhperr.ConfigInvalid("unknown vm %q", a.VmName)
		}

		if err := adapter.DetachPci(ctx, d); err != nil {
			return nil, err
		}

		_, _ = o.registry.Remove(key)
		o.publish(Event{Kind: EventPciDetached, PciAddress: d.Key.Address, Vm: a.VmName})

		return nil, nil
	})

	return err
}

// Subscribe registers a new notification subscriber (the effect of an
// `enable_notifications` API command, §4.7) and returns its id, the
// event channel, and a channel closed when the subscriber is dropped for
// backpressure. Unsubscribe must be called to release it.
func (o *Orchestrator) Subscribe(ctx context.Context) (id string, events <-chan Event, closed <-chan struct{}, err error) {
	val, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		sub := newSubscriber()
		id := subscriberID()
		o.subscribers[id] = sub

		return struct {
			id  string
			sub *subscriber
		}{id, sub}, nil
	})
	if err != nil {
		return "", nil, nil, err
	}

	v := val.(struct {
		id  string
		sub *subscriber
	})

	return v.id, v.sub.ch, v.sub.closed, nil
}

// Unsubscribe removes a subscriber registered by Subscribe.
func (o *Orchestrator) Unsubscribe(ctx context.Context, id string) {
	_, _ = o.submit(ctx, func(ctx context.Context) (any, error) {
		delete(o.subscribers, id)
		return nil, nil
	})
}
