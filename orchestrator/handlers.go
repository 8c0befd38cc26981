package orchestrator

import (
	"context"

	"github.com/tiiuae/vhotplug/device"
	"github.com/tiiuae/vhotplug/registry"
	"github.com/tiiuae/vhotplug/rules"
	"github.com/tiiuae/vhotplug/udevsrc"
	"github.com/tiiuae/vhotplug/vhperr"
)

// --- USB --------------------------------------------------------------

func (o *Orchestrator) handleUsbEvent(ctx context.Context, kind udevsrc.EventKind, dev *device.UsbDevice) {
	switch kind {
	case udevsrc.EventRemove:
		o.usbRemove(ctx, dev)
	case udevsrc.EventChange:
		o.usb[dev.Key] = dev
	default: // add
		o.usbAdd(ctx, dev)
	}
}

func (o *Orchestrator) usbAdd(ctx context.Context, dev *device.UsbDevice) {
	o.usb[dev.Key] = dev

	key := fmtUsbKey(dev.Key)

	eligible := rules.EligibleVmsUsb(o.cfg.UsbPassthrough, dev)
	if len(eligible) > 1 {
		o.publish(Event{Kind: EventUsbConnected, DeviceNode: dev.DeviceNode()})
		o.publish(Event{Kind: EventUsbSelectVm, DeviceNode: dev.DeviceNode(), AllowedVms: eligible})

		return
	}

	verdict := rules.EvaluateUsb(o.cfg.UsbPassthrough, dev)
	if verdict.Kind != rules.Allow {
		o.publish(Event{Kind: EventUsbConnected, DeviceNode: dev.DeviceNode()})
		return
	}

	if err := o.attachUsb(ctx, key, dev, verdict.Vm); err != nil {
		o.log.WithError(err).WithField("device", dev.DeviceNode()).Warn("failed to attach usb device on connect")
		o.publish(Event{Kind: EventUsbConnected, DeviceNode: dev.DeviceNode()})

		return
	}

	o.publish(Event{Kind: EventUsbConnected, DeviceNode: dev.DeviceNode()})
	o.publish(Event{Kind: EventUsbAttached, DeviceNode: dev.DeviceNode(), Vm: verdict.Vm})
}

func (o *Orchestrator) usbRemove(ctx context.Context, dev *device.UsbDevice) {
	key := fmtUsbKey(dev.Key)

	a, ok := o.registry.Lookup(key)
	if ok {
		if adapter, found := o.adapters[a.VmName]; found {
			if err := adapter.DetachUsb(ctx, dev); err != nil {
				o.log.WithError(err).WithField("device", dev.DeviceNode()).Warn("best-effort detach failed on unplug")
			}
		}

		_, _ = o.registry.Remove(key)
	}

	delete(o.usb, dev.Key)

	if ok {
		o.publish(Event{Kind: EventUsbDetached, DeviceNode: dev.DeviceNode(), Vm: a.VmName})
	}

	o.publish(Event{Kind: EventUsbDisconnected, DeviceNode: dev.DeviceNode()})
}

// attachUsb calls the adapter, and on success records the Attachment.
// Shared by the kernel-event path and the API-command path.
func (o *Orchestrator) attachUsb(ctx context.Context, key registry.Key, dev *device.UsbDevice, vm string) error {
	adapter, ok := o.adapters[vm]
	if !ok {
		return vhperr.ConfigInvalid("unknown vm %q", vm)
	}

	if err := adapter.AttachUsb(ctx, dev); err != nil {
		return err
	}

	return o.registry.Insert(key, vm, now())
}

// --- PCI ----------------------------------------------------------------

func (o *Orchestrator) handlePciEvent(ctx context.Context, kind udevsrc.EventKind, dev *device.PciDevice) {
	switch kind {
	case udevsrc.EventRemove:
		o.pciRemove(ctx, dev)
	case udevsrc.EventChange:
		o.pci[dev.Key] = dev
	default:
		o.pciAdd(ctx, dev)
	}
}

func (o *Orchestrator) pciAdd(ctx context.Context, dev *device.PciDevice) {
	o.pci[dev.Key] = dev

	key := fmtPciKey(dev.Key)

	// §6's event table defines usb_select_vm only; it has no PCI
	// counterpart, so a PCI device matched by more than one RuleSet
	// simply isn't auto-attached and no notification is published. An
	// explicit pci_attach API call still resolves it (mirrors §4.6's
	// usb_select_vm resolution path without the wire-protocol event).
	eligible := rules.EligibleVmsPci(o.cfg.PciPassthrough, dev)
	if len(eligible) > 1 {
		return
	}

	verdict := rules.EvaluatePci(o.cfg.PciPassthrough, dev)
	if verdict.Kind != rules.Allow {
		return
	}

	if err := o.attachPci(ctx, key, dev, verdict.Vm); err != nil {
		o.log.WithError(err).WithField("device", dev.Key.Address).Warn("failed to attach pci device on connect")
		return
	}

	o.publish(Event{Kind: EventPciAttached, PciAddress: dev.Key.Address, Vm: verdict.Vm})
}

func (o *Orchestrator) pciRemove(ctx context.Context, dev *device.PciDevice) {
	key := fmtPciKey(dev.Key)

	a, ok := o.registry.Lookup(key)
	if ok {
		if adapter, found := o.adapters[a.VmName]; found {
			if err := adapter.DetachPci(ctx, dev); err != nil {
				o.log.WithError(err).WithField("device", dev.Key.Address).Warn("best-effort detach failed on unplug")
			}
		}

		_, _ = o.registry.Remove(key)
		o.publish(Event{Kind: EventPciDetached, PciAddress: dev.Key.Address, Vm: a.VmName})
	}

	delete(o.pci, dev.Key)
}

func (o *Orchestrator) attachPci(ctx context.Context, key registry.Key, dev *device.PciDevice, vm string) error {
	adapter, ok := o.adapters[vm]
	if !ok {
		return vhperr.ConfigInvalid("unknown vm %q", vm)
	}

	if err := adapter.AttachPci(ctx, dev); err != nil {
		return err
	}

	return o.registry.Insert(key, vm, now())
}

// --- evdev --------------------------------------------------------------

func (o *Orchestrator) handleEvdevEvent(ctx context.Context, kind udevsrc.EventKind, dev *device.EvdevDevice) {
	cfg := o.cfg.EvdevPassthrough
	if cfg == nil || cfg.Disable {
		return
	}

	switch kind {
	case udevsrc.EventRemove:
		// The capability set has no detach_evdev (§4.4/§9): the device
		// is simply gone, so only the Registry binding is cleared.
		_, _ = o.registry.Remove(fmtEvdevKey(dev.Key))
		delete(o.evdev, dev.Key)

	case udevsrc.EventChange:
		o.evdev[dev.Key] = dev

	default:
		o.evdev[dev.Key] = dev

		adapter, ok := o.adapters[cfg.TargetVm]
		if !ok {
			return
		}

		if err := adapter.AttachEvdev(ctx, dev); err != nil {
			o.log.WithError(err).WithField("device", dev.Key.Node).Warn("failed to attach evdev device on connect")
			return
		}

		_ = o.registry.Insert(fmtEvdevKey(dev.Key), cfg.TargetVm, now())
	}
}
