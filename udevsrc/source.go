// Package udevsrc is the Kernel Device Source (§4.1): a netlink monitor
// over github.com/jochenvg/go-udev, filtered to the usb/pci/input
// subsystems, optionally preceded by an enumeration of already-connected
// devices. It never normalizes attributes itself — that is
// device.Normalize's job — it only lifts a *udev.Device into a
// device.RawRecord.
package udevsrc

import (
	"context"
	"fmt"

	"github.com/jochenvg/go-udev"
	"github.com/sirupsen/logrus"

	"github.com/tiiuae/vhotplug/device"
	"github.com/tiiuae/vhotplug/device/pci"
	"github.com/tiiuae/vhotplug/vhperr"
)

var subsystems = []string{"usb", "pci", "input"}

// EventKind mirrors the three udev actions this daemon reacts to.
type EventKind string

const (
	EventAdd    EventKind = "add"
	EventRemove EventKind = "remove"
	EventChange EventKind = "change"
)

// DeviceEvent is one lazily-produced event from the kernel device
// source, already lifted to a device.RawRecord.
type DeviceEvent struct {
	Kind   EventKind
	Record device.RawRecord
}

// Source produces DeviceEvents on a bounded channel. Overflow is fatal:
// a dropped hot-plug event would violate I2/I4, so the daemon must exit
// and let the service manager restart it rather than silently coalesce.
type Source struct {
	udev      udev.Udev
	queueSize int
	events    chan DeviceEvent
	errs      chan error
}

// New creates a Source with the given bounded queue size.
func New(queueSize int) *Source {
	return &Source{
		queueSize: queueSize,
		events:    make(chan DeviceEvent, queueSize),
		errs:      make(chan error, 1),
	}
}

// Events returns the channel of produced events. It is closed when Run
// returns.
func (s *Source) Events() <-chan DeviceEvent {
	return s.events
}

// Run starts the netlink monitor and, if attachConnected is set,
// enumerates already-connected devices first as synthetic add events.
// Run blocks until ctx is cancelled or a terminal monitor error occurs,
// in which case it returns vhperr.SourceLost.
func (s *Source) Run(ctx context.Context, attachConnected bool) error {
	defer close(s.events)

	if attachConnected {
		if err := s.enumerate(); err != nil {
			return err
		}
	}

	mon := s.udev.NewMonitorFromNetlink("udev")
	for _, sub := range subsystems {
		if err := mon.FilterAddMatchSubsystem(sub); err != nil {
			return vhperr.SourceLost(fmt.Errorf("filter subsystem %s: %w", sub, err))
		}
	}

	devCh, errCh, err := mon.DeviceChan(ctx)
	if err != nil {
		return vhperr.SourceLost(fmt.Errorf("start netlink monitor: %w", err))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errCh:
			if !ok {
				return nil
			}

			return vhperr.SourceLost(err)
		case d, ok := <-devCh:
			if !ok {
				return nil
			}

			s.push(toEvent(d, s.interfacesFor(d)))
		}
	}
}

// enumerate lists currently-connected devices and emits synthetic add
// events for each, sharing the same downstream path as live events.
func (s *Source) enumerate() error {
	for _, sub := range subsystems {
		e := s.udev.NewEnumerate()
		if err := e.AddMatchSubsystem(sub); err != nil {
			return vhperr.SourceLost(fmt.Errorf("enumerate subsystem %s: %w", sub, err))
		}

		devs, err := e.Devices()
		if err != nil {
			return vhperr.SourceLost(fmt.Errorf("enumerate subsystem %s: %w", sub, err))
		}

		for _, d := range devs {
			if sub == "pci" {
				s.logNetLinkState(d)
			}

			ev := toEvent(d, s.interfacesFor(d))
			ev.Kind = EventAdd
			s.push(ev)
		}
	}

	return nil
}

// logNetLinkState looks up a network-class PCI device's bound "net"
// child interface and logs whether it's up yet. Best-effort diagnostic
// only: a down interface is still enumerated and matched against the
// rules normally.
func (s *Source) logNetLinkState(d *udev.Device) {
	iface := s.netIfaceFor(d)
	if iface == "" {
		return
	}

	up, err := pci.InterfaceUp(iface)
	if err != nil {
		return
	}

	logrus.WithFields(logrus.Fields{
		"component": "udev",
		"device":    d.Sysname(),
		"interface": iface,
	}).WithField("up", up).Debug("pci network interface link state at startup")
}

// netIfaceFor returns the sysfs name of a PCI device's bound "net" child
// interface, if any (e.g. "eth0" under a NIC's PCI device node).
func (s *Source) netIfaceFor(d *udev.Device) string {
	e := s.udev.NewEnumerate()
	if err := e.AddMatchParent(d); err != nil {
		return ""
	}

	if err := e.AddMatchSubsystem("net"); err != nil {
		return ""
	}

	children, err := e.Devices()
	if err != nil || len(children) == 0 {
		return ""
	}

	return children[0].Sysname()
}

// interfacesFor collects a USB device's interface class/subclass/protocol
// tuples by enumerating its sysfs children (§4.2).
func (s *Source) interfacesFor(d *udev.Device) []device.RawInterface {
	if d.Subsystem() != "usb" || d.PropertyValue("DEVTYPE") != "usb_device" {
		return nil
	}

	e := s.udev.NewEnumerate()
	if err := e.AddMatchParent(d); err != nil {
		return nil
	}

	if err := e.AddMatchSubsystem("usb"); err != nil {
		return nil
	}

	children, err := e.Devices()
	if err != nil {
		return nil
	}

	var out []device.RawInterface
	for _, c := range children {
		if c.PropertyValue("DEVTYPE") != "usb_interface" {
			continue
		}

		out = append(out, device.RawInterface{
			Class:    c.SysattrValue("bInterfaceClass"),
			Subclass: c.SysattrValue("bInterfaceSubClass"),
			Protocol: c.SysattrValue("bInterfaceProtocol"),
		})
	}

	return out
}

func toEvent(d *udev.Device, ifaces []device.RawInterface) DeviceEvent {
	kind := EventKind(d.Action())
	if kind == "" {
		kind = EventAdd
	}

	return DeviceEvent{
		Kind: kind,
		Record: device.RawRecord{
			Subsystem: d.Subsystem(),
			SysName:   d.Sysname(),
			DevNode:   d.Devnode(),
			Attrs:     d.Properties(),
			SysAttrs: map[string]string{
				"busnum":          d.SysattrValue("busnum"),
				"devnum":          d.SysattrValue("devnum"),
				"bDeviceClass":    d.SysattrValue("bDeviceClass"),
				"bDeviceSubClass": d.SysattrValue("bDeviceSubClass"),
				"bDeviceProtocol": d.SysattrValue("bDeviceProtocol"),
				"class":           d.SysattrValue("class"),
			},
			Interfaces: ifaces,
		},
	}
}

// push enqueues ev, terminating the daemon loudly on overflow per §4.1.
func (s *Source) push(ev DeviceEvent) {
	select {
	case s.events <- ev:
	default:
		logrus.WithField("component", "udev").Fatal("device event queue overflowed, exiting for a service-manager restart")
	}
}
