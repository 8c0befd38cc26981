package pci

import "github.com/vishvananda/netlink"

// InterfaceUp reports whether the named network interface is currently
// administratively and operationally up. Used on startup
// (--attach-connected) to log the link state of a network-class PCI
// device's bound interface before its rules are evaluated; an interface
// that hasn't come up yet still gets a hotplug event once it does, this
// is purely an early diagnostic signal.
func InterfaceUp(name string) (bool, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return false, err
	}

	attrs := link.Attrs()

	return attrs.Flags&netlink.FlagUp != 0 && attrs.OperState == netlink.OperUp, nil
}
