// Package pci normalizes PCI addresses and class codes, grounded on the
// teacher's lxd/device/pci package (its exported surface survives only
// as pci_test.go in the retrieval pack; this reimplements the same
// contract: NormaliseAddress lowercases hex and left-pads a short-form
// "BB:DD.F" address with the default "0000:" domain).
package pci

import (
	"fmt"
	"strings"
)

// NormaliseAddress converts a PCI address to its canonical lowercase
// "dddd:bb:dd.f" form. A short address lacking the domain segment is
// assumed to be in domain 0000. An empty string is returned unchanged.
func NormaliseAddress(addr string) string {
	if addr == "" {
		return ""
	}

	addr = strings.ToLower(addr)

	if strings.Count(addr, ":") == 1 {
		addr = "0000:" + addr
	}

	return addr
}

// Class is a PCI device's class code triple as exposed by the kernel's
// sysfs "class" attribute (a 24-bit value: class, subclass, prog-if).
type Class struct {
	Class    uint8
	Subclass uint8
	ProgIf   uint8
}

// ParseClassCode parses a sysfs "class" attribute value such as
// "0x030000" or "030000" into its (class, subclass, prog-if) triple.
func ParseClassCode(raw string) (Class, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(raw) < 6 {
		return Class{}, fmt.Errorf("pci: malformed class code %q", raw)
	}

	var v uint32
	_, err := fmt.Sscanf(raw[:6], "%06x", &v)
	if err != nil {
		return Class{}, fmt.Errorf("pci: malformed class code %q: %w", raw, err)
	}

	return Class{
		Class:    uint8(v >> 16),
		Subclass: uint8(v >> 8),
		ProgIf:   uint8(v),
	}, nil
}
