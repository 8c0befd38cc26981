package device

import (
	"strconv"
	"strings"

	"github.com/tiiuae/vhotplug/device/pci"
	"github.com/tiiuae/vhotplug/vhperr"
)

// RawInterface is one USB interface's raw sysfs attributes, as collected
// by iterating a USB device's children in sysfs (§4.2).
type RawInterface struct {
	Class    string // bInterfaceClass, hex
	Subclass string // bInterfaceSubClass, hex
	Protocol string // bInterfaceProtocol, hex
}

// RawRecord is the normalized-but-still-stringly-typed view of a single
// udev device record that device.Normalize lifts into a typed device.
// Kernel Device Source code populates this from go-udev; Normalize
// itself touches no udev API, keeping it pure and independently testable
// per §4.2.
type RawRecord struct {
	Subsystem  string // "usb" | "pci" | "input"
	SysName    string // e.g. "2-1.4" (usb), "0000:00:1f.2" (pci), "event3" (input)
	DevNode    string
	Attrs      map[string]string // udev properties, e.g. ID_VENDOR_ID, NAME
	SysAttrs   map[string]string // sysfs attributes, e.g. busnum, devnum, class
	Interfaces []RawInterface
}

// NamesDB resolves (vid, pid) to vendor/product names. Implemented by
// device/usbids.DB.
type NamesDB interface {
	Lookup(vid, pid string) (vendorName, productName string)
}

// PciDescDB resolves (vid, did) to a human description. Implemented by
// device/pcidesc.DB.
type PciDescDB interface {
	Describe(vid, did string) string
}

// Normalize lifts a RawRecord into a typed device. It returns
// vhperr.UnsupportedSubsystem for any subsystem other than usb/pci/input;
// the caller (the Orchestrator) drops the event silently per §4.2.
func Normalize(rec RawRecord, names NamesDB, pcidesc PciDescDB) (any, error) {
	switch rec.Subsystem {
	case "usb":
		return normalizeUsb(rec, names)
	case "pci":
		return normalizePci(rec, pcidesc)
	case "input":
		return normalizeEvdev(rec)
	default:
		return nil, vhperr.UnsupportedSubsystem(rec.Subsystem)
	}
}

func normalizeUsb(rec RawRecord, names NamesDB) (*UsbDevice, error) {
	bus := atoiOr(rec.SysAttrs["busnum"], 0)
	addr := atoiOr(rec.SysAttrs["devnum"], 0)

	vid := strings.ToLower(rec.Attrs["ID_VENDOR_ID"])
	pid := strings.ToLower(rec.Attrs["ID_MODEL_ID"])

	vendorName := rec.Attrs["ID_VENDOR_FROM_DATABASE"]
	productName := rec.Attrs["ID_MODEL_FROM_DATABASE"]
	if vendorName == "" && productName == "" && names != nil {
		vendorName, productName = names.Lookup(vid, pid)
	}

	port := usbPort(rec.SysName)

	ifaces := make([]InterfaceInfo, 0, len(rec.Interfaces))
	for _, ri := range rec.Interfaces {
		ifaces = append(ifaces, InterfaceInfo{
			Class:    hexByteOr(ri.Class, 0),
			Subclass: hexByteOr(ri.Subclass, 0),
			Protocol: hexByteOr(ri.Protocol, 0),
		})
	}

	return &UsbDevice{
		Key:         UsbKey{Bus: bus, Address: addr},
		Vid:         vid,
		Pid:         pid,
		VendorName:  vendorName,
		ProductName: productName,
		Bus:         bus,
		Port:        port,
		Class:       hexByteOr(rec.SysAttrs["bDeviceClass"], 0),
		Subclass:    hexByteOr(rec.SysAttrs["bDeviceSubClass"], 0),
		Protocol:    hexByteOr(rec.SysAttrs["bDeviceProtocol"], 0),
		Interfaces:  ifaces,
	}, nil
}

// usbPort extracts the root-port path from a usb sysname such as
// "2-1.4" (bus 2, port path "1.4") or "2-1" (port path "1").
func usbPort(sysName string) string {
	_, port, found := strings.Cut(sysName, "-")
	if !found {
		return ""
	}

	return port
}

func normalizePci(rec RawRecord, pcidesc PciDescDB) (*PciDevice, error) {
	addr := pci.NormaliseAddress(rec.SysName)

	vid := strings.ToLower(strings.TrimPrefix(rec.Attrs["PCI_ID"], "0x"))
	did := vid
	if idx := strings.Index(rec.Attrs["PCI_ID"], ":"); idx >= 0 {
		parts := strings.SplitN(rec.Attrs["PCI_ID"], ":", 2)
		vid = strings.ToLower(parts[0])
		did = strings.ToLower(parts[1])
	}

	class, err := pci.ParseClassCode(rec.SysAttrs["class"])
	if err != nil {
		class = pci.Class{}
	}

	desc := ""
	if pcidesc != nil {
		desc = pcidesc.Describe(vid, did)
	}

	return &PciDevice{
		Key:         PciKey{Address: addr},
		Vid:         vid,
		Did:         did,
		Class:       class.Class,
		Subclass:    class.Subclass,
		ProgIf:      class.ProgIf,
		Description: desc,
	}, nil
}

func normalizeEvdev(rec RawRecord) (*EvdevDevice, error) {
	node := rec.DevNode
	if node == "" {
		node = "/dev/input/" + rec.SysName
	}

	return &EvdevDevice{
		Key:    EvdevKey{Node: node},
		Name:   rec.Attrs["NAME"],
		Phys:   rec.Attrs["PHYS"],
		Unique: rec.Attrs["UNIQ"],
	}, nil
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}

	return n
}

func hexByteOr(s string, def uint8) uint8 {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return def
	}

	n, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return def
	}

	return uint8(n)
}
