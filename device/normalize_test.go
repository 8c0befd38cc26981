package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiiuae/vhotplug/device"
)

type stubNames struct{ vendor, product string }

func (s stubNames) Lookup(vid, pid string) (string, string) { return s.vendor, s.product }

type stubPciDesc struct{ desc string }

func (s stubPciDesc) Describe(vid, did string) string { return s.desc }

func TestNormalizeUsb(t *testing.T) {
	rec := device.RawRecord{
		Subsystem: "usb",
		SysName:   "2-1.4",
		Attrs: map[string]string{
			"ID_VENDOR_ID": "046D",
			"ID_MODEL_ID":  "C52B",
		},
		SysAttrs: map[string]string{
			"busnum":          "2",
			"devnum":          "5",
			"bDeviceClass":    "0x00",
			"bDeviceSubClass": "0x00",
			"bDeviceProtocol": "0x00",
		},
		Interfaces: []device.RawInterface{
			{Class: "0x03", Subclass: "0x01", Protocol: "0x02"},
		},
	}

	typed, err := device.Normalize(rec, stubNames{vendor: "Logitech, Inc.", product: "Unifying Receiver"}, nil)
	require.NoError(t, err)

	usb, ok := typed.(*device.UsbDevice)
	require.True(t, ok)

	assert.Equal(t, "046d", usb.Vid)
	assert.Equal(t, "c52b", usb.Pid)
	assert.Equal(t, "Logitech, Inc.", usb.VendorName)
	assert.Equal(t, "Unifying Receiver", usb.ProductName)
	assert.Equal(t, 2, usb.Bus)
	assert.Equal(t, "1.4", usb.Port)
	assert.Equal(t, "/dev/bus/usb/002/005", usb.DeviceNode())
	require.Len(t, usb.Interfaces, 1)
	assert.Equal(t, uint8(0x03), usb.Interfaces[0].Class)
}

func TestNormalizeUsbPrefersUdevSuppliedNames(t *testing.T) {
	rec := device.RawRecord{
		Subsystem: "usb",
		SysName:   "1-1",
		Attrs: map[string]string{
			"ID_VENDOR_ID":            "046d",
			"ID_MODEL_ID":             "c52b",
			"ID_VENDOR_FROM_DATABASE": "Logitech from udev",
			"ID_MODEL_FROM_DATABASE":  "Unifying from udev",
		},
		SysAttrs: map[string]string{"busnum": "1", "devnum": "2"},
	}

	typed, err := device.Normalize(rec, stubNames{vendor: "should not be used", product: "should not be used"}, nil)
	require.NoError(t, err)

	usb := typed.(*device.UsbDevice)
	assert.Equal(t, "Logitech from udev", usb.VendorName)
	assert.Equal(t, "Unifying from udev", usb.ProductName)
}

func TestNormalizePci(t *testing.T) {
	rec := device.RawRecord{
		Subsystem: "pci",
		SysName:   "0000:00:1f.2",
		Attrs:     map[string]string{"PCI_ID": "8086:A352"},
		SysAttrs:  map[string]string{"class": "0x010802"},
	}

	typed, err := device.Normalize(rec, nil, stubPciDesc{desc: "Intel Corp. SATA Controller"})
	require.NoError(t, err)

	pci := typed.(*device.PciDevice)
	assert.Equal(t, "0000:00:1f.2", pci.Key.Address)
	assert.Equal(t, "8086", pci.Vid)
	assert.Equal(t, "a352", pci.Did)
	assert.Equal(t, uint8(0x01), pci.Class)
	assert.Equal(t, uint8(0x08), pci.Subclass)
	assert.Equal(t, "Intel Corp. SATA Controller", pci.Description)
}

func TestNormalizeEvdev(t *testing.T) {
	rec := device.RawRecord{
		Subsystem: "input",
		SysName:   "event3",
		DevNode:   "/dev/input/event3",
		Attrs:     map[string]string{"NAME": "\"Logitech USB Keyboard\""},
	}

	typed, err := device.Normalize(rec, nil, nil)
	require.NoError(t, err)

	ev := typed.(*device.EvdevDevice)
	assert.Equal(t, "/dev/input/event3", ev.Key.Node)
}

func TestNormalizeUnsupportedSubsystem(t *testing.T) {
	_, err := device.Normalize(device.RawRecord{Subsystem: "block"}, nil, nil)
	require.Error(t, err)
}
