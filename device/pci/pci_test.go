package pci_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tiiuae/vhotplug/device/pci"
)

func TestNormaliseAddress(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"0000:00:00.0": "0000:00:00.0",
		"1000:00:00.0": "1000:00:00.0",
		"00:00.0":      "0000:00:00.0",
		"0000:AB:00.0": "0000:ab:00.0",
		"1000:AB:00.0": "1000:ab:00.0",
		"00:AB.0":      "0000:00:ab.0",
	}

	for k, v := range cases {
		res := pci.NormaliseAddress(k)

		assert.Equal(t, v, res)
	}
}

func TestParseClassCode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    pci.Class
		wantErr bool
	}{
		{name: "network controller", raw: "0x020000", want: pci.Class{Class: 0x02, Subclass: 0x00, ProgIf: 0x00}},
		{name: "no 0x prefix", raw: "030000", want: pci.Class{Class: 0x03, Subclass: 0x00, ProgIf: 0x00}},
		{name: "nvme storage", raw: "0x010802", want: pci.Class{Class: 0x01, Subclass: 0x08, ProgIf: 0x02}},
		{name: "too short", raw: "0x0102", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pci.ParseClassCode(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
