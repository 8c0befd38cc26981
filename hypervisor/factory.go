package hypervisor

import "github.com/tiiuae/vhotplug/vhperr"

// New builds the Adapter variant matching vmType ("qemu" | "crosvm").
func New(vmName, vmType, socketPath string) (Adapter, error) {
	switch vmType {
	case "qemu":
		return NewQmpAdapter(vmName, socketPath), nil
	case "crosvm":
		return NewCrosvmAdapter(vmName, socketPath), nil
	default:
		return nil, vhperr.ConfigInvalid("vm %q: unsupported hypervisor type %q", vmName, vmType)
	}
}
