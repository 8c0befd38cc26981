// Package config loads and validates vhotplug's JSON configuration file
// (§3, §6, §7). Regex rule predicates are compiled here, once, at load
// time — a malformed regex is a ConfigInvalid error, never surfaced at
// match time (§4.3).
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/tiiuae/vhotplug/rules"
	"github.com/tiiuae/vhotplug/vhperr"
)

// VmSpec names one hypervisor the daemon can attach devices to.
type VmSpec struct {
	Name   string
	Type   string // "qemu" | "crosvm"
	Socket string
}

// EvdevConfig is the optional single-target evdev passthrough policy.
type EvdevConfig struct {
	TargetVm string
	Disable  bool
}

// ApiConfig configures the API Server's transports (§6).
type ApiConfig struct {
	Enable      bool
	Host        string
	Port        int
	UnixSocket  string
	Transports  []string // "tcp" | "vsock" | "unix"
	AllowedCids []uint32
}

// Config is the fully parsed and validated configuration (§3).
type Config struct {
	UsbPassthrough  []rules.RuleSet
	PciPassthrough  []rules.RuleSet
	EvdevPassthrough *EvdevConfig
	Vms             []VmSpec
	Api             ApiConfig
}

// --- wire schema -----------------------------------------------------

type ruleJSON struct {
	Vid               string `json:"vid"`
	Pid               string `json:"pid"`
	Did               string `json:"did"`
	Address           string `json:"address"`
	VendorName        string `json:"vendorName"`
	ProductName       string `json:"productName"`
	DeviceClass       *uint8 `json:"deviceClass"`
	DeviceSubclass    *uint8 `json:"deviceSubclass"`
	DeviceProtocol    *uint8 `json:"deviceProtocol"`
	InterfaceClass    *uint8 `json:"interfaceClass"`
	InterfaceSubclass *uint8 `json:"interfaceSubclass"`
	InterfaceProtocol *uint8 `json:"interfaceProtocol"`
	Disable           bool   `json:"disable"`
	Description       string `json:"description"`
}

type ruleSetJSON struct {
	TargetVm    string            `json:"targetVm"`
	Description string            `json:"description"`
	Allow       []json.RawMessage `json:"allow"`
	Deny        []json.RawMessage `json:"deny"`
}

type apiConfigJSON struct {
	Enable      bool     `json:"enable"`
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	UnixSocket  string   `json:"unixSocket"`
	Transports  []string `json:"transports"`
	AllowedCids []uint32 `json:"allowedCids"`
}

type generalJSON struct {
	Api *apiConfigJSON `json:"api"`
}

type evdevJSON struct {
	TargetVm string `json:"targetVm"`
	Disable  bool   `json:"disable"`
}

type vmSpecJSON struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Socket string `json:"socket"`
}

type configJSON struct {
	UsbPassthrough   []ruleSetJSON `json:"usbPassthrough"`
	PciPassthrough   []ruleSetJSON `json:"pciPassthrough"`
	EvdevPassthrough *evdevJSON    `json:"evdevPassthrough"`
	Vms              []vmSpecJSON  `json:"vms"`
	General          generalJSON   `json:"general"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, vhperr.Wrap(vhperr.CodeConfigInvalid, "reading config file", err)
	}

	var cj configJSON
	if err := json.Unmarshal(raw, &cj); err != nil {
		return nil, vhperr.Wrap(vhperr.CodeConfigInvalid, "parsing config file", err)
	}

	cfg := &Config{
		Vms: make([]VmSpec, 0, len(cj.Vms)),
	}

	for _, rs := range cj.UsbPassthrough {
		converted, err := convertRuleSet(rs, true)
		if err != nil {
			return nil, err
		}

		cfg.UsbPassthrough = append(cfg.UsbPassthrough, converted)
	}

	for _, rs := range cj.PciPassthrough {
		converted, err := convertRuleSet(rs, false)
		if err != nil {
			return nil, err
		}

		cfg.PciPassthrough = append(cfg.PciPassthrough, converted)
	}

	if cj.EvdevPassthrough != nil {
		cfg.EvdevPassthrough = &EvdevConfig{
			TargetVm: cj.EvdevPassthrough.TargetVm,
			Disable:  cj.EvdevPassthrough.Disable,
		}
	}

	for _, v := range cj.Vms {
		if v.Name == "" {
			return nil, vhperr.ConfigInvalid("vms: entry missing name")
		}

		if v.Type != "qemu" && v.Type != "crosvm" {
			return nil, vhperr.ConfigInvalid("vms[%s]: unsupported type %q", v.Name, v.Type)
		}

		if v.Socket == "" {
			return nil, vhperr.ConfigInvalid("vms[%s]: missing socket path", v.Name)
		}

		cfg.Vms = append(cfg.Vms, VmSpec{Name: v.Name, Type: v.Type, Socket: v.Socket})
	}

	if err := validateTargets(cfg); err != nil {
		return nil, err
	}

	if cj.General.Api != nil {
		cfg.Api = ApiConfig{
			Enable:      cj.General.Api.Enable,
			Host:        cj.General.Api.Host,
			Port:        cj.General.Api.Port,
			UnixSocket:  cj.General.Api.UnixSocket,
			Transports:  cj.General.Api.Transports,
			AllowedCids: cj.General.Api.AllowedCids,
		}

		for _, t := range cfg.Api.Transports {
			if t != "tcp" && t != "vsock" && t != "unix" {
				return nil, vhperr.ConfigInvalid("general.api.transports: unknown transport %q", t)
			}
		}
	}

	return cfg, nil
}

// validateTargets checks I3: every RuleSet/evdev target VM is declared.
func validateTargets(cfg *Config) error {
	known := make(map[string]bool, len(cfg.Vms))
	for _, v := range cfg.Vms {
		known[v.Name] = true
	}

	for _, rs := range cfg.UsbPassthrough {
		if rs.TargetVm != "" && !known[rs.TargetVm] {
			return vhperr.ConfigInvalid("usbPassthrough: targetVm %q is not declared in vms", rs.TargetVm)
		}
	}

	for _, rs := range cfg.PciPassthrough {
		if rs.TargetVm != "" && !known[rs.TargetVm] {
			return vhperr.ConfigInvalid("pciPassthrough: targetVm %q is not declared in vms", rs.TargetVm)
		}
	}

	if cfg.EvdevPassthrough != nil && cfg.EvdevPassthrough.TargetVm != "" && !known[cfg.EvdevPassthrough.TargetVm] {
		return vhperr.ConfigInvalid("evdevPassthrough: targetVm %q is not declared in vms", cfg.EvdevPassthrough.TargetVm)
	}

	return nil
}

func convertRuleSet(rs ruleSetJSON, usb bool) (rules.RuleSet, error) {
	allow, err := convertRules(rs.Allow, usb)
	if err != nil {
		return rules.RuleSet{}, fmt.Errorf("ruleset %q: allow: %w", rs.TargetVm, err)
	}

	deny, err := convertRules(rs.Deny, usb)
	if err != nil {
		return rules.RuleSet{}, fmt.Errorf("ruleset %q: deny: %w", rs.TargetVm, err)
	}

	return rules.RuleSet{
		TargetVm:    rs.TargetVm,
		Description: rs.Description,
		Allow:       allow,
		Deny:        deny,
	}, nil
}

func convertRules(raw []json.RawMessage, usb bool) ([]rules.Rule, error) {
	out := make([]rules.Rule, 0, len(raw))

	for _, r := range raw {
		dec := json.NewDecoder(bytes.NewReader(r))
		dec.DisallowUnknownFields()

		var rj ruleJSON
		if err := dec.Decode(&rj); err != nil {
			return nil, vhperr.Wrap(vhperr.CodeConfigInvalid, "decoding rule", err)
		}

		converted, err := convertRule(rj, usb)
		if err != nil {
			return nil, err
		}

		out = append(out, converted)
	}

	return out, nil
}

func convertRule(rj ruleJSON, usb bool) (rules.Rule, error) {
	r := rules.Rule{
		Description: rj.Description,
		Disable:     rj.Disable,
		Vid:         rj.Vid,
		DeviceClass: u8(rj.DeviceClass),
	}

	if rj.VendorName != "" {
		re, err := regexp.Compile("(?i)^(?:" + rj.VendorName + ")$")
		if err != nil {
			return rules.Rule{}, vhperr.Wrap(vhperr.CodeConfigInvalid, "compiling vendorName regex", err)
		}

		r.VendorName = re
	}

	if rj.ProductName != "" {
		re, err := regexp.Compile("(?i)^(?:" + rj.ProductName + ")$")
		if err != nil {
			return rules.Rule{}, vhperr.Wrap(vhperr.CodeConfigInvalid, "compiling productName regex", err)
		}

		r.ProductName = re
	}

	if usb {
		r.Pid = rj.Pid
		r.DeviceSubclass = u8(rj.DeviceSubclass)
		r.DeviceProtocol = u8(rj.DeviceProtocol)
		r.Interface = rules.InterfacePredicate{
			Class:    u8(rj.InterfaceClass),
			Subclass: u8(rj.InterfaceSubclass),
			Protocol: u8(rj.InterfaceProtocol),
		}
	} else {
		r.Did = rj.Did
		r.Address = rj.Address
	}

	return r, nil
}

func u8(v *uint8) rules.U8Eq {
	if v == nil {
		return rules.U8Eq{}
	}

	return rules.Eq(*v)
}
