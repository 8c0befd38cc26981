// Package rules implements the Rule Engine (§4.3): ordered RuleSets of
// allow/deny predicates evaluated against a typed device, producing a
// Verdict per the precedence and tie-break rules in spec.md §3/§4.3.
package rules

import (
	"regexp"
	"strings"

	"github.com/tiiuae/vhotplug/device"
)

// U8Eq is an optional exact-equality predicate over a uint8 attribute.
// The zero U8Eq (Set false) is a wildcard.
type U8Eq struct {
	Set   bool
	Value uint8
}

func Eq(v uint8) U8Eq { return U8Eq{Set: true, Value: v} }

func (p U8Eq) matches(v uint8) bool {
	return !p.Set || p.Value == v
}

// InterfacePredicate constrains a USB interface tuple; a rule matches on
// interfaces if at least one interface satisfies every present field.
type InterfacePredicate struct {
	Class    U8Eq
	Subclass U8Eq
	Protocol U8Eq
}

func (p InterfacePredicate) anySet() bool {
	return p.Class.Set || p.Subclass.Set || p.Protocol.Set
}

func (p InterfacePredicate) matches(i device.InterfaceInfo) bool {
	return p.Class.matches(i.Class) && p.Subclass.matches(i.Subclass) && p.Protocol.matches(i.Protocol)
}

// Rule is a single allow/deny predicate set. Absent fields (nil regex,
// unset U8Eq, empty string) are wildcards; a rule matches iff every
// present predicate is satisfied (§3).
type Rule struct {
	Description string
	Disable     bool

	// USB + PCI shared.
	Vid         string // lowercase hex, case-insensitive compare
	VendorName  *regexp.Regexp
	ProductName *regexp.Regexp
	DeviceClass U8Eq

	// USB.
	Pid               string
	DeviceSubclass    U8Eq
	DeviceProtocol    U8Eq
	Interface         InterfacePredicate

	// PCI.
	Did     string
	Address string // case-insensitive literal equality
}

func eqFold(pred, actual string) bool {
	return pred == "" || strings.EqualFold(pred, actual)
}

// MatchesUsb reports whether r matches dev (§4.3).
func (r *Rule) MatchesUsb(dev *device.UsbDevice) bool {
	if !eqFold(r.Vid, dev.Vid) || !eqFold(r.Pid, dev.Pid) {
		return false
	}

	if r.VendorName != nil && !r.VendorName.MatchString(dev.VendorName) {
		return false
	}

	if r.ProductName != nil && !r.ProductName.MatchString(dev.ProductName) {
		return false
	}

	if !r.DeviceClass.matches(dev.Class) || !r.DeviceSubclass.matches(dev.Subclass) || !r.DeviceProtocol.matches(dev.Protocol) {
		return false
	}

	if r.Interface.anySet() {
		matched := false
		for _, iface := range dev.Interfaces {
			if r.Interface.matches(iface) {
				matched = true
				break
			}
		}

		if !matched {
			return false
		}
	}

	return true
}

// MatchesPci reports whether r matches dev (§4.3).
func (r *Rule) MatchesPci(dev *device.PciDevice) bool {
	if !eqFold(r.Vid, dev.Vid) || !eqFold(r.Did, dev.Did) || !eqFold(r.Address, dev.Key.Address) {
		return false
	}

	if r.VendorName != nil && !r.VendorName.MatchString(dev.Description) {
		return false
	}

	if r.ProductName != nil && !r.ProductName.MatchString(dev.Description) {
		return false
	}

	if !r.DeviceClass.matches(dev.Class) {
		return false
	}

	return true
}

// RuleSet is an ordered allow/deny group addressed at one target VM.
type RuleSet struct {
	TargetVm    string
	Description string
	Allow       []Rule
	Deny        []Rule
}

// VerdictKind enumerates a single RuleSet's or the Engine's overall
// evaluation outcome.
type VerdictKind int

const (
	NoMatch VerdictKind = iota
	Allow
	Deny
	Disable
)

// Verdict is the Rule Engine's evaluation output for one device (§4.3).
type Verdict struct {
	Kind VerdictKind
	Vm   string // set iff Kind == Allow
}

// evalRuleSetUsb evaluates one RuleSet per the precedence in §3/§4.3:
// any matching deny rule wins locally; otherwise the first matching
// allow rule decides; otherwise NoMatch.
func evalRuleSetUsb(rs *RuleSet, dev *device.UsbDevice) Verdict {
	for i := range rs.Deny {
		if rs.Deny[i].MatchesUsb(dev) {
			return Verdict{Kind: Deny}
		}
	}

	for i := range rs.Allow {
		if rs.Allow[i].MatchesUsb(dev) {
			if rs.Allow[i].Disable {
				return Verdict{Kind: Disable}
			}

			return Verdict{Kind: Allow, Vm: rs.TargetVm}
		}
	}

	return Verdict{Kind: NoMatch}
}

func evalRuleSetPci(rs *RuleSet, dev *device.PciDevice) Verdict {
	for i := range rs.Deny {
		if rs.Deny[i].MatchesPci(dev) {
			return Verdict{Kind: Deny}
		}
	}

	for i := range rs.Allow {
		if rs.Allow[i].MatchesPci(dev) {
			if rs.Allow[i].Disable {
				return Verdict{Kind: Disable}
			}

			return Verdict{Kind: Allow, Vm: rs.TargetVm}
		}
	}

	return Verdict{Kind: NoMatch}
}

// decisive reports whether a per-RuleSet verdict stops the §4.3 step-1
// loop. A Deny is local to its RuleSet — it only prevents that
// RuleSet's own allow from firing — so it must not halt the search
// across RuleSets the way Allow/Disable do.
func decisive(kind VerdictKind) bool {
	return kind == Allow || kind == Disable
}

// EvaluateUsb returns the first RuleSet's decisive verdict in
// declaration order (§4.3 step 2: first-match tie-break), or NoMatch if
// none decided.
func EvaluateUsb(ruleSets []RuleSet, dev *device.UsbDevice) Verdict {
	for i := range ruleSets {
		if v := evalRuleSetUsb(&ruleSets[i], dev); decisive(v.Kind) {
			return v
		}
	}

	return Verdict{Kind: NoMatch}
}

// EvaluatePci mirrors EvaluateUsb for PCI devices.
func EvaluatePci(ruleSets []RuleSet, dev *device.PciDevice) Verdict {
	for i := range ruleSets {
		if v := evalRuleSetPci(&ruleSets[i], dev); decisive(v.Kind) {
			return v
		}
	}

	return Verdict{Kind: NoMatch}
}

// EligibleVmsUsb lists every RuleSet that independently allows dev, in
// declaration order. The Orchestrator uses this to detect the "multiple
// eligible VMs" case (§4.6) distinct from EvaluateUsb's first-match
// winner.
func EligibleVmsUsb(ruleSets []RuleSet, dev *device.UsbDevice) []string {
	var vms []string

	for i := range ruleSets {
		if v := evalRuleSetUsb(&ruleSets[i], dev); v.Kind == Allow {
			vms = append(vms, v.Vm)
		}
	}

	return vms
}

// EligibleVmsPci mirrors EligibleVmsUsb for PCI devices.
func EligibleVmsPci(ruleSets []RuleSet, dev *device.PciDevice) []string {
	var vms []string

	for i := range ruleSets {
		if v := evalRuleSetPci(&ruleSets[i], dev); v.Kind == Allow {
			vms = append(vms, v.Vm)
		}
	}

	return vms
}
