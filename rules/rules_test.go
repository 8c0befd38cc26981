package rules_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tiiuae/vhotplug/device"
	"github.com/tiiuae/vhotplug/rules"
)

func mouse() *device.UsbDevice {
	return &device.UsbDevice{
		Key:         device.UsbKey{Bus: 2, Address: 5},
		Vid:         "046d",
		Pid:         "c52b",
		VendorName:  "Logitech, Inc.",
		ProductName: "Unifying Receiver",
		Bus:         2,
		Port:        "1.4",
		Interfaces: []device.InterfaceInfo{
			{Class: 0x03, Subclass: 0x01, Protocol: 0x02},
		},
	}
}

func TestRuleMatchesUsbByVidPid(t *testing.T) {
	r := rules.Rule{Vid: "046D", Pid: "C52B"}
	assert.True(t, r.MatchesUsb(mouse()))
}

func TestRuleMatchesUsbVidMismatch(t *testing.T) {
	r := rules.Rule{Vid: "ffff"}
	assert.False(t, r.MatchesUsb(mouse()))
}

func TestRuleMatchesUsbByVendorNameRegex(t *testing.T) {
	r := rules.Rule{VendorName: regexp.MustCompile("(?i)^(?:logitech.*)$")}
	assert.True(t, r.MatchesUsb(mouse()))
}

func TestRuleMatchesUsbByInterface(t *testing.T) {
	r := rules.Rule{Interface: rules.InterfacePredicate{Class: rules.Eq(0x03)}}
	assert.True(t, r.MatchesUsb(mouse()))

	r2 := rules.Rule{Interface: rules.InterfacePredicate{Class: rules.Eq(0x08)}}
	assert.False(t, r2.MatchesUsb(mouse()))
}

func TestEvaluateUsbDenyBeatsAllowWithinRuleSet(t *testing.T) {
	rs := rules.RuleSet{
		TargetVm: "vm-a",
		Allow:    []rules.Rule{{Vid: "046d"}},
		Deny:     []rules.Rule{{Vid: "046d", Pid: "c52b"}},
	}

	v := rules.EvaluateUsb([]rules.RuleSet{rs}, mouse())
	assert.Equal(t, rules.NoMatch, v.Kind)
}

// A deny is local to its RuleSet (§4.3): it must not stop the search
// across RuleSets, only prevent its own RuleSet's allow from firing.
func TestEvaluateUsbDenyContinuesToNextRuleSet(t *testing.T) {
	rsA := rules.RuleSet{TargetVm: "vm-a", Deny: []rules.Rule{{Vid: "046d", Pid: "c52b"}}}
	rsB := rules.RuleSet{TargetVm: "vm-b", Allow: []rules.Rule{{Vid: "046d"}}}

	v := rules.EvaluateUsb([]rules.RuleSet{rsA, rsB}, mouse())
	assert.Equal(t, rules.Allow, v.Kind)
	assert.Equal(t, "vm-b", v.Vm)
}

func TestEligibleVmsUsbSkipsDeniedRuleSet(t *testing.T) {
	rsA := rules.RuleSet{TargetVm: "vm-a", Deny: []rules.Rule{{Vid: "046d", Pid: "c52b"}}}
	rsB := rules.RuleSet{TargetVm: "vm-b", Allow: []rules.Rule{{Vid: "046d"}}}

	eligible := rules.EligibleVmsUsb([]rules.RuleSet{rsA, rsB}, mouse())
	assert.Equal(t, []string{"vm-b"}, eligible)
}

func TestEvaluateUsbFirstMatchingRuleSetWins(t *testing.T) {
	rsA := rules.RuleSet{TargetVm: "vm-a", Allow: []rules.Rule{{Vid: "046d"}}}
	rsB := rules.RuleSet{TargetVm: "vm-b", Allow: []rules.Rule{{Vid: "046d"}}}

	v := rules.EvaluateUsb([]rules.RuleSet{rsA, rsB}, mouse())
	assert.Equal(t, rules.Allow, v.Kind)
	assert.Equal(t, "vm-a", v.Vm)
}

func TestEvaluateUsbDisableRule(t *testing.T) {
	rs := rules.RuleSet{TargetVm: "vm-a", Allow: []rules.Rule{{Vid: "046d", Disable: true}}}

	v := rules.EvaluateUsb([]rules.RuleSet{rs}, mouse())
	assert.Equal(t, rules.Disable, v.Kind)
}

func TestEvaluateUsbNoMatch(t *testing.T) {
	rs := rules.RuleSet{TargetVm: "vm-a", Allow: []rules.Rule{{Vid: "ffff"}}}

	v := rules.EvaluateUsb([]rules.RuleSet{rs}, mouse())
	assert.Equal(t, rules.NoMatch, v.Kind)
}

func TestEligibleVmsUsbDetectsAmbiguity(t *testing.T) {
	rsA := rules.RuleSet{TargetVm: "vm-a", Allow: []rules.Rule{{Vid: "046d"}}}
	rsB := rules.RuleSet{TargetVm: "vm-b", Allow: []rules.Rule{{Vid: "046d"}}}

	eligible := rules.EligibleVmsUsb([]rules.RuleSet{rsA, rsB}, mouse())
	assert.ElementsMatch(t, []string{"vm-a", "vm-b"}, eligible)
}

func TestEligibleVmsUsbSingleMatch(t *testing.T) {
	rsA := rules.RuleSet{TargetVm: "vm-a", Allow: []rules.Rule{{Vid: "046d"}}}
	rsB := rules.RuleSet{TargetVm: "vm-b", Allow: []rules.Rule{{Vid: "ffff"}}}

	eligible := rules.EligibleVmsUsb([]rules.RuleSet{rsA, rsB}, mouse())
	assert.Equal(t, []string{"vm-a"}, eligible)
}

func nic() *device.PciDevice {
	return &device.PciDevice{
		Key:         device.PciKey{Address: "0000:00:1f.2"},
		Vid:         "8086",
		Did:         "a352",
		Class:       0x01,
		Description: "Intel Corp. SATA Controller",
	}
}

func TestRuleMatchesPciByAddress(t *testing.T) {
	r := rules.Rule{Address: "0000:00:1F.2"}
	assert.True(t, r.MatchesPci(nic()))
}

func TestEvaluatePciFirstMatchingRuleSetWins(t *testing.T) {
	rsA := rules.RuleSet{TargetVm: "vm-a", Allow: []rules.Rule{{Vid: "8086"}}}
	rsB := rules.RuleSet{TargetVm: "vm-b", Allow: []rules.Rule{{Vid: "8086"}}}

	v := rules.EvaluatePci([]rules.RuleSet{rsA, rsB}, nic())
	assert.Equal(t, "vm-a", v.Vm)
}
