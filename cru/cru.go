// Package cru controls the RK3588 clock and reset unit: the general purpose
// PLL and peripheral clock gates.
package cru

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/rkdiag/rkregs/field"
	"github.com/rkdiag/rkregs/mmio"
	"github.com/rkdiag/rkregs/pll"
)

const (
	Base   = 0xfd7c_0000
	Length = 0x1000
)

// Register offsets
const (
	GPLLCon0    = 0x0040
	GPLLCon1    = 0x0044
	GPLLCon2    = 0x0048
	ModeCon0    = 0x0280
	ClkSelCon0  = 0x0300
	ClkGateCon0 = 0x0800
	SoftRstCon0 = 0x0a00
)

// Gate is a clock gate bit in CLKGATE_CON0. A set bit stops the clock.
type Gate uint8

const (
	PclkGPIO1 Gate = 3
	HclkSDMMC Gate = 4
	AclkUSB3  Gate = 5
)

var gateNames = map[string]Gate{
	"pclk_gpio1": PclkGPIO1,
	"hclk_sdmmc": HclkSDMMC,
	"aclk_usb3":  AclkUSB3,
}

// AllGates returns the known gates ordered by bit.
func AllGates() []Gate {
	gates := maps.Values(gateNames)
	slices.Sort(gates)
	return gates
}

func (g Gate) String() string {
	for name, gg := range gateNames {
		if gg == g {
			return strings.ToUpper(name)
		}
	}
	return fmt.Sprintf("Gate(%d)", uint8(g))
}

// ParseGate returns the gate named s, ignoring case.
func ParseGate(s string) (Gate, error) {
	if g, ok := gateNames[strings.ToLower(s)]; ok {
		return g, nil
	}
	known := maps.Keys(gateNames)
	slices.Sort(known)
	return 0, fmt.Errorf("cru: unknown clock gate %q (known: %s)", s, strings.Join(known, ", "))
}

// CRU drives the clock and reset unit registers.
type CRU struct {
	regs mmio.Registers
	gpll *pll.Programmer

	// GateConvention is the write convention of the CLKGATE registers.
	GateConvention field.Convention
}

// New returns a CRU using regs, which must cover the CRU window. gpll is the
// layout of the general purpose PLL, usually pll.RK3588GPLL.
func New(regs mmio.Registers, gpll pll.Layout) *CRU {
	return &CRU{regs: regs, gpll: pll.New(regs, gpll)}
}

// GPLL returns the programmer of the general purpose PLL.
func (c *CRU) GPLL() *pll.Programmer { return c.gpll }

// SetGate enables or disables the clock behind g.
func (c *CRU) SetGate(g Gate, enable bool) error {
	var v uint32 = 1
	if enable {
		v = 0
	}
	return field.Update(c.regs, ClkGateCon0, c.GateConvention, field.Value{Field: field.Bit(uint8(g)), V: v})
}

// GateStatus is the state of one clock gate.
type GateStatus struct {
	Gate    Gate
	Enabled bool
}

// Gates returns the state of all known gates.
func (c *CRU) Gates() ([]GateStatus, error) {
	v, err := mmio.Reg32[uint32](c.regs, ClkGateCon0).Load()
	if err != nil {
		return nil, err
	}
	var gates []GateStatus
	for _, g := range AllGates() {
		gates = append(gates, GateStatus{g, field.Extract(v, field.Bit(uint8(g))) == 0})
	}
	return gates, nil
}
