// Package pmu controls the RK3588 power management unit: power domains and
// bus idle requests.
//
// Both are requested with a self-masked write and acknowledged in a separate
// status register. Instead of sleeping a fixed time after a request, the
// status register is polled until the hardware reports the requested state.
package pmu

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/exp/maps"

	"github.com/rkdiag/rkregs/field"
	"github.com/rkdiag/rkregs/mmio"
	"github.com/rkdiag/rkregs/poll"
)

const (
	Base   = 0xfd8d_0000
	Length = 0x1000
)

// Register offsets
const (
	PwrdnCon      = 0x0000
	PwrdnSt       = 0x0004
	BusIdleReq    = 0x000c
	BusIdleSt     = 0x0010
	PowerSt       = 0x0014
	OscCnt        = 0x0020
	PllLockCnt    = 0x0024
	StableCnt     = 0x0028
	WakeupRstClr1 = 0x002c
	SftCon        = 0x0030
)

// Domain is a power domain bit in PWRDN_CON and POWER_ST.
type Domain uint8

const (
	CPU0 Domain = iota
	CPU1
	CPU2
	CPU3
	GPU
	NPU
	VCODEC
	VDU
	RGA
	VOP
	VI
	VO
	ISP
	PCIE
	PHP
)

var domainNames = map[string]Domain{
	"cpu0": CPU0, "cpu1": CPU1, "cpu2": CPU2, "cpu3": CPU3,
	"gpu": GPU, "npu": NPU, "vcodec": VCODEC, "vdu": VDU,
	"rga": RGA, "vop": VOP, "vi": VI, "vo": VO,
	"isp": ISP, "pcie": PCIE, "php": PHP,
}

// Bus is a bus interface bit in BUS_IDLE_REQ and BUS_IDLE_ST.
type Bus uint8

const (
	BusCPU Bus = iota
	BusPERI
	BusVIO
	BusVPU
	BusGPU
	BusNPU
)

var busNames = map[string]Bus{
	"cpu": BusCPU, "peri": BusPERI, "vio": BusVIO,
	"vpu": BusVPU, "gpu": BusGPU, "npu": BusNPU,
}

func nameOf[T comparable](names map[string]T, v T) (string, bool) {
	for name, vv := range names {
		if vv == v {
			return strings.ToUpper(name), true
		}
	}
	return "", false
}

func parse[T any](kind string, names map[string]T, s string) (T, error) {
	if v, ok := names[strings.ToLower(s)]; ok {
		return v, nil
	}
	known := maps.Keys(names)
	slices.Sort(known)
	var zero T
	return zero, fmt.Errorf("pmu: unknown %s %q (known: %s)", kind, s, strings.Join(known, ", "))
}

func (d Domain) String() string {
	if name, ok := nameOf(domainNames, d); ok {
		return name
	}
	return fmt.Sprintf("Domain(%d)", uint8(d))
}

func (b Bus) String() string {
	if name, ok := nameOf(busNames, b); ok {
		return name
	}
	return fmt.Sprintf("Bus(%d)", uint8(b))
}

// ParseDomain returns the power domain named s, ignoring case.
func ParseDomain(s string) (Domain, error) { return parse("power domain", domainNames, s) }

// ParseBus returns the bus named s, ignoring case.
func ParseBus(s string) (Bus, error) { return parse("bus", busNames, s) }

// AllDomains returns the known power domains ordered by bit.
func AllDomains() []Domain {
	d := maps.Values(domainNames)
	slices.Sort(d)
	return d
}

// AllBuses returns the known buses ordered by bit.
func AllBuses() []Bus {
	b := maps.Values(busNames)
	slices.Sort(b)
	return b
}

// TransitionTimeoutError is returned if the status register didn't
// acknowledge a request in time. The request itself stays in place.
type TransitionTimeoutError struct {
	What    string // e.g. "domain GPU off"
	Polls   int
	Status  uint32 // last status register value, unless ReadErr is set
	ReadErr error
}

func (e *TransitionTimeoutError) Error() string {
	if e.ReadErr != nil {
		return fmt.Sprintf("pmu: %s: not acknowledged after %d polls (status unreadable: %v)", e.What, e.Polls, e.ReadErr)
	}
	return fmt.Sprintf("pmu: %s: not acknowledged after %d polls (status %#08x)", e.What, e.Polls, e.Status)
}

// PMU drives the power management unit registers.
type PMU struct {
	regs mmio.Registers

	// Poller waits for acknowledges. The TRM doesn't specify transition
	// times, the default allows 10ms.
	Poller poll.Poller
}

func New(regs mmio.Registers) *PMU {
	return &PMU{
		regs:   regs,
		Poller: poll.Poller{MaxIterations: 1000, Delay: 10 * time.Microsecond},
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// request writes bit to reqOffset and waits for the same bit in stOffset to
// equal ack.
func (p *PMU) request(what string, reqOffset, stOffset uint32, bit uint8, req, ack bool) error {
	var v, want uint32
	if req {
		v = 1
	}
	if ack {
		want = 1 << bit
	}
	if p.Poller.MaxIterations <= 0 {
		return fmt.Errorf("pmu: %s: %w", what, poll.ErrNoIterations)
	}
	if err := field.Update(p.regs, reqOffset, field.SelfMasked, field.Value{Field: field.Bit(bit), V: v}); err != nil {
		return err
	}
	r, err := p.Poller.Wait(poll.BitsEqual(p.regs, stOffset, 1<<bit, want))
	if err != nil {
		return err
	}
	if !r.Done {
		terr := &TransitionTimeoutError{What: what, Polls: r.Polls}
		terr.Status, terr.ReadErr = p.regs.Read32(stOffset)
		return terr
	}
	return nil
}

// SetDomain powers domain d on or off and waits until POWER_ST agrees.
func (p *PMU) SetDomain(d Domain, on bool) error {
	return p.request("domain "+d.String()+" "+onOff(on), PwrdnCon, PowerSt, uint8(d), !on, on)
}

// RequestIdle requests bus b to go idle, or releases the request, and waits
// until BUS_IDLE_ST agrees.
func (p *PMU) RequestIdle(b Bus, idle bool) error {
	return p.request("bus "+b.String()+" idle "+onOff(idle), BusIdleReq, BusIdleSt, uint8(b), idle, idle)
}

// DomainStatus is the power state of a domain.
type DomainStatus struct {
	Domain Domain
	On     bool
}

// Domains returns the power state of all known domains.
func (p *PMU) Domains() ([]DomainStatus, error) {
	st, err := p.regs.Read32(PowerSt)
	if err != nil {
		return nil, err
	}
	var s []DomainStatus
	for _, d := range AllDomains() {
		s = append(s, DomainStatus{d, st&(1<<d) != 0})
	}
	return s, nil
}

// BusStatus is the idle state of a bus.
type BusStatus struct {
	Bus  Bus
	Idle bool
}

// Buses returns the idle state of all known buses.
func (p *PMU) Buses() ([]BusStatus, error) {
	st, err := p.regs.Read32(BusIdleSt)
	if err != nil {
		return nil, err
	}
	var s []BusStatus
	for _, b := range AllBuses() {
		s = append(s, BusStatus{b, st&(1<<b) != 0})
	}
	return s, nil
}
