package pmu_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/rkdiag/rkregs/mmio"
	"github.com/rkdiag/rkregs/mmio/mmiotest"
	"github.com/rkdiag/rkregs/pmu"
	"github.com/rkdiag/rkregs/poll"
)

// newPMU returns a simulated PMU whose status registers follow the request
// registers after lag reads.
func newPMU(lag int) (*mmiotest.Bank, *pmu.PMU) {
	bank := mmiotest.NewBank(pmu.Base, pmu.Length)
	bank.SetMasked(pmu.PwrdnCon, pmu.BusIdleReq)
	bank.Poke(pmu.PowerSt, 0x7fff)
	pending := map[uint32]int{}
	bank.OnWrite = func(offset, stored uint32) {
		pending[offset] = lag
	}
	bank.OnRead = func(offset uint32, n int, v uint32) uint32 {
		var req uint32
		var invert bool
		switch offset {
		case pmu.PowerSt:
			req, invert = pmu.PwrdnCon, true
		case pmu.BusIdleSt:
			req = pmu.BusIdleReq
		default:
			return v
		}
		if pending[req] > 0 {
			pending[req]--
			return v
		}
		v = bank.Peek(req) & 0xffff
		if invert {
			v = ^v & 0x7fff
		}
		bank.Poke(offset, v)
		return v
	}
	p := pmu.New(bank)
	p.Poller.Sleep = func(time.Duration) {}
	return bank, p
}

func TestSetDomain(t *testing.T) {
	bank, p := newPMU(3)
	if err := p.SetDomain(pmu.GPU, false); err != nil {
		t.Fatal(err)
	}
	if w := bank.Writes(pmu.PwrdnCon); !slices.Equal(w, []uint32{0x0010_0010}) {
		t.Errorf("unexpected writes %#x", w)
	}
	if n := bank.Reads(pmu.PowerSt); n != 4 {
		t.Errorf("expected 4 status polls, got %d", n)
	}
	domains, err := p.Domains()
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range domains {
		if d.On == (d.Domain == pmu.GPU) {
			t.Errorf("%v: unexpected state on=%v", d.Domain, d.On)
		}
	}

	if err := p.SetDomain(pmu.GPU, true); err != nil {
		t.Fatal(err)
	}
	if v := bank.Peek(pmu.PowerSt); v != 0x7fff {
		t.Errorf("expected all domains on, got %#x", v)
	}
}

func TestSetDomainTimeout(t *testing.T) {
	bank := mmiotest.NewBank(pmu.Base, pmu.Length)
	bank.SetMasked(pmu.PwrdnCon)
	p := pmu.New(bank)
	p.Poller.MaxIterations = 7
	p.Poller.Sleep = func(time.Duration) {}

	err := p.SetDomain(pmu.NPU, true)
	var terr *pmu.TransitionTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionTimeoutError, got %v", err)
	}
	if terr.Polls != 7 || terr.What != "domain NPU on" {
		t.Errorf("unexpected error %+v", terr)
	}
}

func TestNoIterations(t *testing.T) {
	bank, p := newPMU(0)
	p.Poller.MaxIterations = 0
	if err := p.SetDomain(pmu.GPU, false); !errors.Is(err, poll.ErrNoIterations) {
		t.Fatalf("expected ErrNoIterations, got %v", err)
	}
	if w := bank.Writes(pmu.PwrdnCon); len(w) != 0 {
		t.Errorf("request written: %#x", w)
	}
}

type readLimit struct {
	mmio.Registers
	n int
}

func (r *readLimit) Read32(offset uint32) (uint32, error) {
	if r.n == 0 {
		return 0, mmio.ErrClosed
	}
	r.n--
	return r.Registers.Read32(offset)
}

func TestTimeoutStatusUnreadable(t *testing.T) {
	bank := mmiotest.NewBank(pmu.Base, pmu.Length)
	p := pmu.New(&readLimit{bank, 2})
	p.Poller.MaxIterations = 2
	p.Poller.Sleep = func(time.Duration) {}

	err := p.RequestIdle(pmu.BusGPU, true)
	var terr *pmu.TransitionTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionTimeoutError, got %v", err)
	}
	if !errors.Is(terr.ReadErr, mmio.ErrClosed) {
		t.Errorf("status read error not reported: %v", terr.ReadErr)
	}
}

func TestRequestIdle(t *testing.T) {
	bank, p := newPMU(1)
	if err := p.RequestIdle(pmu.BusNPU, true); err != nil {
		t.Fatal(err)
	}
	if v := bank.Peek(pmu.BusIdleReq); v != 0x20 {
		t.Errorf("expected idle request 0x20, got %#x", v)
	}
	buses, err := p.Buses()
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range buses {
		if b.Idle != (b.Bus == pmu.BusNPU) {
			t.Errorf("%v: unexpected idle=%v", b.Bus, b.Idle)
		}
	}
	if err := p.RequestIdle(pmu.BusNPU, false); err != nil {
		t.Fatal(err)
	}
	if v := bank.Peek(pmu.BusIdleSt); v != 0 {
		t.Errorf("expected no idle buses, got %#x", v)
	}
}

func TestParse(t *testing.T) {
	for _, d := range pmu.AllDomains() {
		got, err := pmu.ParseDomain(d.String())
		if err != nil || got != d {
			t.Errorf("%v: got %v, %v", d, got, err)
		}
	}
	for _, b := range pmu.AllBuses() {
		got, err := pmu.ParseBus(b.String())
		if err != nil || got != b {
			t.Errorf("%v: got %v, %v", b, got, err)
		}
	}
	if len(pmu.AllDomains()) != 15 || len(pmu.AllBuses()) != 6 {
		t.Error("unexpected number of domains or buses")
	}
	if _, err := pmu.ParseDomain("gpu2"); err == nil {
		t.Error("expected error for unknown domain")
	}
}
