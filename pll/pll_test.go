package pll_test

import (
	"bytes"
	"errors"
	"log"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rkdiag/rkregs/field"
	"github.com/rkdiag/rkregs/mmio"
	"github.com/rkdiag/rkregs/mmio/mmiotest"
	"github.com/rkdiag/rkregs/pll"
	"github.com/rkdiag/rkregs/poll"
)

const refHz = 24_000_000

func TestDerive(t *testing.T) {
	tests := []struct {
		rule   pll.Rule
		target uint64
		want   pll.Dividers
	}{
		{pll.Enhanced, 600_000_000, pll.Dividers{FbDiv: 25, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}},
		{pll.Enhanced, 200_000_000, pll.Dividers{FbDiv: 16, PostDiv1: 2, PostDiv2: 1, RefDiv: 1}},
		{pll.Enhanced, 816_000_000, pll.Dividers{FbDiv: 34, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}},
		{pll.Enhanced, 1_200_000_000, pll.Dividers{FbDiv: 50, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}},
		{pll.Enhanced, 399_999_999, pll.Dividers{FbDiv: 33, PostDiv1: 2, PostDiv2: 1, RefDiv: 1}},
		{pll.Enhanced, 400_000_000, pll.Dividers{FbDiv: 16, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}},
		{pll.Simplified, 200_000_000, pll.Dividers{FbDiv: 8, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}},
		{pll.Simplified, 1_000_000_000, pll.Dividers{FbDiv: 41, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}},
	}
	for _, tc := range tests {
		got := pll.Derive(tc.rule, tc.target, refHz)
		if got != tc.want {
			t.Errorf("%v %d Hz: expected %v, got %v", tc.rule, tc.target, tc.want, got)
		}
	}

	d := pll.Derive(pll.Enhanced, 200_000_000, refHz)
	if vco := d.VCO(refHz); vco != 384_000_000 {
		t.Errorf("expected truncated vco 384 MHz, got %d", vco)
	}
	if rate := d.Rate(refHz); rate != 192_000_000 {
		t.Errorf("expected truncated rate 192 MHz, got %d", rate)
	}
	if d := pll.Derive(pll.Enhanced, 816_000_000, 0); d.FbDiv != 0 {
		t.Errorf("zero reference: expected fbdiv 0, got %d", d.FbDiv)
	}
}

func TestCheck(t *testing.T) {
	l := pll.RK3588GPLL
	tests := []struct {
		d   pll.Dividers
		ref uint64
		err error
	}{
		{pll.Dividers{FbDiv: 34, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}, refHz, nil},
		{pll.Dividers{FbDiv: 25, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}, refHz, pll.ErrVCORange},
		{pll.Dividers{FbDiv: 84, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}, refHz, pll.ErrVCORange},
		{pll.Dividers{FbDiv: 256, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}, refHz, pll.ErrDividerRange},
		{pll.Dividers{FbDiv: 34, PostDiv1: 8, PostDiv2: 1, RefDiv: 1}, refHz, pll.ErrDividerRange},
		{pll.Dividers{FbDiv: 34, PostDiv1: 1, PostDiv2: 0, RefDiv: 1}, refHz, pll.ErrDividerRange},
		{pll.Dividers{FbDiv: 34, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}, 0, pll.ErrReference},
	}
	for _, tc := range tests {
		err := l.Check(tc.d, tc.ref)
		if !errors.Is(err, tc.err) {
			t.Errorf("%v: expected %v, got %v", tc.d, tc.err, err)
		}
		var cerr *pll.ConfigError
		if tc.err != nil && !errors.As(err, &cerr) {
			t.Errorf("%v: expected ConfigError, got %T", tc.d, err)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := pll.RK3588GPLL.Validate(); err != nil {
		t.Fatal(err)
	}
	l := pll.RK3588GPLL
	l.FbDiv = field.Field{Shift: 16, Width: 8}
	if err := l.Validate(); !errors.Is(err, field.ErrNotMaskable) {
		t.Errorf("expected ErrNotMaskable, got %v", err)
	}
	l.Convention = field.Plain
	if err := l.Validate(); err != nil {
		t.Errorf("plain layout may use upper bits: %v", err)
	}
	l.MinVCO = 0
	if err := l.Validate(); err == nil {
		t.Error("expected error for empty VCO range")
	}
}

type sleeper struct{ delays []time.Duration }

func (s *sleeper) sleep(d time.Duration) { s.delays = append(s.delays, d) }

// newGPLL returns a simulated CRU that sets the lock bit on the lockAt'th read
// of CON0, or never if lockAt is 0.
func newGPLL(lockAt int) (*mmiotest.Bank, *pll.Programmer, *sleeper) {
	l := pll.RK3588GPLL
	bank := mmiotest.NewBank(0xfd7c_0000, 0x1000)
	bank.SetMasked(l.Con0, l.Con1)
	bank.OnRead = func(offset uint32, n int, v uint32) uint32 {
		if offset == l.Con0 && lockAt > 0 && n+1 >= lockAt {
			v |= 1 << 31
		}
		return v
	}
	var s sleeper
	p := pll.New(bank, l)
	p.Sleep = s.sleep
	return bank, p, &s
}

func TestConfigureLocks(t *testing.T) {
	bank, p, s := newGPLL(5)
	r, err := p.Configure(816_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Locked || r.Polls != 5 {
		t.Errorf("expected lock after 5 polls, got %+v", r)
	}
	if p.State() != pll.Locked {
		t.Errorf("expected state locked, got %v", p.State())
	}
	want := pll.Dividers{FbDiv: 34, PostDiv1: 1, PostDiv2: 1, RefDiv: 1}
	if r.Dividers != want {
		t.Errorf("expected %v, got %v", want, r.Dividers)
	}

	// power down, fbdiv, power up
	if w := bank.Writes(0x40); !slices.Equal(w, []uint32{0x0001_0001, 0xff00_2200, 0x0001_0000}) {
		t.Errorf("unexpected CON0 writes %#x", w)
	}
	if w := bank.Writes(0x44); !slices.Equal(w, []uint32{0x3f77_0111}) {
		t.Errorf("unexpected CON1 writes %#x", w)
	}
	if v := bank.Peek(0x40); v != 0x2200 {
		t.Errorf("CON0: expected 0x2200, got %#x", v)
	}
	if v := bank.Peek(0x44); v != 0x111 {
		t.Errorf("CON1: expected 0x111, got %#x", v)
	}

	wantDelays := []time.Duration{pll.DefaultSettle, time.Microsecond, time.Microsecond, time.Microsecond, time.Microsecond}
	if !slices.Equal(s.delays, wantDelays) {
		t.Errorf("expected delays %v, got %v", wantDelays, s.delays)
	}

	// power down must be written before any divider
	var order []uint32
	for _, a := range bank.Log {
		if a.Write {
			order = append(order, a.Offset)
		}
	}
	if !slices.Equal(order, []uint32{0x40, 0x40, 0x44, 0x40}) {
		t.Errorf("unexpected write order %#x", order)
	}
}

func TestConfigureLockedImmediately(t *testing.T) {
	_, p, s := newGPLL(1)
	r, err := p.Configure(1_200_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Locked || r.Polls != 1 {
		t.Errorf("expected lock after 1 poll, got %+v", r)
	}
	if len(s.delays) != 1 {
		t.Errorf("expected only the settle delay, got %v", s.delays)
	}
}

func TestConfigureTimeout(t *testing.T) {
	bank, p, _ := newGPLL(0)
	p.Poller.MaxIterations = 200
	r, err := p.Configure(816_000_000)

	var terr *pll.LockTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected LockTimeoutError, got %v", err)
	}
	if !errors.Is(err, pll.ErrLockTimeout) {
		t.Error("LockTimeoutError should match ErrLockTimeout")
	}
	if r.Locked || r.Polls != 200 || terr.Polls != 200 {
		t.Errorf("expected 200 polls, got %+v, %d", r, terr.Polls)
	}
	if terr.Con0 != 0x2200 || terr.Con1 != 0x111 {
		t.Errorf("unexpected diagnostics con0 %#x con1 %#x", terr.Con0, terr.Con1)
	}
	if p.State() != pll.TimedOut {
		t.Errorf("expected state timed out, got %v", p.State())
	}
	// 200 polls plus one diagnostic read
	if n := bank.Reads(0x40); n != 201 {
		t.Errorf("expected 201 CON0 reads, got %d", n)
	}
}

func TestConfigureRejected(t *testing.T) {
	for _, target := range []uint64{0, 200_000_000, 600_000_000, 3_000_000_000} {
		bank, p, _ := newGPLL(1)
		_, err := p.Configure(target)
		var cerr *pll.ConfigError
		if !errors.As(err, &cerr) {
			t.Errorf("%d Hz: expected ConfigError, got %v", target, err)
			continue
		}
		if cerr.TargetHz != target {
			t.Errorf("%d Hz: error reports %d Hz", target, cerr.TargetHz)
		}
		if len(bank.Log) != 0 {
			t.Errorf("%d Hz: hardware touched: %v", target, bank.Log)
		}
		if p.State() != pll.Idle {
			t.Errorf("%d Hz: expected state idle, got %v", target, p.State())
		}
	}
}

func TestConfigureNoIterations(t *testing.T) {
	bank, p, _ := newGPLL(1)
	p.Poller.MaxIterations = 0
	_, err := p.Configure(816_000_000)
	var cerr *pll.ConfigError
	if !errors.As(err, &cerr) || !errors.Is(err, poll.ErrNoIterations) {
		t.Fatalf("expected ConfigError for ErrNoIterations, got %v", err)
	}
	if len(bank.Log) != 0 {
		t.Errorf("hardware touched: %v", bank.Log)
	}
	if p.State() != pll.Idle {
		t.Errorf("expected state idle, got %v", p.State())
	}
}

// readLimit fails every read after the first n.
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

func TestConfigureTimeoutUnreadable(t *testing.T) {
	bank := mmiotest.NewBank(0xfd7c_0000, 0x1000)
	bank.Poke(0x44, 0x111)
	p := pll.New(&readLimit{bank, 3}, pll.RK3588GPLL)
	p.Sleep = func(time.Duration) {}
	p.Poller.MaxIterations = 3

	_, err := p.Configure(816_000_000)
	var terr *pll.LockTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected LockTimeoutError, got %v", err)
	}
	if !errors.Is(terr.ReadErr, mmio.ErrClosed) {
		t.Errorf("diagnostic read error not reported: %v", terr.ReadErr)
	}
	if !strings.Contains(err.Error(), "unreadable") {
		t.Errorf("error hides the failed read: %v", err)
	}
}

func TestConfigurePlain(t *testing.T) {
	l := pll.RK3588GPLL
	l.Convention = field.Plain
	bank := mmiotest.NewBank(0, 0x100)
	bank.Poke(l.Con0, 0x0001_00f0)
	bank.Poke(l.Con1, 0x8000_c000)
	bank.OnRead = func(offset uint32, n int, v uint32) uint32 {
		if offset == l.Con0 && v&1 == 0 && v&0xff00 == 0x2200 {
			v |= 1 << 31
		}
		return v
	}
	p := pll.New(bank, l)
	p.Sleep = func(time.Duration) {}

	r, err := p.Configure(816_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if !r.Locked || r.Polls != 1 {
		t.Errorf("expected lock after 1 poll, got %+v", r)
	}
	if v := bank.Peek(l.Con0); v != 0x0001_22f0 {
		t.Errorf("CON0: expected 0x000122f0, got %#x", v)
	}
	if v := bank.Peek(l.Con1); v != 0x8000_c111 {
		t.Errorf("CON1: expected 0x8000c111, got %#x", v)
	}
}

func TestConfigureBounds(t *testing.T) {
	l := pll.RK3588GPLL
	l.Con1 = 0x2000
	bank := mmiotest.NewBank(0, 0x1000)
	p := pll.New(bank, l)
	p.Sleep = func(time.Duration) {}
	_, err := p.Configure(816_000_000)
	if !errors.Is(err, mmio.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if p.State() != pll.PoweredDown {
		t.Errorf("expected to stop at powered down, got %v", p.State())
	}
}

func TestStatus(t *testing.T) {
	bank, p, _ := newGPLL(1)
	if _, err := p.Configure(816_000_000); err != nil {
		t.Fatal(err)
	}
	s, err := p.Status()
	if err != nil {
		t.Fatal(err)
	}
	if s.PoweredDown || !s.Locked || s.RateHz != 816_000_000 {
		t.Errorf("unexpected status %+v", s)
	}

	bank.Poke(0x40, 0x2201)
	s, err = p.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !s.PoweredDown || s.RateHz != 0 {
		t.Errorf("expected powered down without rate, got %+v", s)
	}
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	_, p, _ := newGPLL(2)
	p.Log = log.New(&buf, "", 0)
	if _, err := p.Configure(816_000_000); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"powered down", "fields programmed", "powered up", "locked"} {
		if !strings.Contains(buf.String(), s) {
			t.Errorf("log misses %q:\n%s", s, buf.String())
		}
	}
}
