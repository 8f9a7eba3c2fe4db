// Package board loads board profiles: where the register windows of a SoC
// are, and how its PLL and power sequencing is timed.
package board

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rkdiag/rkregs/cru"
	"github.com/rkdiag/rkregs/field"
	"github.com/rkdiag/rkregs/mmio"
	"github.com/rkdiag/rkregs/pll"
	"github.com/rkdiag/rkregs/pmu"
	"github.com/rkdiag/rkregs/poll"
)

//go:embed rk3588.yaml
var builtin []byte

// Window is a physical register range.
type Window struct {
	Base   uint64 `yaml:"base"`
	Length int    `yaml:"length"`
}

// Windows maps window names to ranges. A profile entry is applied on top of
// the existing window of the same name, so it can change only the base or
// the length.
type Windows map[string]Window

func (ws *Windows) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: windows must be a mapping", n.Line)
	}
	if *ws == nil {
		*ws = make(Windows)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		name, v := n.Content[i].Value, n.Content[i+1]
		if v.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: window %s must be a mapping", v.Line, name)
		}
		for j := 0; j+1 < len(v.Content); j += 2 {
			if k := v.Content[j]; k.Value != "base" && k.Value != "length" {
				return fmt.Errorf("line %d: field %s not found in window %s", k.Line, k.Value, name)
			}
		}
		w := (*ws)[name]
		if err := v.Decode(&w); err != nil {
			return err
		}
		(*ws)[name] = w
	}
	return nil
}

// Polling configures a poll.Poller.
type Polling struct {
	Iterations int           `yaml:"poll_iterations"`
	Delay      time.Duration `yaml:"poll_delay"`
}

func (p Polling) Poller() poll.Poller {
	return poll.Poller{MaxIterations: p.Iterations, Delay: p.Delay}
}

type PLL struct {
	Rule       string        `yaml:"rule"`
	Convention string        `yaml:"convention"`
	Settle     time.Duration `yaml:"settle"`
	Polling    `yaml:",inline"`
}

type Gates struct {
	Convention string `yaml:"convention"`
}

// Board is a board profile.
type Board struct {
	Name        string            `yaml:"name"`
	Windows     Windows           `yaml:"windows"`
	ReferenceHz uint64            `yaml:"reference_hz"`
	PLL         PLL               `yaml:"pll"`
	Gates       Gates             `yaml:"gates"`
	PMU         Polling           `yaml:"pmu"`

	// Mapper maps register windows, mmio.Map if nil.
	Mapper func(base uint64, length int) (*mmio.Window, error) `yaml:"-"`
}

// Default returns the built-in RK3588 profile.
func Default() *Board {
	b := new(Board)
	if err := b.decode(bytes.NewReader(builtin)); err != nil {
		panic(err)
	}
	return b
}

// Load returns the built-in profile with the profile at path applied on top.
// An empty path returns the built-in profile.
func Load(path string) (*Board, error) {
	b := Default()
	if path == "" {
		return b, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := b.decode(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

func (b *Board) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(b); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return b.Validate()
}

// Validate checks the profile for values that can't work on any hardware.
func (b *Board) Validate() error {
	for _, name := range []string{"cru", "pmu"} {
		if _, ok := b.Windows[name]; !ok {
			return fmt.Errorf("board: missing %s window", name)
		}
	}
	for name, w := range b.Windows {
		if w.Base%4 != 0 || w.Length <= 0 || w.Length%4 != 0 {
			return fmt.Errorf("board: window %s: invalid range %#x+%#x", name, w.Base, w.Length)
		}
	}
	if b.ReferenceHz == 0 {
		return errors.New("board: reference_hz must be positive")
	}
	if _, err := b.PLLLayout(); err != nil {
		return err
	}
	if _, err := field.ParseConvention(b.Gates.Convention); err != nil {
		return fmt.Errorf("board: gates: %w", err)
	}
	if b.PLL.Iterations <= 0 || b.PMU.Iterations <= 0 {
		return errors.New("board: poll_iterations must be positive")
	}
	if b.PLL.Settle < 0 || b.PLL.Delay < 0 || b.PMU.Delay < 0 {
		return errors.New("board: negative duration")
	}
	return nil
}

// PLLLayout returns the RK3588 GPLL layout with the profile's rule and write
// convention.
func (b *Board) PLLLayout() (pll.Layout, error) {
	l := pll.RK3588GPLL
	var err error
	if l.Rule, err = pll.ParseRule(b.PLL.Rule); err != nil {
		return l, fmt.Errorf("board: pll: %w", err)
	}
	if l.Convention, err = field.ParseConvention(b.PLL.Convention); err != nil {
		return l, fmt.Errorf("board: pll: %w", err)
	}
	if err = l.Validate(); err != nil {
		return l, fmt.Errorf("board: %w", err)
	}
	return l, nil
}

// Map maps the named window. The caller must close it.
func (b *Board) Map(name string) (*mmio.Window, error) {
	w, ok := b.Windows[name]
	if !ok {
		return nil, fmt.Errorf("board %s: no window %q", b.Name, name)
	}
	return b.MapRange(w.Base, w.Length)
}

// MapRange maps an arbitrary physical range with the board's mapper.
func (b *Board) MapRange(base uint64, length int) (*mmio.Window, error) {
	if b.Mapper != nil {
		return b.Mapper(base, length)
	}
	return mmio.Map(base, length)
}

// CRU returns a CRU over regs configured by the profile.
func (b *Board) CRU(regs mmio.Registers) (*cru.CRU, error) {
	l, err := b.PLLLayout()
	if err != nil {
		return nil, err
	}
	c := cru.New(regs, l)
	if c.GateConvention, err = field.ParseConvention(b.Gates.Convention); err != nil {
		return nil, err
	}
	p := c.GPLL()
	p.ReferenceHz = b.ReferenceHz
	p.Settle = b.PLL.Settle
	p.Poller = b.PLL.Poller()
	return c, nil
}

// NewPMU returns a PMU over regs configured by the profile.
func (b *Board) NewPMU(regs mmio.Registers) *pmu.PMU {
	p := pmu.New(regs)
	p.Poller = b.PMU.Poller()
	return p
}

// SelfMasked reports for the named window which register offsets use the
// self-masked write convention, so restoring a saved value doesn't need a
// read. Nil means all registers are plain.
func (b *Board) SelfMasked(window string) func(offset uint32) bool {
	var offsets []uint32
	switch window {
	case "cru":
		if l, err := b.PLLLayout(); err == nil && l.Convention == field.SelfMasked {
			offsets = append(offsets, l.Con0, l.Con1)
		}
		if c, _ := field.ParseConvention(b.Gates.Convention); c == field.SelfMasked {
			offsets = append(offsets, cru.ClkGateCon0)
		}
	case "pmu":
		offsets = append(offsets, pmu.PwrdnCon, pmu.BusIdleReq)
	}
	if offsets == nil {
		return nil
	}
	return func(offset uint32) bool {
		return slices.Contains(offsets, offset)
	}
}
