package targets

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

//go:embed targets.yaml
var rawTargets []byte

var targets Targets

var (
	ErrTargetNotFound    = errors.New("target not found")
	ErrInterruptNotFound = errors.New("interrupt source not found")
)

func All() Targets {
	return targets
}

type Targets []TargetInfo
type TargetInfo struct {
	Series            string         `yaml:"series"`
	Chips             []string       `yaml:"chips"`
	Description       string         `yaml:"description"`
	Cpu               string         `yaml:"cpu"`
	Architecture      string         `yaml:"architecture"`
	Features          []string       `yaml:"features"`
	ClockHz           uint64         `yaml:"clockHz"`
	HSEHz             uint64         `yaml:"hseHz"`
	SRAMSize          int            `yaml:"sramSize"`
	NumSources        int            `yaml:"numSources"`
	DMAChannels       int            `yaml:"dmaChannels"`
	DMAChannelsPerIrq int            `yaml:"dmaChannelsPerIrq"`
	Interrupts        map[string]int `yaml:"interrupts"`
}

// ISA returns the ISA string, e.g. rv32imfc.
func (t TargetInfo) ISA() string {
	return t.Architecture + strings.Join(t.Features, "")
}

// IRQ returns the PLIC source number of a peripheral interrupt.
func (t TargetInfo) IRQ(name string) (int, error) {
	src, ok := t.Interrupts[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s on %s", ErrInterruptNotFound, name, t.Series)
	}
	return src, nil
}

// DMAIRQ returns the PLIC source raised when a DMA channel completes.
// Channels share sources in groups of DMAChannelsPerIrq.
func (t TargetInfo) DMAIRQ(channel int) (int, error) {
	if channel < 0 || channel >= t.DMAChannels || t.DMAChannelsPerIrq <= 0 {
		return 0, fmt.Errorf("%w: dma channel %d on %s", ErrInterruptNotFound, channel, t.Series)
	}
	return t.IRQ(fmt.Sprint("dma", channel/t.DMAChannelsPerIrq))
}

// InterruptNames lists the named sources in ascending source order.
func (t TargetInfo) InterruptNames() []string {
	names := maps.Keys(t.Interrupts)
	slices.SortFunc(names, func(a, b string) bool {
		return t.Interrupts[a] < t.Interrupts[b]
	})
	return names
}

func (t Targets) FindBySeries(name string) (TargetInfo, error) {
	for _, target := range t {
		if target.Series == strings.ToLower(name) {
			return target, nil
		}
	}
	return TargetInfo{}, fmt.Errorf("%w: series %s", ErrTargetNotFound, name)
}

func (t Targets) FindByChip(name string) (TargetInfo, error) {
	for _, target := range t {
		if slices.Contains(target.Chips, strings.ToLower(name)) {
			return target, nil
		}
	}
	return TargetInfo{}, fmt.Errorf("%w: chip %s", ErrTargetNotFound, name)
}

func init() {
	var t struct {
		Elements []TargetInfo `yaml:"targets"`
	}
	if err := yaml.Unmarshal(rawTargets, &t); err != nil {
		panic(err)
	}

	targets = t.Elements
}
