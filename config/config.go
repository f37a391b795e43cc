// Package config loads the YAML description of a simulated system: kernel
// options, the board and logging.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"omibyte.io/rvrtos/board"
	"omibyte.io/rvrtos/hal"
	"omibyte.io/rvrtos/kernel"
	"omibyte.io/rvrtos/logger"
	"omibyte.io/rvrtos/targets"
)

//go:embed default.yaml
var rawDefault []byte

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Kernel Kernel `yaml:"kernel"`
	Board  Board  `yaml:"board"`
	Log    Log    `yaml:"log"`
}

type Kernel struct {
	CPUClockHz          uint64 `yaml:"cpu_clock_hz"`
	TickRateHz          uint32 `yaml:"tick_rate_hz"`
	MaxPriorities       int    `yaml:"max_priorities"`
	MinimalStackSize    int    `yaml:"minimal_stack_size"`
	MaxStackSize        int    `yaml:"max_stack_size"`
	TotalHeapSize       int    `yaml:"total_heap_size"`
	MaxTaskNameLen      int    `yaml:"max_task_name_len"`
	MaxTasks            int    `yaml:"max_tasks"`
	UsePreemption       bool   `yaml:"use_preemption"`
	UseTimeSlicing      bool   `yaml:"use_time_slicing"`
	NestedInterrupts    bool   `yaml:"nested_interrupts"`
	TickPriority        uint8  `yaml:"tick_priority"`
	UseTimers           bool   `yaml:"use_timers"`
	TimerTaskPriority   int    `yaml:"timer_task_priority"`
	TimerQueueLength    int    `yaml:"timer_queue_length"`
	TimerTaskStackDepth int    `yaml:"timer_task_stack_depth"`
	TraceCapacity       int    `yaml:"trace_capacity"`
	TickLimit           uint64 `yaml:"tick_limit"`
}

type Board struct {
	Chip           string `yaml:"chip"`
	ConsoleBaud    int    `yaml:"console_baud"`
	UARTBaud       int    `yaml:"uart_baud"`
	EchoBufferSize int    `yaml:"echo_buffer_size"`
	StaticSize     int    `yaml:"static_size"`
}

type Log struct {
	Level string `yaml:"level"`
}

// Default returns the embedded defaults.
func Default() Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Parse overlays data on top of the defaults. Keys missing from data keep
// their default value; unknown keys are an error.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(rawDefault, &cfg); err != nil {
		return Config{}, err
	}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, errors.Join(ErrInvalidConfig, err)
		}
	}
	return cfg, cfg.Validate()
}

// Load reads the file at path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
	}

	if c.Kernel.CPUClockHz == 0 {
		add("kernel.cpu_clock_hz must be positive")
	} else if c.Kernel.TickRateHz > 0 && uint64(c.Kernel.TickRateHz) > c.Kernel.CPUClockHz {
		add("kernel.tick_rate_hz %d above the cpu clock", c.Kernel.TickRateHz)
	}
	if c.Kernel.TraceCapacity < 0 {
		add("kernel.trace_capacity %d negative", c.Kernel.TraceCapacity)
	}
	opts := c.KernelOptions()
	if err := opts.Validate(); err != nil {
		errs = append(errs, err)
	}

	chip, err := targets.All().FindByChip(c.Board.Chip)
	if err != nil {
		errs = append(errs, err)
	} else {
		if chip.NumSources < 2 {
			add("board.chip %s has no interrupt sources", c.Board.Chip)
		}
		if c.Board.StaticSize < c.Board.EchoBufferSize || c.Board.StaticSize > chip.SRAMSize {
			add("board.static_size %d outside %d..%d", c.Board.StaticSize, c.Board.EchoBufferSize, chip.SRAMSize)
		}
	}
	for name, baud := range map[string]int{"console_baud": c.Board.ConsoleBaud, "uart_baud": c.Board.UARTBaud} {
		if baud <= 0 || uint64(baud)*10 > c.Kernel.CPUClockHz {
			add("board.%s %d not reachable from a %d Hz clock", name, baud, c.Kernel.CPUClockHz)
		}
	}
	if c.Board.EchoBufferSize <= 0 {
		add("board.echo_buffer_size %d must be positive", c.Board.EchoBufferSize)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, errors.Join(ErrInvalidConfig, err))
	}
	return errors.Join(errs...)
}

// KernelOptions translates the kernel section. The logger is left unset.
func (c *Config) KernelOptions() kernel.Options {
	k := c.Kernel
	opts := kernel.DefaultOptions()
	opts.TickRateHz = k.TickRateHz
	opts.MaxPriorities = k.MaxPriorities
	opts.MinimalStackSize = k.MinimalStackSize
	opts.MaxStackSize = k.MaxStackSize
	opts.TotalHeapSize = k.TotalHeapSize
	opts.MaxTaskNameLen = k.MaxTaskNameLen
	opts.MaxTasks = k.MaxTasks
	opts.Preemption = k.UsePreemption
	opts.TimeSlicing = k.UseTimeSlicing
	opts.NestedInterrupts = k.NestedInterrupts
	opts.TickPriority = k.TickPriority
	opts.UseTimers = k.UseTimers
	opts.TimerTaskPriority = k.TimerTaskPriority
	opts.TimerQueueLength = k.TimerQueueLength
	opts.TimerTaskStackDepth = k.TimerTaskStackDepth
	opts.TraceCapacity = k.TraceCapacity
	opts.TickLimit = k.TickLimit
	return opts
}

// MachineConfig sizes the machine for the configured chip. The kernel heap
// and the static region both live in SRAM.
func (c *Config) MachineConfig() (hal.Config, error) {
	chip, err := targets.All().FindByChip(c.Board.Chip)
	if err != nil {
		return hal.Config{}, err
	}
	cfg := hal.DefaultConfig()
	cfg.ClockHz = c.Kernel.CPUClockHz
	cfg.SRAMSize = chip.SRAMSize
	cfg.StaticSize = c.Board.StaticSize
	cfg.NumSources = chip.NumSources
	return cfg, nil
}

func (c *Config) BoardConfig() (board.Config, error) {
	chip, err := targets.All().FindByChip(c.Board.Chip)
	if err != nil {
		return board.Config{}, err
	}
	return board.Config{
		Chip:      chip,
		UART0Baud: c.Board.ConsoleBaud,
		UART1Baud: c.Board.UARTBaud,
	}, nil
}

// LogLevel returns the configured level, LevelInfo if it does not parse.
func (c *Config) LogLevel() logger.Level {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return logger.LevelInfo
	}
	return level
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
