package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	tty "github.com/mattn/go-tty"
	"github.com/spf13/cobra"

	"omibyte.io/rvrtos/config"
	"omibyte.io/rvrtos/sim"
	"omibyte.io/rvrtos/trace"
)

const ctrlC = 0x03

var (
	runOpts = struct {
		ticks    uint64
		input    string
		tty      bool
		realtime bool
		trace    bool
		stats    bool
	}{}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the UART DMA echo demo",
		Long: `Run the demo until the tick limit, the end of --input, or an interrupt.
UART0 (the log) and UART1 output go to stdout. With --tty the terminal is
put in raw mode and connected to UART1; press Ctrl-C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ticks") {
				cfg.Kernel.TickLimit = runOpts.ticks
			}

			opts := sim.Options{
				Console:  os.Stdout,
				Port:     os.Stdout,
				Realtime: runOpts.realtime,
			}
			if len(runOpts.input) > 0 {
				opts.Input = []byte(runOpts.input)
				opts.StopAfterInput = true
			}

			var term *tty.TTY
			if runOpts.tty {
				if term, err = tty.Open(); err != nil {
					return err
				}
				defer term.Close()
				restore, err := term.Raw()
				if err != nil {
					return err
				}
				defer restore()
				opts.Console = term.Output()
				opts.Port = term.Output()
				opts.Realtime = true
			}

			s, err := sim.New(cfg, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if term != nil {
				s.Attach(&interruptReader{r: term.Input(), stop: s.Stop})
			} else {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt)
				defer signal.Stop(sig)
				go func() {
					if _, ok := <-sig; ok {
						s.Stop()
					}
				}()
			}

			runErr := s.Run()

			if runOpts.stats {
				printStats(os.Stderr, s)
			}
			if rec := s.Kernel.Trace(); runOpts.trace && rec != nil {
				trace.Dump(os.Stderr, rec.Events(), taskNames(s))
				if n := rec.Dropped(); n > 0 {
					fmt.Fprintf(os.Stderr, "%d older events dropped\n", n)
				}
			}
			return runErr
		},
	}
)

func init() {
	runCmd.Flags().Uint64VarP(&runOpts.ticks, "ticks", "t", 0, "halt after this many ticks (0 runs until stopped)")
	runCmd.Flags().StringVarP(&runOpts.input, "input", "i", "", "bytes to send to UART1, one frame at a time")
	runCmd.Flags().BoolVar(&runOpts.tty, "tty", false, "connect UART1 to the terminal")
	runCmd.Flags().BoolVar(&runOpts.realtime, "realtime", false, "pace the simulation to the wall clock")
	runCmd.Flags().BoolVar(&runOpts.trace, "trace", false, "dump the event trace to stderr on exit")
	runCmd.Flags().BoolVar(&runOpts.stats, "stats", false, "print task statistics to stderr on exit")
}

// interruptReader stops the machine when the terminal sends Ctrl-C.
type interruptReader struct {
	r    io.Reader
	stop func()
}

func (r *interruptReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if i := bytes.IndexByte(p[:n], ctrlC); i >= 0 {
		r.stop()
		return i, io.EOF
	}
	return n, err
}

func taskNames(s *sim.System) func(id int) string {
	names := map[int]string{}
	for _, t := range s.Kernel.Tasks() {
		names[t.ID] = t.Name
	}
	return func(id int) string {
		if name, ok := names[id]; ok {
			return name
		}
		return fmt.Sprint(id)
	}
}

func printStats(w io.Writer, s *sim.System) {
	clock := s.Machine.CPU().Clock()
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tPRIO\tCPU\tSTACK FREE")
	for _, t := range s.Kernel.Tasks() {
		share := 0.0
		if clock > 0 {
			share = 100 * float64(t.RunCycles) / float64(clock)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%.1f%%\t%d\n", t.ID, t.Name, t.State, t.Priority, share, t.StackHighWater)
	}
	tw.Flush()
	fmt.Fprintf(w, "ticks %d, heap %+v, UART1 overruns %d\n", s.Kernel.TickCount(), s.Kernel.HeapStats(), s.Board.UART1.Overruns())
}
