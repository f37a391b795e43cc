package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "rvsim",
		Short: "Simulated RISC-V RTOS",
		Long: `rvsim runs a preemptive RTOS on a cycle counted RISC-V microcontroller
model. The bundled application blinks the LEDs from a timer interrupt and
echoes UART1 input back through DMA.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file (default: built in)")
	rootCmd.AddCommand(runCmd, configCmd, jitterCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rvsim:", err)
		os.Exit(1)
	}
}
