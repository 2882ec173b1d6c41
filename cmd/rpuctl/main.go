// rpuctl exercises the RPU host driver against the simulated
// transport: boot sequencing, command submission, power-state
// inspection, and the monitoring server. It exists for bring-up and
// for demonstrating the driver wiring; real hardware integrations
// substitute their own bal.Bus.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/JordanYates/nrf-wifi/bal/simrpu"
	"github.com/JordanYates/nrf-wifi/hal"
	"github.com/JordanYates/nrf-wifi/recording"
)

var (
	tracePath  string
	traceFlag  bool
	idleMS     int
	maxCmdSize int
)

var rootCmd = &cobra.Command{
	Use:   "rpuctl",
	Short: "rpuctl drives the RPU host driver layer against a simulated radio co-processor.",
	Long: `rpuctl drives the RPU host driver layer against a simulated radio ` +
		`co-processor: processor reset and boot verification, command ` +
		`submission over the hardware priority queues, and power-state ` +
		`inspection.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env is optional; flags win over environment.
		_ = godotenv.Load()
		if v := os.Getenv("RPUCTL_TRACE"); v != "" && !cmd.Flags().Changed("trace-db") {
			tracePath = v
			traceFlag = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&tracePath, "trace-db", "",
		"record command/event traffic into this SQLite database")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false,
		"record traffic into an auto-named SQLite database")
	rootCmd.PersistentFlags().IntVar(&idleMS, "idle-ms", 10,
		"idle-sleep timeout in milliseconds")
	rootCmd.PersistentFlags().IntVar(&maxCmdSize, "max-cmd-size", 512,
		"command fragment size limit in bytes")
}

type printEvents struct{}

func (printEvents) HandleEvent(_ *hal.DeviceCtx, data []byte) error {
	fmt.Printf("event: %d bytes: %q\n", len(data), data)
	return nil
}

type printRecovery struct{}

func (printRecovery) HandleRecovery(_ *hal.DeviceCtx) error {
	fmt.Println("recovery requested by driver")
	return nil
}

// bringUp assembles driver, simulated device, and optional tracing.
func bringUp() (*hal.Priv, *hal.DeviceCtx, *simrpu.RPU, error) {
	cfg := hal.DefaultConfig()
	cfg.MaxCmdSize = maxCmdSize
	cfg.IdleSleepTimeout = durationMS(idleMS)

	hpriv, err := hal.MakeBuilder().
		WithConfig(cfg).
		WithBusDriver(simrpu.NewDriver()).
		WithEventHandler(printEvents{}).
		WithRecoveryHandler(printRecovery{}).
		Build()
	if err != nil {
		return nil, nil, nil, err
	}

	sim := simrpu.New(simrpu.DefaultConfig())

	dev, err := hpriv.AddDevice(sim)
	if err != nil {
		hpriv.Deinit()
		return nil, nil, nil, err
	}

	if traceFlag || tracePath != "" {
		rec, err := recording.New(tracePath)
		if err != nil {
			log.Printf("tracing disabled: %v", err)
		} else {
			dev.AcceptHook(recording.NewTracer(rec))
			atexit.Register(func() { rec.Close() })
		}
	}

	if err := dev.Init(); err != nil {
		dev.Remove()
		hpriv.Deinit()
		return nil, nil, nil, err
	}

	return hpriv, dev, sim, nil
}

func tearDown(hpriv *hal.Priv, dev *hal.DeviceCtx) {
	dev.Deinit()
	dev.Remove()
	hpriv.Deinit()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
