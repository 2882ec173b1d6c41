package main

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JordanYates/nrf-wifi/monitoring"
	"github.com/JordanYates/nrf-wifi/rpu"
)

func durationMS(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Reset both RPU processors and verify their boot signatures",
	Run: func(cmd *cobra.Command, args []string) {
		hpriv, dev, _, err := bringUp()
		if err != nil {
			log.Fatalf("Error bringing up driver: %v", err)
		}
		defer tearDown(hpriv, dev)

		for _, proc := range []rpu.ProcType{rpu.ProcTypeLMAC, rpu.ProcTypeUMAC} {
			if err := dev.ResetProc(proc); err != nil {
				log.Fatalf("Error resetting %v: %v", proc, err)
			}
			fmt.Printf("%v reset complete\n", proc)

			if err := dev.CheckBootSignature(proc); err != nil {
				log.Fatalf("Error verifying %v boot: %v", proc, err)
			}
			fmt.Printf("%v boot signature verified\n", proc)
		}
	},
}

var sendHex bool

var sendCmd = &cobra.Command{
	Use:   "send [payload]",
	Short: "Submit a control command and report the fragments posted",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		payload := []byte(strings.Join(args, " "))
		if sendHex {
			var err error
			payload, err = hex.DecodeString(strings.Join(args, ""))
			if err != nil {
				log.Fatalf("Error decoding hex payload: %v", err)
			}
		}

		hpriv, dev, sim, err := bringUp()
		if err != nil {
			log.Fatalf("Error bringing up driver: %v", err)
		}
		defer tearDown(hpriv, dev)

		if err := dev.SendCtrlCommand(payload); err != nil {
			log.Fatalf("Error sending command: %v", err)
		}

		received := sim.ReceivedCommands()
		fmt.Printf("%d byte command delivered as %d fragment(s)\n",
			len(payload), len(received))
		for i, frag := range received {
			fmt.Printf("  fragment %d: %d bytes\n", i, len(frag))
		}
		for _, trig := range sim.Triggers() {
			fmt.Printf("  doorbell: 0x%08X\n", trig)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Wake the RPU and report driver state",
	Run: func(cmd *cobra.Command, args []string) {
		hpriv, dev, sim, err := bringUp()
		if err != nil {
			log.Fatalf("Error bringing up driver: %v", err)
		}
		defer tearDown(hpriv, dev)

		if err := dev.Wake(); err != nil {
			log.Fatalf("Error waking RPU: %v", err)
		}

		fmt.Printf("power state: %v\n", dev.PowerState())
		fmt.Printf("wake line:   %v\n", sim.WakeLine())
		fmt.Printf("commands:    %d\n", dev.NumCmds())

		// Let the idle timer run so the sleep transition is visible.
		time.Sleep(durationMS(idleMS) + 50*time.Millisecond)
		fmt.Printf("after idle:  %v\n", dev.PowerState())
	},
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve driver state over HTTP and inject heartbeat events",
	Run: func(cmd *cobra.Command, args []string) {
		hpriv, dev, sim, err := bringUp()
		if err != nil {
			log.Fatalf("Error bringing up driver: %v", err)
		}
		defer tearDown(hpriv, dev)

		monitor := monitoring.NewMonitor().WithPortNumber(servePort)
		monitor.RegisterDevice("rpu0", dev)

		if _, err := monitor.StartServer(); err != nil {
			log.Fatalf("Error starting monitor: %v", err)
		}

		for i := 0; ; i++ {
			sim.InjectEvent(fmt.Appendf(nil, "heartbeat %d", i))
			time.Sleep(1 * time.Second)
		}
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendHex, "hex", false, "treat the payload as hex")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "monitoring server port")

	rootCmd.AddCommand(bootCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}
