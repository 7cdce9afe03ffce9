package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Boot the VSMSupervisor and run until a signal is received",
	RunE:  runVSM,
}

func runVSM(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(exitConfigurationErr)
	}

	rt := buildRuntime(cfg, nodeID)
	report := rt.boot()
	if !report.Viable {
		fmt.Fprintln(os.Stderr, "post-boot viability check failed, dead components:", report.Dead)
		rt.algedonicCh.EmergencyScream("vsm_supervisor", "VSM viability lost")
		os.Exit(exitViabilityFailure)
	}
	fmt.Println("vsm viable, running. node_id=" + nodeID)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("shutting down...")
	rt.shutdown()
	fmt.Println("stopped.")
	return nil
}
