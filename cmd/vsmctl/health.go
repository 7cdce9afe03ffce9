package main

import (
	"fmt"
	"os"

	"github.com/etalazz/vsm/internal/config"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Args:  cobra.NoArgs,
	Short: "Print a cold snapshot of every subsystem's initial state",
	Long: `health constructs the same subsystem graph 'run' would boot and prints
each one's state before any traffic flows through it. vsmctl has no admin
RPC to a live process (spec §6 describes the CLI as minimal and defines no
wire protocol for it), so this reports configuration and initial state
rather than a running process's live health.`,
	RunE: printHealth,
}

func printHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(exitConfigurationErr)
	}
	rt := buildRuntime(cfg, nodeID)

	fmt.Println("algedonic:", rt.algedonicCh.State())
	fmt.Println("s3 control:", rt.s3Control.GetControlState().Mode)
	fmt.Println("s2 coordination:", rt.s2Coord.GetCoordinationState())
	fmt.Println("s4 intelligence:", rt.s4Intel.GetIntelligenceReport())
	identity := rt.s5Policy.GetIdentity()
	fmt.Printf("s5 identity: purpose=%q values=%v coherence=%.2f\n", identity.Purpose, identity.Values, identity.Coherence)

	for ct, ch := range rt.channels {
		stats := ch.GetChannelStats()
		fmt.Printf("channel %s: capacity=%d flow=%d dropped=%d\n", ct, stats.Capacity, stats.CurrentFlow, stats.Dropped)
	}

	keys, values := config.Snapshot()
	for _, k := range keys {
		fmt.Printf("config %s=%s\n", k, values[k])
	}
	return nil
}
