// Command vsmctl is the operator CLI for the VSM runtime (spec §6):
// `run` boots the full VSMSupervisor, `health` prints a cold snapshot of
// every subsystem's initial state, and `force-consensus`/`emergency-scream`
// exercise the belief-consensus and algedonic APIs directly for local
// testing. The root-command-plus-per-subcommand-file layout and the
// --config persistent flag follow jhkimqd-chaos-utils's chaos-runner CLI,
// the closest pack example of a Cobra-based operator tool; the teacher
// itself used raw `flag`, which SPEC_FULL.md's CLI (four verbs, distinct
// argument shapes) outgrew.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string
var nodeID string

var rootCmd = &cobra.Command{
	Use:   "vsmctl",
	Short: "Operate a Viable System Model runtime",
	Long: `vsmctl boots and inspects a self-regulating VSM runtime: five
hierarchical control subsystems (S1-S5), an algedonic bypass channel, and
belief consensus across peers, coordinated over an in-process event bus.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config overlay (spec §6 options)")
	rootCmd.PersistentFlags().StringVar(&nodeID, "node-id", "vsm-node-1", "this process's HLC/consensus node id")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(forceConsensusCmd)
	rootCmd.AddCommand(emergencyScreamCmd)
}

// Exit codes per spec §6: 0 normal, 2 viability failure, 3 configuration error.
const (
	exitOK               = 0
	exitViabilityFailure = 2
	exitConfigurationErr = 3
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
