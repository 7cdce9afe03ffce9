package main

import (
	"fmt"

	"github.com/etalazz/vsm/internal/beliefconsensus"
	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/hlc"
	"github.com/spf13/cobra"
)

var forceConsensusCmd = &cobra.Command{
	Use:   "force-consensus <level> <belief>",
	Args:  cobra.ExactArgs(2),
	Short: "Force a VSM level's belief set to a single given belief (spec §4.13 Open Question #2)",
	RunE:  runForceConsensus,
}

func runForceConsensus(cmd *cobra.Command, args []string) error {
	level, content := args[0], args[1]

	clock := hlc.New(nodeID)
	bus := eventbus.New(clock)
	consensus := beliefconsensus.New(clock, bus, nil, 0)

	id, err := consensus.ProposeBelief(level, content, nil)
	if err != nil {
		return err
	}
	consensus.ForceConsensus(level, map[string]any{id: content})

	for _, r := range consensus.GetConsensus(level) {
		fmt.Printf("level=%s belief=%s content=%v reached=%v\n", level, r.BeliefID, r.Content, r.Reached)
	}
	return nil
}
