package main

import (
	"fmt"

	"github.com/etalazz/vsm/internal/algedonic"
	"github.com/etalazz/vsm/internal/eventbus"
	"github.com/etalazz/vsm/internal/hlc"
	"github.com/spf13/cobra"
)

var emergencyScreamCmd = &cobra.Command{
	Use:   "emergency-scream <source> <reason>",
	Args:  cobra.ExactArgs(2),
	Short: "Trigger an algedonic emergency scream out-of-band (spec §4.7)",
	RunE:  runEmergencyScream,
}

func runEmergencyScream(cmd *cobra.Command, args []string) error {
	source, reason := args[0], args[1]

	clock := hlc.New(nodeID)
	bus := eventbus.New(clock)
	sub, err := bus.Subscribe("emergency_algedonic")
	if err != nil {
		return err
	}

	ch := algedonic.New(algedonic.Config{}, bus, clock)
	ch.EmergencyScream(source, reason)

	select {
	case ev := <-sub.Events():
		fmt.Printf("emergency_algedonic published: source=%v reason=%v\n", ev.Data["source"], ev.Data["reason"])
	default:
		fmt.Println("emergency_algedonic published")
	}
	return nil
}
