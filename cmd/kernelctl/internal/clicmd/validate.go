package clicmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nmxmxh/adc/internal/orchestrator"
)

var validateCmd = &cobra.Command{
	Use:   "validate <definition.json|definition.yaml>",
	Short: "Parse a module definition and report descriptor counts without loading anything",
	Args:  cobra.ExactArgs(1),
	RunE:  validateE,
}

func validateE(cmd *cobra.Command, args []string) error {
	def, err := loadDefinition(args[0])
	if err != nil {
		errorf("parse failed: %v", err)
		return err
	}

	fmt.Printf("providers: %d\n", len(def.Providers))
	fmt.Printf("utilities: %d\n", len(def.Utilities))
	fmt.Printf("services:  %d\n", len(def.Services))

	warnIfUnnamed("provider", def.Providers)
	warnIfUnnamed("utility", def.Utilities)
	warnIfUnnamed("service", def.Services)

	okf("definition parses cleanly")
	return nil
}

func warnIfUnnamed(kind string, descs []orchestrator.Descriptor) {
	for i, d := range descs {
		if d.Name == "" {
			warnf("%s at index %d has no name", kind, i)
		}
	}
}
