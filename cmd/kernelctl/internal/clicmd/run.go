package clicmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nmxmxh/adc/internal/ipc"
	"github.com/nmxmxh/adc/internal/kernel"
	"github.com/nmxmxh/adc/internal/loaders"
	"github.com/nmxmxh/adc/internal/orchestrator"
	"github.com/nmxmxh/adc/internal/registry"
	"github.com/nmxmxh/adc/internal/resolver"
)

var runCmd = &cobra.Command{
	Use:   "run <definition.json|definition.yaml>",
	Short: "Load a module definition, start an app, print the registry, then tear it down",
	Args:  cobra.ExactArgs(1),
	RunE:  runE,
}

func init() {
	runCmd.Flags().String("app", "kernelctl-run", "app name to attribute registrations to")
}

func runE(cmd *cobra.Command, args []string) error {
	c := cfg()
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		c.LogLevel = level
	}
	appName, _ := cmd.Flags().GetString("app")

	def, err := loadDefinition(args[0])
	if err != nil {
		return fmt.Errorf("loading definition: %w", err)
	}

	logger := bridge.Named("kernelctl")

	reg := registry.New(logger.Named("registry"))
	rslv := resolver.New(logger.Named("resolver"), 0)
	ipcMgr := ipc.New(logger.Named("ipc"))
	native := loaders.NewNativeLoader()
	foreign := loaders.NewForeignLoader(ipcMgr, logger.Named("ipc"))
	ipcMgr.OnChildDeath(func(key string, cause error) {
		logger.Warn(fmt.Sprintf("ipc child %s exited: %v", key, cause))
		reg.PurgeMatching(func(rec *registry.Record) bool {
			p, ok := rec.Instance.(*loaders.ForeignProxy)
			return ok && p.ChildKey() == key
		})
	})
	orch := orchestrator.New(c.ModuleRoot, rslv, native, foreign, reg, logger.Named("orchestrator"))
	k := kernel.New(reg, orch, logger.Named("kernel"))

	ctx := context.Background()
	if err := k.StartApp(ctx, appName, def); err != nil {
		errorf("startApp failed: %v", err)
		return err
	}
	okf("app %q started", appName)

	printRegistry(reg)

	k.StopApp(ctx, appName)
	okf("app %q stopped", appName)

	return nil
}

func printRegistry(reg *registry.Registry) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Role", "Name", "UniqueKey", "RefCount"})

	for _, rec := range reg.List() {
		table.Append([]string{
			string(rec.Role),
			rec.LogicalName,
			rec.UniqueKey,
			fmt.Sprintf("%d", rec.RefCount),
		})
	}
	table.Render()
}

func loadDefinition(path string) (orchestrator.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return orchestrator.Definition{}, err
	}

	var def orchestrator.Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &def)
	default:
		err = json.Unmarshal(data, &def)
	}
	return def, err
}
