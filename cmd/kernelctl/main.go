// Command kernelctl is a small operator CLI over the module kernel: it
// loads a module definition, starts an app, lists the live registry,
// and tears the app down.
package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/nmxmxh/adc/cmd/kernelctl/internal/clicmd"
	"github.com/nmxmxh/adc/internal/logging"

	_ "github.com/nmxmxh/adc/providers/jwtsigner"
	_ "github.com/nmxmxh/adc/services/echo"
	_ "github.com/nmxmxh/adc/utilities/idgen"
)

func main() {
	zapLogger, err := zap.NewProduction()
	if err != nil {
		zapLogger = zap.NewNop()
	}
	defer zapLogger.Sync()

	bridge := logging.New(zapLogger, os.Getenv("NODE_ENV"))

	if err := clicmd.Execute(bridge); err != nil {
		os.Exit(1)
	}
}
