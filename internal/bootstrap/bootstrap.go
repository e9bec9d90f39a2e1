// Package bootstrap reads the kernel's own runtime configuration: log
// level, dev-mode flag, default IPC timeout, and module root directory.
// Flags bind into viper, with ADC_-prefixed env vars and an optional
// config file layered on top.
package bootstrap

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the kernel's resolved bootstrap configuration.
type Config struct {
	ModuleRoot     string
	Development    bool
	LogLevel       string
	IPCCallTimeout time.Duration
}

// Load layers flags, environment variables (prefixed ADC_), and an
// optional config file named "kernelctl" on the usual search path, then
// resolves the final Config. Pass nil flags to read env, the config
// file and defaults only.
func Load(flags *pflag.FlagSet) Config {
	v := viper.New()
	v.SetEnvPrefix("ADC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("kernelctl")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/kernelctl")
	_ = v.ReadInConfig() // absent config file is fine

	if flags != nil {
		_ = v.BindPFlags(flags)
	}

	v.SetDefault("module-root", "./modules")
	v.SetDefault("development", isDevelopmentEnv())
	v.SetDefault("log-level", defaultLogLevel(v.GetBool("development")))
	v.SetDefault("ipc-timeout", 30*time.Second)

	return Config{
		ModuleRoot:     v.GetString("module-root"),
		Development:    v.GetBool("development"),
		LogLevel:       v.GetString("log-level"),
		IPCCallTimeout: v.GetDuration("ipc-timeout"),
	}
}

func isDevelopmentEnv() bool {
	return strings.EqualFold(os.Getenv("NODE_ENV"), "development")
}

func defaultLogLevel(development bool) string {
	if development {
		return "DEBUG"
	}
	return "INFO"
}
