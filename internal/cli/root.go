package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quiz-coordinator/internal/config"
	"quiz-coordinator/internal/logger"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	port       string
	configPath string
	logLevel   string
}

// load reads the config file and applies flag overrides on top of it.
func (o *rootOptions) load() (config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.port != "" {
		cfg.Server.Port = o.port
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = defaultPort
	}
	return cfg, logger.New(serviceName, cfg.Log.Level), nil
}

// Execute runs the CLI.
func Execute() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	configDefault := os.Getenv("CONFIG_PATH")
	if configDefault == "" {
		configDefault = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Real-time multiplayer quiz coordinator",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.port, "port", os.Getenv("PORT"), "port to listen on (overrides server.port)")
	flags.StringVar(&opts.configPath, "config", configDefault, "path to YAML config")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides log.level and LOG_LEVEL)")
	cmd.AddCommand(newStartCmd(opts), newMigrateCmd(opts))
	return cmd
}
