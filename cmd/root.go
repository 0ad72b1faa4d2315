// Package cmd wires the pushwire CLI together with cobra and viper.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pushwire/internal/config"
	"github.com/xkilldash9x/pushwire/internal/observability"
)

var cfgFile string

// NewRootCommand builds a fresh root command tree. Each invocation gets its
// own instance so flag state never leaks between executions in tests.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "pushwire",
		Short:   "pushwire delivers notifications through the Apple Push Notification service.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initializeConfig(); err != nil {
				return err
			}

			var cfg config.Config
			if err := viper.Unmarshal(&cfg); err != nil {
				observability.InitializeLogger(config.LoggerConfig{
					Level: "info", Format: "console", ServiceName: "pushwire",
				})
				return fmt.Errorf("failed to unmarshal config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("starting pushwire", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./pushwire.yaml)")
	rootCmd.PersistentFlags().String("cert", "", "provider certificate bundle (PEM)")
	rootCmd.PersistentFlags().String("token-key", "", "provider token signing key (.p8)")
	rootCmd.PersistentFlags().String("key-id", "", "signing key ID for token auth")
	rootCmd.PersistentFlags().String("team-id", "", "developer team ID for token auth")
	rootCmd.PersistentFlags().String("environment", "", "gateway environment: production or sandbox")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the CLI with the signal-aware context from main.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return err
	}
	return nil
}

// initializeConfig reads the config file and environment variables into the
// global viper, layered under the defaults.
func initializeConfig() error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("pushwire")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PUSHWIRE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults plus env plus flags carry the day.
	}
	return nil
}
