package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/WessleyAI/thrifter/pkg/config"
)

const defaultAPI = "http://localhost:8080"

// NewRootCmd creates the thrifterctl command tree. Every invocation gets its
// own viper instance so flags, THRIFTER_* env vars and the optional config
// file resolve with the usual precedence.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "thrifterctl",
		Short:         "Operate a thrifter deployment",
		Long:          "thrifterctl loads shop corpora over NATS and queries the thrifter HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd, v)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("nats", "", "NATS server URL (default nats.url from config)")
	root.PersistentFlags().String("api", "", "thrifter API base URL")

	root.AddCommand(
		newPublishCmd(v),
		newWatchCmd(v),
		newSearchCmd(v),
		newAskCmd(v),
		newStatsCmd(v),
	)
	return root
}

func initViper(cmd *cobra.Command, v *viper.Viper) error {
	config.SetDefaults(v)
	config.SetupEnv(v)
	v.SetDefault("api.url", defaultAPI)

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	flags := cmd.Root().PersistentFlags()
	if err := v.BindPFlag("api.url", flags.Lookup("api")); err != nil {
		return fmt.Errorf("binding api flag: %w", err)
	}
	// An unset --nats must not shadow nats.url from env or file.
	if flags.Changed("nats") {
		if err := v.BindPFlag("nats.url", flags.Lookup("nats")); err != nil {
			return fmt.Errorf("binding nats flag: %w", err)
		}
	}
	return nil
}
