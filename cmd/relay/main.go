package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/runbeam/relay/pkg/auth"
	"github.com/runbeam/relay/pkg/dispatch"
	"github.com/runbeam/relay/pkg/log"
	"github.com/runbeam/relay/pkg/utils"
)

var config *Config

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Test bundle dispatcher service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetEnvPrefix("relay")
		viper.AutomaticEnv()

		viper.SetConfigName("relay.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/relay/")
		viper.AddConfigPath("$HOME/.config/relay")
		viper.AddConfigPath(".")

		viper.ReadInConfig()

		if err := utils.UnmarshalConfig(*viper.GetViper(), &config); err != nil {
			log.Fatal(err)
		}

		if err := config.Validate(); err != nil {
			log.Fatal(err)
		}

		config.Log()

		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			panic(err)
		}

		switch {
		case verbosity >= 2:
			log.SetLevel(log.TraceLevel)
		case verbosity >= 1:
			log.SetLevel(log.DebugLevel)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		maxSize, err := utils.ParseSize(config.MaxBundleSize)
		if err != nil {
			log.Fatal(err)
		}

		// Load API keys for the submission boundary.
		keys := auth.NewKeyStore(afero.NewOsFs(), config.ApiKeysFile)
		if err := keys.Load(); err != nil {
			log.Fatal(err)
		}

		gate := auth.NewGate(config.Auth, keys)
		if config.Auth {
			log.Info("Worker session token:", gate.SessionToken())
		}

		registry := dispatch.NewRegistry(config.ChunkSize, config.ChunkInterval)
		dispatcher := dispatch.NewDispatcher(registry, config.Timeout, maxSize)
		handler := dispatch.NewHttpHandler(dispatcher, gate, config.KeepAliveInterval, config.HeartbeatTimeout)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx, handler, config.ListenHttp); err != nil {
			log.Fatal(err)
		}

		log.Info("Cleanup complete")
	},
}

func init() {
	rootCmd.Flags().StringSliceP("listen-http", "l", []string{"tcp://:8325"}, "Addresses to listen on for HTTP connections")
	rootCmd.Flags().DurationP("timeout", "t", defaultTimeout, "Default job deadline")
	rootCmd.Flags().Int("chunk-size", 8192, "Maximum chunk size on the event stream")
	rootCmd.Flags().Duration("chunk-interval", defaultChunkInterval, "Pause between chunk events")
	rootCmd.Flags().Duration("keep-alive-interval", defaultKeepAlive, "Interval between keep-alive events")
	rootCmd.Flags().Duration("heartbeat-timeout", defaultHeartbeatTimeout, "Worker heartbeat recency window")
	rootCmd.Flags().String("max-bundle-size", "50M", "Maximum accepted bundle size")
	rootCmd.Flags().Duration("shutdown-timeout", defaultShutdownTimeout, "Graceful shutdown drain timeout")
	rootCmd.Flags().Bool("auth", true, "Enforce the access gate")
	rootCmd.Flags().StringP("api-keys-file", "k", "api_keys.txt", "File with accepted API keys")
	rootCmd.Flags().CountP("verbose", "v", "Verbosity (repeatable)")

	viper.BindPFlag("listen_http", rootCmd.Flags().Lookup("listen-http"))
	viper.BindPFlag("timeout", rootCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("chunk_size", rootCmd.Flags().Lookup("chunk-size"))
	viper.BindPFlag("chunk_interval", rootCmd.Flags().Lookup("chunk-interval"))
	viper.BindPFlag("keep_alive_interval", rootCmd.Flags().Lookup("keep-alive-interval"))
	viper.BindPFlag("heartbeat_timeout", rootCmd.Flags().Lookup("heartbeat-timeout"))
	viper.BindPFlag("max_bundle_size", rootCmd.Flags().Lookup("max-bundle-size"))
	viper.BindPFlag("shutdown_timeout", rootCmd.Flags().Lookup("shutdown-timeout"))
	viper.BindPFlag("auth", rootCmd.Flags().Lookup("auth"))
	viper.BindPFlag("api_keys_file", rootCmd.Flags().Lookup("api-keys-file"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
