package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/runbeam/relay/pkg/log"
	"github.com/runbeam/relay/pkg/utils"
	"github.com/runbeam/relay/pkg/worker"
)

var rootCmd = &cobra.Command{
	Use:   "relay-worker",
	Short: "Test bundle execution worker",
	Run: func(cmd *cobra.Command, args []string) {
		verbosity, err := cmd.Flags().GetCount("verbose")
		if err != nil {
			log.Fatal(err)
		}
		switch {
		case verbosity >= 2:
			log.SetLevel(log.TraceLevel)
		case verbosity >= 1:
			log.SetLevel(log.DebugLevel)
		}

		// Load worker configuration from file or environment.
		var config *worker.Config
		if err := utils.UnmarshalConfig(*viper.GetViper(), &config); err != nil {
			log.Fatal(err)
		}

		if err := config.Validate(); err != nil {
			log.Fatal(err)
		}

		config.Log()

		executor := worker.NewExecutor(config)
		supervisor := worker.NewSupervisor(config, executor)
		log.Info("Worker id:", supervisor.WorkerId())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := supervisor.Run(ctx); err != nil {
			log.Fatal(err)
		}
	},
}

func main() {
	rootCmd.Flags().StringP("server-uri", "s", "http://127.0.0.1:8325", "Dispatcher service URI")
	rootCmd.Flags().String("session-token", "", "Session token issued by the dispatcher")
	rootCmd.Flags().StringSliceP("engine-cmd", "e", []string{}, "Test engine command, {bundle} is replaced with the bundle file")
	rootCmd.Flags().Duration("engine-timeout", 25*time.Second, "Test engine execution timeout")
	rootCmd.Flags().StringP("work-dir", "d", "", "Working directory for the engine command")
	rootCmd.Flags().Duration("heartbeat-interval", time.Second, "Interval between liveness heartbeats")
	rootCmd.Flags().Duration("idle-timeout", 45*time.Second, "Idle window before the event stream is considered dead")
	rootCmd.Flags().Int("max-reconnect-attempts", 10, "Reconnect attempts before giving up")
	rootCmd.Flags().Duration("max-reconnect-delay", 60*time.Second, "Upper bound on the reconnect backoff delay")
	rootCmd.Flags().CountP("verbose", "v", "Verbosity (repeatable)")

	viper.BindPFlag("server_uri", rootCmd.Flags().Lookup("server-uri"))
	viper.BindPFlag("session_token", rootCmd.Flags().Lookup("session-token"))
	viper.BindPFlag("engine_cmd", rootCmd.Flags().Lookup("engine-cmd"))
	viper.BindPFlag("engine_timeout", rootCmd.Flags().Lookup("engine-timeout"))
	viper.BindPFlag("work_dir", rootCmd.Flags().Lookup("work-dir"))
	viper.BindPFlag("heartbeat_interval", rootCmd.Flags().Lookup("heartbeat-interval"))
	viper.BindPFlag("idle_timeout", rootCmd.Flags().Lookup("idle-timeout"))
	viper.BindPFlag("max_reconnect_attempts", rootCmd.Flags().Lookup("max-reconnect-attempts"))
	viper.BindPFlag("max_reconnect_delay", rootCmd.Flags().Lookup("max-reconnect-delay"))

	viper.SetEnvPrefix("relay")
	viper.AutomaticEnv()

	viper.SetConfigName("worker.yaml")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/relay/")
	viper.AddConfigPath("$HOME/.config/relay")
	viper.AddConfigPath(".")
	viper.ReadInConfig()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
