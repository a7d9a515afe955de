package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Dispatcher control command",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetConfigName("relayctl.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/relay/")
		viper.AddConfigPath("$HOME/.config/relay")
		viper.AddConfigPath(".")
		viper.ReadInConfig()

		viper.SetEnvPrefix("relay")
		viper.AutomaticEnv()
	},
}

func main() {
	rootCmd.PersistentFlags().StringP("server-uri", "s", "http://127.0.0.1:8325", "Dispatcher service URI")
	rootCmd.PersistentFlags().StringP("api-key", "k", "", "API key for the submission endpoint")
	viper.BindPFlag("server_uri", rootCmd.PersistentFlags().Lookup("server-uri"))
	viper.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
