package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/runbeam/relay/pkg/protocol"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query dispatcher health",
	Run: func(cmd *cobra.Command, args []string) {
		resp, err := http.Get(viper.GetString("server_uri") + "/health")
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		var health protocol.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			log.Fatal(err)
		}

		fmt.Println("status:", health.Status)
		fmt.Println("worker_alive:", health.WorkerAlive)
		if health.WorkerID != "" {
			fmt.Println("worker_id:", health.WorkerID)
		}
		fmt.Println("stream_connected:", health.StreamConnected)
		fmt.Println("queue_depth:", health.QueueDepth)
		fmt.Println("accepting:", health.Accepting)
		fmt.Println("discarded_results:", health.DiscardedResults)
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
