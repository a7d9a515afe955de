package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/runbeam/relay/pkg/protocol"
)

var submitCmd = &cobra.Command{
	Use:   "submit <bundle-file>",
	Short: "Submit a test bundle and wait for its outcome",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		payload, err := os.ReadFile(args[0])
		if err != nil {
			log.Fatal(err)
		}

		uri := viper.GetString("server_uri") + "/test"
		if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
			uri += "?timeout=" + url.QueryEscape(timeout.String())
		}

		body := payload
		compressed, _ := cmd.Flags().GetBool("gzip")
		if compressed {
			buf := bytes.Buffer{}
			writer := gzip.NewWriter(&buf)
			if _, err := writer.Write(payload); err != nil {
				log.Fatal(err)
			}
			if err := writer.Close(); err != nil {
				log.Fatal(err)
			}
			body = buf.Bytes()
		}

		req, err := http.NewRequest(http.MethodPost, uri, bytes.NewReader(body))
		if err != nil {
			log.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		if compressed {
			req.Header.Set("Content-Encoding", "gzip")
		}
		if key := viper.GetString("api_key"); key != "" {
			req.Header.Set("X-API-Key", key)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Fatal(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			log.Fatal(err)
		}

		if resp.StatusCode != http.StatusOK {
			log.Fatalf("%s: %s", resp.Status, data)
		}

		var response protocol.SubmitResponse
		if err := json.Unmarshal(data, &response); err != nil {
			log.Fatal(err)
		}

		fmt.Printf("%s %s\n", response.JobID, response.Status)
		if response.Error != "" {
			fmt.Println(response.Error)
		}
		if response.Results != nil {
			pretty, _ := json.MarshalIndent(response.Results, "", "  ")
			fmt.Println(string(pretty))
		}

		if response.Status != protocol.JobCompleted {
			os.Exit(1)
		}
	},
}

func init() {
	submitCmd.Flags().DurationP("timeout", "t", 0, "Job deadline, server default when unset")
	submitCmd.Flags().BoolP("gzip", "z", false, "Compress the bundle upload")
	rootCmd.AddCommand(submitCmd)
}
