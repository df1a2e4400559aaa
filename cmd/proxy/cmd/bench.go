package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var benchAddr string

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Control a running proxy's algorithm benchmark",
}

var benchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start accumulating benchmark statistics",
	RunE:  benchPost("/benchmark/start", nil),
}

var benchStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop accumulating benchmark statistics",
	RunE:  benchPost("/benchmark/stop", nil),
}

var benchResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear accumulated benchmark statistics",
	RunE:  benchPost("/benchmark/reset", nil),
}

var benchSwitchAlgorithm string

var benchSwitchCmd = &cobra.Command{
	Use:   "switch",
	Short: "Switch the active routing algorithm",
	RunE: func(c *cobra.Command, args []string) error {
		body, _ := json.Marshal(map[string]string{"algorithm": benchSwitchAlgorithm})
		return benchPost("/benchmark/switch", body)(c, args)
	},
}

var benchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current benchmark status",
	RunE:  benchGet("/benchmark/status"),
}

var benchResultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show the current benchmark results",
	RunE:  benchGet("/benchmark/results"),
}

func init() {
	benchCmd.PersistentFlags().StringVar(&benchAddr, "addr", "http://localhost:8080", "proxy address")
	benchSwitchCmd.Flags().StringVar(&benchSwitchAlgorithm, "algorithm", "round_robin", "round_robin | least_connections | rl_agent")

	benchCmd.AddCommand(benchStartCmd, benchStopCmd, benchResetCmd, benchSwitchCmd, benchStatusCmd, benchResultsCmd)
}

func benchPost(path string, body []byte) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		resp, err := http.Post(benchAddr+path, "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		fmt.Println(resp.Status)
		return nil
	}
}

func benchGet(path string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(benchAddr + path)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		out, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
}
