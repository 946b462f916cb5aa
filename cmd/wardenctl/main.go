// Package main — cmd/wardenctl/main.go
//
// wardenctl is the operator CLI for ransomwarden's control plane: it
// dials the agent's Unix domain socket and issues one of the read-through
// commands (alerts, risk, release, status) defined in
// internal/control/server.go.
//
// Grounded on the cobra root-command/subcommand/flags structure used by
// the reference CSPM CLI in this corpus (one root command, one
// subcommand per operator action, local flags per subcommand, global
// --socket flag via viper for the connection target).
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ransomwarden/ransomwarden/internal/control"
)

var (
	socketPath string
	version    = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:     "wardenctl",
	Short:   "Operator CLI for the ransomwarden control plane",
	Long:    `wardenctl talks to a running ransomwarden agent over its local Unix domain control socket to inspect alerts, review per-process risk, release a quarantined process, or check agent status.`,
	Version: version,
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List alerts recorded since a given time",
	RunE: func(cmd *cobra.Command, args []string) error {
		since, _ := cmd.Flags().GetInt64("since")
		resp, err := send(control.Request{Cmd: "alerts", Since: since})
		if err != nil {
			return err
		}
		return printJSON(resp.Alerts)
	},
}

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Show the current per-process risk overview",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(control.Request{Cmd: "risk_overview"})
		if err != nil {
			return err
		}
		return printJSON(resp.Processes)
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <pid>",
	Short: "Release a quarantined process and clear its cool-down",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pid uint32
		if _, err := fmt.Sscanf(args[0], "%d", &pid); err != nil {
			return fmt.Errorf("invalid pid %q: %w", args[0], err)
		}
		resp, err := send(control.Request{Cmd: "release", PID: pid})
		if err != nil {
			return err
		}
		if !resp.OK {
			return fmt.Errorf("release failed: %s", resp.Error)
		}
		fmt.Printf("released pid %d\n", resp.PID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent liveness and a short operational summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := send(control.Request{Cmd: "status"})
		if err != nil {
			return err
		}
		fmt.Printf("node_id:      %s\n", resp.NodeID)
		fmt.Printf("tracked_pids: %d\n", resp.TrackedPIDs)
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "Path to the agent's control socket (default /run/ransomwarden/control.sock)")
	viper.BindPFlag("socket", rootCmd.PersistentFlags().Lookup("socket")) //nolint:errcheck

	alertsCmd.Flags().Int64("since", 0, "Unix timestamp — only alerts at or after this time")

	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(riskCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(statusCmd)
}

func initConfig() {
	viper.SetDefault("socket", "/run/ransomwarden/control.sock")
	viper.AutomaticEnv()
}

// send dials the control socket, sends req as a single JSON line, and
// decodes exactly one JSON response line, matching the agent's
// newline-delimited protocol.
func send(req control.Request) (*control.Response, error) {
	path := socketPath
	if path == "" {
		path = viper.GetString("socket")
	}

	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("wardenctl: connect %q: %w", path, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("wardenctl: encode request: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("wardenctl: write request: %w", err)
	}

	buf := make([]byte, 65536)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("wardenctl: read response: %w", err)
	}

	var resp control.Response
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		return nil, fmt.Errorf("wardenctl: decode response: %w", err)
	}
	if !resp.OK && resp.Error != "" {
		return &resp, fmt.Errorf("agent reported an error: %s", resp.Error)
	}
	return &resp, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
