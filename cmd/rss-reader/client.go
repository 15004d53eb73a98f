package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bingal/rss-reader/internal/config"
	"github.com/bingal/rss-reader/internal/worker"
)

func apiClient() *http.Client {
	socketPath := config.SocketPath()
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}

func apiGet(path string, v any) error {
	resp, err := apiClient().Get("http://reader" + path)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w (is the reader daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func apiDo(method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, "http://reader"+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := apiClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w (is the reader daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend worker status",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st worker.Status
		if err := apiGet("/v1/backend", &st); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STATE\tPID\tPORT\tUPTIME\tRESTARTS")
		pid := "-"
		if st.PID > 0 {
			pid = strconv.Itoa(st.PID)
		}
		port := "-"
		if st.Port > 0 {
			port = strconv.Itoa(int(st.Port))
		}
		uptime := "-"
		if st.Uptime != "" {
			uptime = st.Uptime
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", st.State, pid, port, uptime, st.Restarts)
		w.Flush()

		if st.State == worker.StateFailed {
			fmt.Printf("\nworker gave up after repeated crashes (last exit %d); run 'rss-reader restart'\n",
				st.LastExitCode)
		}
		return nil
	},
}

// port command
var portCmd = &cobra.Command{
	Use:   "port",
	Short: "Print the backend worker's port",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Port uint16 `json:"port"`
		}
		if err := apiGet("/v1/backend/port", &resp); err != nil {
			return err
		}
		fmt.Println(resp.Port)
		return nil
	},
}

// restart command
var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the backend worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := apiDo("POST", "/v1/backend/restart", nil)
		if err != nil {
			return err
		}
		fmt.Printf("worker restarted on port %v\n", result["port"])
		return nil
	},
}

// logs command
var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent backend worker output",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		var resp struct {
			Lines []string `json:"lines"`
		}
		if err := apiGet("/v1/backend/logs?n="+strconv.Itoa(n), &resp); err != nil {
			return err
		}
		for _, line := range resp.Lines {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 50, "number of lines to show")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(portCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(logsCmd)
}
