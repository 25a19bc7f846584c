package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	Version   = "dev"
)

type overview struct {
	TotalAgents   int     `json:"totalAgents"`
	SecurityScore float64 `json:"securityScore"`
	TotalIssues   int     `json:"totalIssues"`
	Posture       string  `json:"posture"`
}

type scanRow struct {
	Hostname  string  `json:"hostname"`
	OS        string  `json:"os"`
	Benchmark string  `json:"benchmark"`
	Score     float64 `json:"score"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	ScanTime  string  `json:"scan_time"`
}

type agentDetail struct {
	Agent     string  `json:"agent"`
	OS        string  `json:"os"`
	Benchmark string  `json:"benchmark"`
	Score     float64 `json:"score"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	ScanTime  string  `json:"scan_time"`
	Checks    []struct {
		CISID       string `json:"cis_id"`
		Title       string `json:"title"`
		Status      string `json:"status"`
		Remediation string `json:"remediation"`
	} `json:"checks"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "trace",
		Short: "Trace - CIS compliance posture for your fleet",
		Long:  "Inspect benchmark scan results and fleet compliance posture collected by the Trace server",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8000", "Trace server URL")

	rootCmd.AddCommand(
		statusCmd(),
		resultsCmd(),
		agentCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show fleet compliance posture",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ov overview
			if err := fetchJSON("/api/dashboard/overview", &ov); err != nil {
				return err
			}

			fmt.Printf("Trace Status\n")
			fmt.Printf("============\n\n")
			fmt.Printf("Agents:            %d\n", ov.TotalAgents)
			fmt.Printf("Security Score:    %.2f%%\n", ov.SecurityScore)
			fmt.Printf("Open Issues:       %d\n", ov.TotalIssues)
			fmt.Printf("Posture:           %s\n", ov.Posture)

			return nil
		},
	}
}

func resultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "results",
		Aliases: []string{"ls", "list"},
		Short:   "List scan results, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows []scanRow
			if err := fetchJSON("/api/results", &rows); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HOSTNAME\tOS\tBENCHMARK\tSCORE\tPASSED\tFAILED\tSCANNED")
			fmt.Fprintln(w, "--------\t--\t---------\t-----\t------\t------\t-------")

			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f%%\t%d\t%d\t%s\n",
					r.Hostname, r.OS, r.Benchmark, r.Score, r.Passed, r.Failed, r.ScanTime)
			}

			w.Flush()
			return nil
		},
	}
}

func agentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent [hostname]",
		Short: "Show the latest scan for a specific agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var detail agentDetail
			if err := fetchJSON("/api/agents/"+args[0]+"/detail", &detail); err != nil {
				return err
			}

			fmt.Printf("Agent: %s\n", detail.Agent)
			fmt.Printf("========================================\n\n")
			fmt.Printf("OS:           %s\n", detail.OS)
			fmt.Printf("Benchmark:    %s\n", detail.Benchmark)
			fmt.Printf("Score:        %.2f%% (%d passed, %d failed)\n", detail.Score, detail.Passed, detail.Failed)
			fmt.Printf("Scanned:      %s\n\n", detail.ScanTime)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CIS ID\tSTATUS\tTITLE")
			fmt.Fprintln(w, "------\t------\t-----")
			for _, check := range detail.Checks {
				fmt.Fprintf(w, "%s\t%s\t%s\n", check.CISID, check.Status, check.Title)
			}
			w.Flush()

			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("trace version %s\n", Version)
		},
	}
}

func fetchJSON(path string, out any) error {
	resp, err := http.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
