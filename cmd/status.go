package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/shiftnoise/internal/mechanism"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// jobStatus mirrors the server's status response.
type jobStatus struct {
	ID            string           `json:"id"`
	State         string           `json:"state"`
	Config        mechanism.Config `json:"config"`
	Iteration     int              `json:"iteration"`
	Primal        float64          `json:"primal"`
	Temperature   float64          `json:"temperature"`
	Gap           float64          `json:"gap"`
	Feasible      bool             `json:"feasible"`
	ShiftFraction float64          `json:"shiftFraction"`
	Record        string           `json:"record"`
	Elapsed       float64          `json:"elapsed"`
	Error         string           `json:"error"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

// getJSON fetches url and decodes the body into v.
func getJSON(url string, v interface{}) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(out io.Writer, url string) error {
	var jobs []jobStatus
	if _, err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATE\tMODE\tN\tC\tITERATION\tOBJECTIVE\tGAP")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%g\t%d\t%.8g\t%.3g\n",
			job.ID, job.State, job.Config.Mode, job.Config.Quantization, job.Config.CostBound,
			job.Iteration, job.Primal, job.Gap)
	}
	return w.Flush()
}

func getJobStatus(out io.Writer, url, jobID string) error {
	var status jobStatus
	code, err := getJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	cfg := status.Config
	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Mode: %s\n", cfg.Mode)
	fmt.Fprintf(out, "  Quantization: %d\n", cfg.Quantization)
	fmt.Fprintf(out, "  XMax: %g\n", cfg.XMax)
	fmt.Fprintf(out, "  Cost: E|x|^%g <= %g\n", cfg.CostExponent, cfg.CostBound)
	fmt.Fprintf(out, "  Tolerance: %g\n", cfg.Tol)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Iteration: %d\n", status.Iteration)
	fmt.Fprintf(out, "  Objective: %.10g (shift fraction %.3g)\n", status.Primal, status.ShiftFraction)
	fmt.Fprintf(out, "  Temperature: %.4g\n", status.Temperature)
	fmt.Fprintf(out, "  Gap: %.3g (feasible %v)\n", status.Gap, status.Feasible)
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.Record != "" {
		fmt.Fprintf(out, "\nRecord: %s\n", status.Record)
	}
	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
	return nil
}
