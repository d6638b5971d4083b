package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/cronshield/cronshield/internal/lock"
	"github.com/cronshield/cronshield/internal/state"
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List persisted job state",
	Long:  `List every job cronshield has state for: the command line, its consecutive-failure count, and the PID recorded in its lock file, if any.`,
	RunE:  runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

type jobRow struct {
	Fingerprint string   `json:"fingerprint"`
	Command     []string `json:"command"`
	Failures    int      `json:"failures"`
	LockPID     int      `json:"lock_pid,omitempty"`
}

func runJobs(cmd *cobra.Command, args []string) error {
	dir, err := resolveStateDir()
	if err != nil {
		return err
	}

	infos, err := state.New(dir).List()
	if err != nil {
		return err
	}

	rows := make([]jobRow, 0, len(infos))
	for _, in := range infos {
		// A corrupt lock file shows up as no holder; the listing is
		// informational only.
		pid, _ := lock.ReadOwner(in.LockPath)
		rows = append(rows, jobRow{
			Fingerprint: in.Fingerprint,
			Command:     in.Command,
			Failures:    in.Failures,
			LockPID:     pid,
		})
	}

	if outputFormat == "json" {
		output, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Fingerprint", "Command", "Failures", "Lock PID")
	for _, r := range rows {
		fp := r.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		holder := "-"
		if r.LockPID != 0 {
			holder = fmt.Sprintf("%d", r.LockPID)
		}
		table.Append(fp, strings.Join(r.Command, " "), fmt.Sprintf("%d", r.Failures), holder)
	}
	table.Render()

	return nil
}
