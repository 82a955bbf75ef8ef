package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var poolCmd = []cobra.Command{
	{
		Use:   "acquire",
		Short: "Acquire workers for a task",
		Long:  `Select the best workers from the pool for a set of required capabilities, spawning new ones if needed.`,
		Run: func(cmd *cobra.Command, args []string) {
			caps, _ := cmd.Flags().GetStringSlice("capabilities")
			maxWorkers, _ := cmd.Flags().GetInt("max-workers")
			taskType, _ := cmd.Flags().GetString("task-type")
			priority, _ := cmd.Flags().GetInt("priority")
			preferReuse, _ := cmd.Flags().GetBool("prefer-reuse")
			estimateMS, _ := cmd.Flags().GetInt64("estimate-ms")

			if len(caps) == 0 {
				logErrorCmd(*cmd, fmt.Errorf("at least one capability is required"))

				return
			}

			body := map[string]any{
				"task_type":             taskType,
				"required_capabilities": caps,
				"max_workers":           maxWorkers,
				"priority":              priority,
				"prefer_reuse":          preferReuse,
				"estimated_duration_ms": estimateMS,
			}
			var result map[string]any
			if err := postJSON("/pool/acquire", body, &result); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, result)
		},
	},
	{
		Use:   "release",
		Short: "Release workers back to the pool",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			requestID, _ := cmd.Flags().GetString("request-id")
			workerIDs, _ := cmd.Flags().GetStringSlice("workers")

			if requestID == "" {
				logErrorCmd(*cmd, fmt.Errorf("request-id is required"))

				return
			}
			if len(workerIDs) == 0 {
				logErrorCmd(*cmd, fmt.Errorf("at least one worker id is required"))

				return
			}

			body := map[string]any{
				"request_id": requestID,
				"worker_ids": workerIDs,
			}
			var result map[string]any
			if err := postJSON("/pool/release", body, &result); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd, fmt.Sprintf("released %d worker(s)", len(workerIDs)))
		},
	},
	{
		Use:   "stats",
		Short: "Show pool statistics",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			var stats map[string]any
			if err := getJSON("/pool/stats", &stats); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, stats)
		},
	},
	{
		Use:   "workers",
		Short: "List pool workers",
		Long:  ``,
		Run: func(cmd *cobra.Command, args []string) {
			offset, _ := cmd.Flags().GetUint64("offset")
			limit, _ := cmd.Flags().GetUint64("limit")

			var page map[string]any
			path := fmt.Sprintf("/workers/?offset=%d&limit=%d", offset, limit)
			if err := getJSON(path, &page); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	},
}

func NewPoolCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "pool",
		Short: "Worker pool operations",
		Long:  ``,
	}

	for i := range poolCmd {
		cmd.AddCommand(&poolCmd[i])
	}

	acquireCmd := &poolCmd[0]
	acquireCmd.Flags().StringSliceP("capabilities", "c", []string{}, "Required capability tags (required)")
	acquireCmd.Flags().IntP("max-workers", "n", 1, "Maximum workers to assign")
	acquireCmd.Flags().StringP("task-type", "t", "", "Task type for performance history")
	acquireCmd.Flags().IntP("priority", "p", 0, "Request priority")
	acquireCmd.Flags().Bool("prefer-reuse", true, "Prefer reusing idle workers over spawning")
	acquireCmd.Flags().Int64("estimate-ms", 0, "Estimated task duration in milliseconds")

	releaseCmd := &poolCmd[1]
	releaseCmd.Flags().StringP("request-id", "r", "", "Request id the workers were acquired under (required)")
	releaseCmd.Flags().StringSliceP("workers", "w", []string{}, "Worker ids to release (required)")

	workersCmd := &poolCmd[3]
	workersCmd.Flags().Uint64("offset", 0, "Listing offset")
	workersCmd.Flags().Uint64("limit", 100, "Listing limit")

	return &cmd
}
