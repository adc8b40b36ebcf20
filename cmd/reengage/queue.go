package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/reengage/internal/queue"
)

var (
	queueListStatus string
	queueListLimit  int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue management commands",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in the queue",
	RunE:  runQueueList,
}

var queueShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueShow,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE:  runQueueStats,
}

var queueDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List jobs in the dead letter queue",
	RunE:  runQueueDLQ,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <job_id>",
	Short: "Retry a failed job",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRetry,
}

var queueDeleteCmd = &cobra.Command{
	Use:   "delete <job_id>",
	Short: "Delete a job from the queue or the dead letter queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueDelete,
}

func init() {
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "Filter by status (pending, sending, deferred)")
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 50, "Maximum number of jobs to show")
	queueDLQCmd.Flags().IntVar(&queueListLimit, "limit", 50, "Maximum number of jobs to show")

	queueCmd.AddCommand(queueListCmd, queueShowCmd, queueStatsCmd, queueDLQCmd, queueRetryCmd, queueDeleteCmd)
	rootCmd.AddCommand(queueCmd)
}

func openQueueStorage() (*queue.BoltStorage, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	storage, err := queue.NewBoltStorage(cfg.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue storage: %w", err)
	}

	return storage, nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	jobs, err := storage.List(context.Background(), queue.ListFilter{
		Status: queue.JobStatus(queueListStatus),
		Limit:  queueListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	printJobs(jobs)
	fmt.Printf("\nTotal: %d jobs\n", len(jobs))

	return nil
}

func runQueueDLQ(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	jobs, err := storage.ListDLQ(context.Background(), queueListLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list DLQ: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("Dead letter queue is empty")
		return nil
	}

	printJobs(jobs)
	fmt.Printf("\nTotal: %d jobs\n", len(jobs))

	return nil
}

func printJobs(jobs []*queue.Job) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCAMPAIGN\tUSER\tLEVEL\tCREATED\tATTEMPTS")
	fmt.Fprintln(w, "--\t------\t--------\t----\t-----\t-------\t--------")

	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%d/%d\n",
			truncateID(job.ID),
			job.Status,
			truncateID(job.CampaignID),
			job.UserID,
			job.Level,
			job.CreatedAt.Format("2006-01-02 15:04"),
			job.Attempts,
			job.MaxAttempts,
		)
	}

	w.Flush()
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	ctx := context.Background()
	id := args[0]

	job, err := storage.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	if job == nil {
		job, err = storage.GetFromDLQ(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get job from DLQ: %w", err)
		}
	}

	if job == nil {
		return fmt.Errorf("job not found: %s", id)
	}

	fmt.Printf("Job: %s\n\n", job.ID)
	fmt.Printf("Status:   %s\n", job.Status)
	fmt.Printf("Campaign: %s\n", job.CampaignID)
	fmt.Printf("User:     %s\n", job.UserID)
	fmt.Printf("Level:    %d\n", job.Level)
	fmt.Printf("Attempts: %d/%d\n", job.Attempts, job.MaxAttempts)
	fmt.Printf("Created:  %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", job.UpdatedAt.Format(time.RFC3339))

	if !job.NextRetryAt.IsZero() {
		fmt.Printf("Next Retry: %s\n", job.NextRetryAt.Format(time.RFC3339))
	}

	if job.LastError != "" {
		fmt.Printf("\nLast Error:\n  %s\n", job.LastError)
	}

	return nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	ctx := context.Background()

	stats, err := storage.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get queue stats: %w", err)
	}

	fmt.Println("Queue Statistics")
	fmt.Println("================")
	fmt.Printf("Total:     %d\n", stats.Total)
	fmt.Printf("Pending:   %d\n", stats.Pending)
	fmt.Printf("Sending:   %d\n", stats.Sending)
	fmt.Printf("Deferred:  %d\n", stats.Deferred)

	dlqStats, err := storage.DLQStats(ctx)
	if err == nil && dlqStats.Total > 0 {
		fmt.Println("\nDead Letter Queue")
		fmt.Println("-----------------")
		fmt.Printf("Total:     %d\n", dlqStats.Total)
		if !dlqStats.OldestAt.IsZero() {
			fmt.Printf("Oldest:    %s\n", dlqStats.OldestAt.Format(time.RFC3339))
		}
	}

	return nil
}

func runQueueRetry(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := storage.RetryFromDLQ(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	fmt.Printf("Job %s moved from DLQ to pending queue\n", args[0])
	return nil
}

func runQueueDelete(cmd *cobra.Command, args []string) error {
	storage, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	ctx := context.Background()
	id := args[0]

	// Try regular queue first
	job, _ := storage.Get(ctx, id)
	if job != nil {
		if err := storage.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		fmt.Printf("Job %s deleted from queue\n", id)
		return nil
	}

	job, _ = storage.GetFromDLQ(ctx, id)
	if job != nil {
		if err := storage.DeleteFromDLQ(ctx, id); err != nil {
			return fmt.Errorf("failed to delete job from DLQ: %w", err)
		}
		fmt.Printf("Job %s deleted from DLQ\n", id)
		return nil
	}

	return fmt.Errorf("job not found: %s", id)
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
