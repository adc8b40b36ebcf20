package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var scheduleDispatch bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Scheduler commands",
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler once",
	Long: `Close campaigns of returned users, start campaigns for inactive users
and queue every notification that is due.

With --dispatch the queued notifications are also sent before exiting.`,
	RunE: runScheduleRun,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Daily metrics commands",
}

var metricsRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record today's metrics row",
	RunE:  runMetricsRecord,
}

func init() {
	scheduleRunCmd.Flags().BoolVar(&scheduleDispatch, "dispatch", false, "Send queued notifications after the run")

	scheduleCmd.AddCommand(scheduleRunCmd)
	metricsCmd.AddCommand(metricsRecordCmd)
	rootCmd.AddCommand(scheduleCmd, metricsCmd)
}

func runScheduleRun(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := context.Background()

	result, err := application.Scheduler().Run(ctx)
	if err != nil {
		return fmt.Errorf("scheduler run failed: %w", err)
	}

	fmt.Printf("New campaigns:           %d\n", result.NewCampaigns)
	fmt.Printf("Scheduled notifications: %d\n", result.ScheduledNotifications)
	fmt.Printf("Closed campaigns:        %d\n", result.ClosedCampaigns)

	if scheduleDispatch {
		n := application.Processor().Drain(ctx)
		fmt.Printf("Processed jobs:          %d\n", n)
	}

	return nil
}

func runMetricsRecord(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	m, err := application.Recorder().RecordDailyMetrics(context.Background())
	if err != nil {
		return fmt.Errorf("failed to record metrics: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
