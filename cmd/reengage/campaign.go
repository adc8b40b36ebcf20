package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/reengage/internal/models"
)

var (
	campaignListUser   string
	campaignListActive bool
	campaignListLimit  int
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "User opt-out commands",
}

var userUnsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <user_id>",
	Short: "Opt a user out and close their active campaigns",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserUnsubscribe,
}

var userResubscribeCmd = &cobra.Command{
	Use:   "resubscribe <user_id>",
	Short: "Opt a user back in",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserResubscribe,
}

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign inspection commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <campaign_id>",
	Short: "Show a campaign with its notifications",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

func init() {
	campaignListCmd.Flags().StringVar(&campaignListUser, "user", "", "Filter by user ID")
	campaignListCmd.Flags().BoolVar(&campaignListActive, "active", false, "Only active campaigns")
	campaignListCmd.Flags().IntVar(&campaignListLimit, "limit", 50, "Maximum number of campaigns to show")

	userCmd.AddCommand(userUnsubscribeCmd, userResubscribeCmd)
	campaignCmd.AddCommand(campaignListCmd, campaignShowCmd)
	rootCmd.AddCommand(userCmd, campaignCmd)
}

func runUserUnsubscribe(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	closed, err := application.Campaigns().UnsubscribeUser(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to unsubscribe user: %w", err)
	}

	fmt.Printf("User %s unsubscribed, %d campaign(s) closed\n", args[0], closed)
	return nil
}

func runUserResubscribe(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Campaigns().ResubscribeUser(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to resubscribe user: %w", err)
	}

	fmt.Printf("User %s resubscribed\n", args[0])
	return nil
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	campaigns, err := application.Campaigns().ListCampaigns(context.Background(), models.CampaignListFilter{
		UserID:     campaignListUser,
		ActiveOnly: campaignListActive,
		Limit:      campaignListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	if len(campaigns) == 0 {
		fmt.Println("No campaigns")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tLEVEL\tSTATE\tSENT\tNEXT")
	fmt.Fprintln(w, "--\t----\t-----\t-----\t----\t----")

	for _, c := range campaigns {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			truncateID(c.ID),
			c.UserID,
			c.CurrentLevel,
			campaignState(c),
			c.TotalNotificationsSent,
			formatTime(c.NextNotificationDate),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d campaigns\n", len(campaigns))

	return nil
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	application, err := openApp()
	if err != nil {
		return err
	}
	defer application.Close()

	ctx := context.Background()
	manager := application.Campaigns()

	c, err := manager.GetCampaign(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get campaign: %w", err)
	}
	if c == nil {
		return fmt.Errorf("campaign not found: %s", args[0])
	}

	fmt.Printf("Campaign: %s\n\n", c.ID)
	fmt.Printf("User:          %s\n", c.UserID)
	fmt.Printf("State:         %s\n", campaignState(c))
	fmt.Printf("Level:         %d\n", c.CurrentLevel)
	fmt.Printf("Last activity: %s\n", c.LastActivityDate.Format(time.DateOnly))
	fmt.Printf("Started:       %s\n", c.CampaignStartDate.Format(time.RFC3339))
	fmt.Printf("Next:          %s\n", formatTime(c.NextNotificationDate))
	fmt.Printf("Sent:          %d\n", c.TotalNotificationsSent)
	if c.ReturnedAt != nil {
		fmt.Printf("Returned at:   %s\n", c.ReturnedAt.Format(time.RFC3339))
	}

	notifications, err := manager.ListNotifications(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("failed to list notifications: %w", err)
	}

	if len(notifications) == 0 {
		return nil
	}

	fmt.Println("\nNotifications")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tVARIANT\tTYPE\tSENT\tOK\tFAILED\tCLICKED\tTITLE")
	for _, n := range notifications {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%t\t%s\n",
			n.Level,
			n.VariantID,
			n.MessageType,
			formatTime(n.SentAt),
			n.SuccessCount,
			n.FailedCount,
			n.Clicked,
			n.Title,
		)
	}
	w.Flush()

	return nil
}

func campaignState(c *models.Campaign) string {
	switch {
	case c.IsActive:
		return "active"
	case c.Returned:
		return "returned"
	case c.Unsubscribed:
		return "unsubscribed"
	default:
		return "completed"
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}
