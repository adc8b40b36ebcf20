// Package dispatch consumes campaign jobs: it picks and personalizes a
// message, delivers it and advances the campaign.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/foxzi/reengage/internal/campaign"
	"github.com/foxzi/reengage/internal/messages"
	"github.com/foxzi/reengage/internal/metrics"
	"github.com/foxzi/reengage/internal/models"
	"github.com/foxzi/reengage/internal/personalize"
	"github.com/foxzi/reengage/internal/push"
	"github.com/foxzi/reengage/internal/queue"
)

// UserDataCollector gathers personalization facts for a user
type UserDataCollector interface {
	Collect(ctx context.Context, userID string) (*models.UserData, error)
}

// Dispatcher implements queue.Handler and queue.FailureHandler
type Dispatcher struct {
	campaigns *campaign.Manager
	collector UserDataCollector
	selector  *messages.Selector
	sender    push.Sender
	logger    *slog.Logger
}

// New creates a dispatcher
func New(campaigns *campaign.Manager, collector UserDataCollector, selector *messages.Selector, sender push.Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		campaigns: campaigns,
		collector: collector,
		selector:  selector,
		sender:    sender,
		logger:    logger,
	}
}

// Handle delivers the notification for one job. Jobs whose campaign was
// closed or already moved past the job's level are dropped without error.
func (d *Dispatcher) Handle(ctx context.Context, job *queue.Job) error {
	logger := d.logger.With("campaign_id", job.CampaignID, "user_id", job.UserID, "level", job.Level)

	data, err := d.campaigns.GetCampaignData(ctx, job.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign %s: %w", job.CampaignID, err)
	}
	if reason := skipReason(data, job); reason != "" {
		logger.Info("skipping job", "reason", reason)
		metrics.IncNotificationsSkipped(reason)
		return nil
	}

	note, err := d.prepare(ctx, job, data, logger)
	if err != nil {
		return err
	}
	if note == nil {
		logger.Warn("no eligible message variant, skipping")
		metrics.IncNotificationsSkipped("no_variant")
		return nil
	}

	res, err := d.sender.Send(ctx, data.UserID, messageFromNotification(note))
	if err != nil {
		return fmt.Errorf("failed to deliver notification %s: %w", note.ID, err)
	}

	if err := d.campaigns.UpdateCampaignAfterSend(ctx, job.CampaignID, note.ID, res.Success, res.Failed); err != nil {
		// The push is out, a retry would send it again
		return push.Permanent(&deliveredError{notificationID: note.ID, result: res, err: err})
	}

	metrics.IncNotificationsSent(job.Level)
	logger.Info("notification sent",
		"notification_id", note.ID,
		"variant_id", note.VariantID,
		"success", res.Success,
		"failed", res.Failed,
	)

	return nil
}

// HandleFailure records a job that will not be retried. The pending
// notification is marked sent and the campaign advances. A delivered push
// whose result could not be stored keeps its real counts, anything else is
// recorded as one failure.
func (d *Dispatcher) HandleFailure(ctx context.Context, job *queue.Job, cause error) {
	logger := d.logger.With("campaign_id", job.CampaignID, "user_id", job.UserID, "level", job.Level)

	var delivered *deliveredError
	if !errors.As(cause, &delivered) {
		metrics.IncNotificationsFailed(job.Level)
	}

	note, err := d.campaigns.PendingNotification(ctx, job.CampaignID, job.Level)
	if err != nil {
		logger.Error("failed to load pending notification", "error", err)
		return
	}
	if note == nil {
		// Nothing was rendered, the next scheduler run picks the campaign up again
		logger.Warn("job failed before a notification was recorded", "error", cause)
		return
	}

	success, failed := 0, 1
	if delivered != nil && delivered.notificationID == note.ID {
		success, failed = delivered.result.Success, delivered.result.Failed
	}

	if err := d.campaigns.UpdateCampaignAfterSend(ctx, job.CampaignID, note.ID, success, failed); err != nil {
		logger.Error("failed to record delivery", "notification_id", note.ID, "error", err)
		return
	}

	if delivered != nil {
		metrics.IncNotificationsSent(job.Level)
		logger.Warn("delivered notification recorded after update failure",
			"notification_id", note.ID,
			"success", success,
			"failed", failed,
			"error", cause,
		)
		return
	}

	logger.Warn("notification delivery failed, campaign advanced",
		"notification_id", note.ID,
		"error", cause,
	)
}

// prepare returns the notification to deliver. A record left by an earlier
// attempt is reused so retries send the same message.
func (d *Dispatcher) prepare(ctx context.Context, job *queue.Job, data *models.CampaignData, logger *slog.Logger) (*models.Notification, error) {
	note, err := d.campaigns.PendingNotification(ctx, job.CampaignID, job.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending notification: %w", err)
	}
	if note != nil {
		logger.Debug("reusing pending notification", "notification_id", note.ID)
		return note, nil
	}

	userData, err := d.collector.Collect(ctx, data.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect user data: %w", err)
	}

	variant := d.selector.Select(job.Level, userData, data.SentVariantIDs)
	if variant == nil {
		return nil, nil
	}

	msg := personalize.Personalize(*variant, userData)
	if leftover := personalize.Validate(msg); len(leftover) > 0 {
		logger.Warn("unresolved placeholders in message",
			"variant_id", variant.ID,
			"tokens", leftover,
		)
		metrics.IncPersonalizationWarnings(variant.ID)
	}

	in := models.NotificationInput{
		CampaignID:  job.CampaignID,
		Level:       job.Level,
		MessageType: variant.Type,
		VariantID:   variant.ID,
		Title:       msg.Title,
		Body:        msg.Body,
		URL:         msg.URL,
	}
	id, err := d.campaigns.CreateNotificationRecord(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to record notification: %w", err)
	}

	return &models.Notification{
		ID:          id,
		CampaignID:  in.CampaignID,
		Level:       in.Level,
		MessageType: in.MessageType,
		VariantID:   in.VariantID,
		Title:       in.Title,
		Body:        in.Body,
		URL:         in.URL,
	}, nil
}

// deliveredError is a send that reached the transport but whose result
// could not be stored
type deliveredError struct {
	notificationID string
	result         push.Result
	err            error
}

func (e *deliveredError) Error() string {
	return fmt.Sprintf("notification %s delivered but not recorded: %v", e.notificationID, e.err)
}

func (e *deliveredError) Unwrap() error {
	return e.err
}

func skipReason(data *models.CampaignData, job *queue.Job) string {
	switch {
	case data == nil:
		return "campaign_missing"
	case !data.IsActive:
		return "campaign_closed"
	case data.OptedOut:
		return "opted_out"
	case data.CurrentLevel != job.Level:
		return "level_mismatch"
	default:
		return ""
	}
}

func messageFromNotification(n *models.Notification) personalize.Message {
	return personalize.Message{
		Title: n.Title,
		Body:  n.Body,
		URL:   n.URL,
		Data: map[string]string{
			"notificationId": n.ID,
			"variantId":      n.VariantID,
			"messageType":    string(n.MessageType),
			"level":          strconv.Itoa(n.Level),
			"url":            n.URL,
		},
	}
}
