// Package escalation announces escalated turns and rejected booking toggles
// to the company's operators.
package escalation

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/models"
)

// TopicPublisher is satisfied by *aws.SNSClient.
type TopicPublisher interface {
	PublishEvent(ctx context.Context, topicARN, subject, message string, attributes map[string]string) (string, error)
}

// EmailSender is satisfied by *aws.SESClient.
type EmailSender interface {
	SendText(ctx context.Context, to, subject, body string) (string, error)
}

// WorkflowPublisher is satisfied by *camunda.Client.
type WorkflowPublisher interface {
	PublishMessage(ctx context.Context, name, correlationKey string, variables map[string]interface{}, ttl time.Duration) error
}

// MessageEscalated is the Zeebe message an escalated conversation publishes.
const MessageEscalated = "agent-turn-escalated"

// Event describes one escalated turn.
type Event struct {
	CompanyID      string    `json:"companyId"`
	ConversationID string    `json:"conversationId,omitempty"`
	Text           string    `json:"text"`
	Reason         string    `json:"reason"`
	Confidence     float64   `json:"confidenceScore"`
	Generation     uint64    `json:"configGeneration"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// Notifier fans an escalation out to whichever channels are wired. Nil
// channels are skipped.
type Notifier struct {
	topics   TopicPublisher
	email    EmailSender
	workflow WorkflowPublisher
	logger   logger.Logger
}

func NewNotifier(topics TopicPublisher, email EmailSender, workflow WorkflowPublisher, log logger.Logger) *Notifier {
	return &Notifier{
		topics:   topics,
		email:    email,
		workflow: workflow,
		logger:   log.WithFields(map[string]interface{}{"component": "escalation-notifier"}),
	}
}

// Escalated publishes the event to the company SNS topic and, for
// conversations, correlates a Zeebe message on the conversation id.
func (n *Notifier) Escalated(ctx context.Context, target models.EscalationTarget, ev Event) error {
	var errs []error

	if n.topics != nil && target.SNSTopicARN != "" {
		body, err := json.Marshal(ev)
		if err != nil {
			return errors.NewNotificationSendFailedError("sns", err)
		}
		if _, err := n.topics.PublishEvent(ctx, target.SNSTopicARN, "Agent escalation", string(body), map[string]string{
			"companyId": ev.CompanyID,
			"reason":    ev.Reason,
		}); err != nil {
			errs = append(errs, errors.NewNotificationSendFailedError("sns", err))
		}
	}

	if n.workflow != nil && ev.ConversationID != "" {
		vars := map[string]interface{}{
			"companyId":       ev.CompanyID,
			"conversationId":  ev.ConversationID,
			"escalationCause": ev.Reason,
			"confidenceScore": ev.Confidence,
		}
		if err := n.workflow.PublishMessage(ctx, MessageEscalated, ev.ConversationID, vars, time.Hour); err != nil {
			errs = append(errs, errors.NewNotificationSendFailedError("zeebe", err))
		}
	}

	return n.finish("escalation", ev.CompanyID, errs)
}

// BookingEnableRejected emails the operator the reasons a V2 enable was
// refused.
func (n *Notifier) BookingEnableRejected(ctx context.Context, companyID string, target models.EscalationTarget, rejection error) error {
	if n.email == nil || target.OperatorEmail == "" {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Enabling the compiled booking contract for company %s was rejected.\n\n", companyID)
	if stdErr, ok := errors.AsStandard(rejection); ok {
		if missing, ok := stdErr.Metadata["missingSlotRefs"].([]string); ok && len(missing) > 0 {
			fmt.Fprintf(&b, "Slot groups reference undefined slots: %s\n", strings.Join(missing, ", "))
		}
		if active, ok := stdErr.Metadata["activeSlots"].(int); ok && active == 0 {
			b.WriteString("The contract emits no slots with no branch flags set.\n")
		}
	}
	b.WriteString("\nThe company stays on the legacy booking path until the contract compiles clean.\n")

	var errs []error
	if _, err := n.email.SendText(ctx, target.OperatorEmail, "Booking contract V2 enable rejected", b.String()); err != nil {
		errs = append(errs, errors.NewNotificationSendFailedError("ses", err))
	}
	return n.finish("booking-rejection", companyID, errs)
}

func (n *Notifier) finish(kind, companyID string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	err := stderrors.Join(errs...)
	n.logger.Warn("notification failed", map[string]interface{}{
		"kind":      kind,
		"companyId": companyID,
		"error":     err.Error(),
	})
	return err
}
