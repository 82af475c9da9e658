/**
 * @description
 * This package delivers one-time codes and verification links to users by
 * email. Delivery is strictly best-effort: the production implementation
 * publishes an email-request event to RabbitMQ for the notification pipeline
 * to pick up, logs on failure, and never returns an error into the caller's
 * control flow. Blocking an account opening or a transfer on email
 * deliverability would make the portal unusable whenever the mail provider
 * is down; the resend path exists for codes that never arrive.
 */

package notifier

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/finportal/portal-service/pkg/rabbitmq"
)

// Notifier delivers out-of-band messages to a user's registered email.
type Notifier interface {
	// SendOperationCode delivers the confirmation code for a staged sensitive
	// operation together with its human-readable summary.
	SendOperationCode(ctx context.Context, email, code, title, detail string)
	// SendLoginCode delivers the second-factor code issued at login.
	SendLoginCode(ctx context.Context, email, code string)
	// SendVerificationLink delivers the email-ownership verification link.
	SendVerificationLink(ctx context.Context, email, link string)
}

// EmailRequestedEvent is the payload published for each outgoing email.
type EmailRequestedEvent struct {
	To          string    `json:"to"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	RequestedAt time.Time `json:"requested_at"`
}

// EventNotifier publishes email requests to the notification exchange.
type EventNotifier struct {
	producer      rabbitmq.Publisher
	exchange      string
	otpExpiryMins int
}

// NewEventNotifier creates a notifier publishing to the given exchange.
// otpExpiryMins is rendered into code emails so users know how long a code
// stays valid.
func NewEventNotifier(producer rabbitmq.Publisher, exchange string, otpExpiryMins int) *EventNotifier {
	return &EventNotifier{producer: producer, exchange: exchange, otpExpiryMins: otpExpiryMins}
}

func (n *EventNotifier) publish(ctx context.Context, email, subject, body string) {
	event := EmailRequestedEvent{
		To:          email,
		Subject:     subject,
		Body:        body,
		RequestedAt: time.Now().UTC(),
	}
	if err := n.producer.Publish(ctx, n.exchange, "email.requested", event); err != nil {
		log.Printf("level=error component=notifier msg=\"email publish failed\" to=%s subject=%q err=%v", email, subject, err)
	}
}

func (n *EventNotifier) SendOperationCode(ctx context.Context, email, code, title, detail string) {
	body := fmt.Sprintf(
		"To confirm the following operation on your portal account:\n\n%s\n%s\n\nYour confirmation code is: %s\n\nThe code expires in %d minutes. Do not share it with anyone.",
		title, detail, code, n.otpExpiryMins,
	)
	n.publish(ctx, email, "Confirmation code for your operation", body)
}

func (n *EventNotifier) SendLoginCode(ctx context.Context, email, code string) {
	body := fmt.Sprintf(
		"Your one-time login code is: %s\n\nThe code expires in %d minutes. Do not share it with anyone.",
		code, n.otpExpiryMins,
	)
	n.publish(ctx, email, "Your login code", body)
}

func (n *EventNotifier) SendVerificationLink(ctx context.Context, email, link string) {
	body := fmt.Sprintf(
		"Thanks for registering. To activate your account, open the following link:\n\n%s\n\nIf you did not create this account you can ignore this message.",
		link,
	)
	n.publish(ctx, email, "Verify your email address", body)
}
