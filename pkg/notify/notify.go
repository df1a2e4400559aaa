// Package notify sends operational alerts (a benchmark run finishing, the
// Metrics View's circuit breaker tripping) to Slack. Grounded on the rest
// of the pack's operational-notification convention of a thin webhook
// wrapper; a no-op notifier is used whenever no webhook is configured so
// callers never need a nil check.
package notify

import (
	"fmt"

	"github.com/slack-go/slack"
)

// Notifier sends short operational messages. Nop when no webhook is set.
type Notifier interface {
	Notify(message string)
}

// New returns a SlackNotifier if webhookURL is non-empty, otherwise a
// Notifier whose Notify is a no-op.
func New(webhookURL string) Notifier {
	if webhookURL == "" {
		return nopNotifier{}
	}
	return &slackNotifier{webhookURL: webhookURL}
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

type slackNotifier struct {
	webhookURL string
}

func (s *slackNotifier) Notify(message string) {
	// Best-effort: a failed Slack post must never affect request handling.
	_ = slack.PostWebhook(s.webhookURL, &slack.WebhookMessage{Text: message})
}

// BenchmarkStopped formats a benchmark-stop summary message.
func BenchmarkStopped(algorithm string, requests, errors int64) string {
	return fmt.Sprintf(":checkered_flag: benchmark stopped on %s: %d requests, %d errors", algorithm, requests, errors)
}

// CircuitBreakerTripped formats a circuit-breaker-trip alert message.
func CircuitBreakerTripped(component string) string {
	return fmt.Sprintf(":warning: circuit breaker open on %s", component)
}
