// Package notify turns detected monitoring results into alert pushes.
package notify

import (
	"fmt"
	"log"
	"time"

	"modelmon/internal/model"
)

// Severity grades a pushed alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Pusher delivers one alert message. Implementations decide the channel.
type Pusher interface {
	Push(message string, severity Severity) error
}

// Notifier decides per event whether an alert is warranted and delegates
// delivery to the pusher.
type Notifier struct {
	pusher Pusher
}

func New(pusher Pusher) *Notifier {
	return &Notifier{pusher: pusher}
}

// ShouldNotify reports whether the event crosses the alerting threshold:
// only fully detected results alert, potential detections do not.
func ShouldNotify(ev *model.ResultEvent) bool {
	return ev.Kind == model.KindResult && ev.Status >= model.StatusDetected
}

// Message renders the alert text from the event fields.
func Message(ev *model.ResultEvent) string {
	return fmt.Sprintf(
		"The monitoring app %s detected a problem of kind %s on endpoint %s "+
			"for the window starting at %s: result %s = %g (status %d). Extra data: %s",
		ev.ApplicationName, ev.ResultKind, ev.EndpointID,
		ev.StartInferTime.UTC().Format(time.RFC3339),
		ev.Name, ev.Value, int(ev.Status), ev.ExtraData)
}

// Notify pushes exactly one warning-severity alert when the event crosses
// the threshold, and nothing otherwise.
func (n *Notifier) Notify(ev *model.ResultEvent) error {
	if !ShouldNotify(ev) {
		return nil
	}
	return n.pusher.Push(Message(ev), SeverityWarning)
}

// LogPusher writes alerts to the process log. It is the default pusher
// when no external channel is configured.
type LogPusher struct{}

func (LogPusher) Push(message string, severity Severity) error {
	log.Printf("[alert:%s] %s", severity, message)
	return nil
}
