// Package notify reports ingestion results to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	Host    string // Optional origin shown as footer
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// FolderFailure is one run folder that could not be ingested
type FolderFailure struct {
	Path string
	Err  error
}

// maxListedFailures caps the folders listed in one summary
const maxListedFailures = 20

// FailureSummary builds the notification sent after a pass in which some folders failed
func FailureSummary(failures []FolderFailure, total int) Notification {
	var b strings.Builder
	for i, f := range failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "... and %d more\n", len(failures)-maxListedFailures)
			break
		}
		fmt.Fprintf(&b, "%s: %v\n", f.Path, f.Err)
	}
	return Notification{
		Title:   fmt.Sprintf("Flow cell ingest: %d of %d folders failed", len(failures), total),
		Message: strings.TrimSuffix(b.String(), "\n"),
		Type:    NotifyError,
	}
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(ctx context.Context, n Notification) error { return nil }
