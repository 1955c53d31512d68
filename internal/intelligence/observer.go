package intelligence

import (
	"context"
	"time"

	"github.com/crossnotify/crossnotify/internal/presentation"
)

// RelayAppIdentifier is the app identifier given to notifications this
// device presents for other devices. The category is appended when set.
const RelayAppIdentifier = "crossnotify"

// ObservingPresenter hands presentations to next and then records the ones
// that were shown with the classifier.
type ObservingPresenter struct {
	next    presentation.Presenter
	observe func(ctx context.Context, n ObservedNotification)
	now     func() time.Time
}

// NewObservingPresenter wraps next. observe is usually Service.Observe; it is
// a function so the presenter can be built before the service.
func NewObservingPresenter(next presentation.Presenter, observe func(ctx context.Context, n ObservedNotification)) *ObservingPresenter {
	return &ObservingPresenter{next: next, observe: observe, now: time.Now}
}

// Present shows p and observes it. Silent presentations carry no text and
// are not observed.
func (o *ObservingPresenter) Present(ctx context.Context, p presentation.Presentation) error {
	if err := o.next.Present(ctx, p); err != nil {
		return err
	}
	if p.Silent {
		return nil
	}
	o.observe(ctx, Observed(p, o.now()))
	return nil
}

// Remove delegates to next.
func (o *ObservingPresenter) Remove(ctx context.Context, notificationIDs ...string) error {
	return o.next.Remove(ctx, notificationIDs...)
}

// Observed converts a local presentation for the classifier. at is used
// when the presentation carries no time.
func Observed(p presentation.Presentation, at time.Time) ObservedNotification {
	appID := RelayAppIdentifier
	if p.Category != "" {
		appID += "." + string(p.Category)
	}
	received := p.PresentedAt
	if received.IsZero() {
		received = at
	}
	return ObservedNotification{
		ID:            p.NotificationID,
		AppIdentifier: appID,
		Title:         p.Title,
		Subtitle:      p.Subtitle,
		Body:          p.Body,
		ThreadID:      p.ThreadID,
		ReceivedAt:    received,
	}
}
