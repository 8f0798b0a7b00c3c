package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/crm-notifications/internal/model"
)

// AuthError indicates that authentication has failed or expired for the
// backend. It is returned when a 401 response is received.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// EventSource abstracts the backend's event_notifications change feed for
// the current session user.
type EventSource interface {
	// FetchUnread returns every unread row for the session user, newest
	// first. It has no side effects.
	FetchUnread(ctx context.Context) ([]model.EventRow, error)

	// MarkRead sets read=true on the row with the given id.
	MarkRead(ctx context.Context, rowID string) error

	// Subscribe calls onChange whenever a row for the session user is
	// inserted or updated remotely, until ctx is cancelled. Delivery is
	// at-least-once and carries no payload; callers refetch. Subscribe
	// blocks and returns ctx.Err() on cancellation, or an error if the
	// feed cannot be used at all.
	Subscribe(ctx context.Context, onChange func()) error
}

// PushReporter is implemented by sources whose push channel can tell when
// it is actually connected. fn is called with true once the feed is joined
// and with false when that connection is lost.
type PushReporter interface {
	OnPushState(fn func(connected bool))
}
