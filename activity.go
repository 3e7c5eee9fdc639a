package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// LoginActivityTracker appends login events and raises an alert the first
// time an exact (ip, user agent) pair shows up for an account
type LoginActivityTracker struct {
	repo   RepositoryManager
	mailer Mailer
	logger Logger
	now    func() time.Time
}

// NewLoginActivityTracker returns a new LoginActivityTracker
func NewLoginActivityTracker(repo RepositoryManager, mailer Mailer) *LoginActivityTracker {
	return &LoginActivityTracker{
		repo:   repo,
		mailer: mailer,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (t *LoginActivityTracker) WithLogger(logger Logger) *LoginActivityTracker {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// WithClock overrides the time source, used by tests
func (t *LoginActivityTracker) WithClock(now func() time.Time) *LoginActivityTracker {
	if now != nil {
		t.now = now
	}
	return t
}

var _ ActivityTracker = (*LoginActivityTracker)(nil)

// RecordLogin appends a LoginEvent for this login. The event row is
// written regardless of the alert outcome.
func (t *LoginActivityTracker) RecordLogin(ctx context.Context, user *User, client ClientInfo) error {
	knownDevice, err := t.repo.LoginEvents().Exists(ctx, LoginEventQuery{
		UserID:    user.ID,
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to query login history")
	}

	if !knownDevice {
		t.alertNewDevice(ctx, user, client)
	}

	event := &LoginEvent{
		UserID:    user.ID,
		IPAddress: client.IP,
		UserAgent: client.UserAgent,
		LoginAt:   t.now(),
	}

	if _, err := t.repo.LoginEvents().Append(ctx, event); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to append login event")
	}

	return nil
}

// LoginHistory lists recent logins for the account, newest first
func (t *LoginActivityTracker) LoginHistory(ctx context.Context, userID string, limit int) ([]*LoginEvent, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrAccountNotFound
	}

	events, err := t.repo.LoginEvents().ListByUser(ctx, id, limit)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list login history")
	}

	return events, nil
}

// alertNewDevice sends the alert email and writes an in-app notification.
// Both are best effort, the login that triggered them already succeeded.
func (t *LoginActivityTracker) alertNewDevice(ctx context.Context, user *User, client ClientInfo) {
	// seen the ip or the agent before, just not together
	partialMatch, err := t.repo.LoginEvents().Exists(ctx, LoginEventQuery{
		UserID:         user.ID,
		IP:             client.IP,
		UserAgent:      client.UserAgent,
		MatchAnyClient: true,
	})
	if err != nil {
		t.logger.Error("failed to query partial device match", "user_id", user.ID.String(), "error", err)
	}

	device := client.Device()
	t.logger.Info("new device login",
		"user_id", user.ID.String(),
		"device", device,
		"partial_match", partialMatch,
	)

	go func() {
		if err := t.mailer.SendLoginAlertEmail(user.Email, user.FullName(), device); err != nil {
			t.logger.Error("email dispatch failed", "email", "login_alert", "error", err)
		}
	}()

	notification := &Notification{
		UserID:  user.ID,
		Message: "New login detected from " + device,
	}
	if _, err := t.repo.Notifications().Create(ctx, notification); err != nil {
		t.logger.Error("failed to create login notification", "user_id", user.ID.String(), "error", err)
	}
}
