package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Notifications interface {
	repository.Repository[*Notification]

	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) (bool, error)
}

type notifications struct {
	repository.Repository[*Notification]
	db *bun.DB
}

var _ Notifications = (*notifications)(nil)

func NewNotificationsRepository(db *bun.DB) Notifications {
	repo := repository.NewRepository[*Notification](db, repository.ModelHandlers[*Notification]{
		NewRecord: func() *Notification { return &Notification{} },
		GetID: func(n *Notification) uuid.UUID {
			if n == nil {
				return uuid.Nil
			}
			return n.ID
		},
		SetID: func(n *Notification, id uuid.UUID) {
			if n != nil {
				n.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &notifications{
		Repository: repo,
		db:         db,
	}
}

func (a *notifications) Create(ctx context.Context, record *Notification, criteria ...repository.InsertCriteria) (*Notification, error) {
	if record != nil && record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return a.Repository.Create(ctx, record, criteria...)
}

func (a *notifications) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []*Notification
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(limit).
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return records, nil
}

// MarkRead scopes the update to the owner so one user cannot touch
// another user's notifications
func (a *notifications) MarkRead(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	res, err := a.db.NewUpdate().
		Model((*Notification)(nil)).
		Set("read = ?", true).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)

	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}
