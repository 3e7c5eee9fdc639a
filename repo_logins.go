package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LoginEventQuery narrows known device lookups
type LoginEventQuery struct {
	UserID    uuid.UUID
	IP        string
	UserAgent string
	// MatchAnyClient relaxes the lookup to ip OR user agent
	MatchAnyClient bool
}

type LoginEvents interface {
	repository.Repository[*LoginEvent]

	Append(ctx context.Context, event *LoginEvent) (*LoginEvent, error)
	Exists(ctx context.Context, query LoginEventQuery) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*LoginEvent, error)
}

type loginEvents struct {
	repository.Repository[*LoginEvent]
	db *bun.DB
}

var _ LoginEvents = (*loginEvents)(nil)

func NewLoginEventsRepository(db *bun.DB) LoginEvents {
	repo := repository.NewRepository[*LoginEvent](db, repository.ModelHandlers[*LoginEvent]{
		NewRecord: func() *LoginEvent { return &LoginEvent{} },
		GetID: func(e *LoginEvent) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *LoginEvent, id uuid.UUID) {
			if e != nil {
				e.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &loginEvents{
		Repository: repo,
		db:         db,
	}
}

func (a *loginEvents) Append(ctx context.Context, event *LoginEvent) (*LoginEvent, error) {
	if event != nil && event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return a.Repository.Create(ctx, event)
}

func (a *loginEvents) Exists(ctx context.Context, query LoginEventQuery) (bool, error) {
	q := a.db.NewSelect().
		Model((*LoginEvent)(nil)).
		Where("?TableAlias.user_id = ?", query.UserID)

	if query.MatchAnyClient {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				WhereOr("?TableAlias.ip_address = ?", query.IP).
				WhereOr("?TableAlias.user_agent = ?", query.UserAgent)
		})
	} else {
		q = q.
			Where("?TableAlias.ip_address = ?", query.IP).
			Where("?TableAlias.user_agent = ?", query.UserAgent)
	}

	return q.Exists(ctx)
}

func (a *loginEvents) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*LoginEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var events []*LoginEvent
	err := a.db.NewSelect().
		Model(&events).
		Where("?TableAlias.user_id = ?", userID).
		OrderExpr("?TableAlias.login_at DESC").
		Limit(limit).
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return events, nil
}
