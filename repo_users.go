package identity

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var markUserVerifiedSQL = `UPDATE "users" AS "usr"
SET
	"status" = ?,
	"verification_code" = NULL,
	"verification_code_expires" = NULL,
	"verification_attempts" = 0,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

var updateUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"reset_password_token_hash" = NULL,
	"reset_password_expires" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

var rotateRefreshTokenSQL = `UPDATE "users" AS "usr"
SET
	"refresh_token" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."deleted_at" IS NULL
AND "usr"."id" = ?
AND "usr"."refresh_token" = ?
RETURNING *;`

type Users interface {
	repository.Repository[*User]

	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	FindByResetTokenHash(ctx context.Context, digest string) (*User, error)

	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)

	MarkVerified(ctx context.Context, id uuid.UUID) (*User, error)
	MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	SetVerificationCode(ctx context.Context, id uuid.UUID, code string, expires, sentAt time.Time) error
	IncrementVerificationAttempts(ctx context.Context, id uuid.UUID) error

	StoreRefreshToken(ctx context.Context, id uuid.UUID, token *string) error
	RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string) (bool, error)

	SaveResetToken(ctx context.Context, id uuid.UUID, digest string, expires time.Time) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) FindByEmail(ctx context.Context, email string) (*User, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *users) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("lower(?TableAlias.email) = lower(?)", strings.TrimSpace(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"email": email,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) FindByResetTokenHash(ctx context.Context, digest string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.reset_password_token_hash = ?", digest).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return record, nil
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) MarkVerified(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.MarkVerifiedTx(ctx, a.db, id)
}

func (a *users) MarkVerifiedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	res, err := a.Repository.RawTx(ctx, tx, markUserVerifiedSQL, UserStatusActive, id.String())
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

func (a *users) SetVerificationCode(ctx context.Context, id uuid.UUID, code string, expires, sentAt time.Time) error {
	// resets the attempt counter alongside the new code
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"verification_code" = ?,
			"verification_code_expires" = ?,
			"verification_attempts" = 0,
			"last_otp_sent_at" = ?,
			"updated_at" = CURRENT_TIMESTAMP
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, code, expires, sentAt, id).Exec(ctx)

	return err
}

func (a *users) IncrementVerificationAttempts(ctx context.Context, id uuid.UUID) error {
	// NOTE: increment in SQL, two readers bumping a stale in memory
	// counter would otherwise lose updates
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"verification_attempts" = "verification_attempts" + 1,
			"updated_at" = CURRENT_TIMESTAMP
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, id).Exec(ctx)

	return err
}

func (a *users) StoreRefreshToken(ctx context.Context, id uuid.UUID, token *string) error {
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"refresh_token" = ?,
			"updated_at" = CURRENT_TIMESTAMP
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, token, id).Exec(ctx)

	return err
}

// RotateRefreshToken swaps the stored token only when it still matches the
// presented one, so concurrent refreshes cannot both win
func (a *users) RotateRefreshToken(ctx context.Context, id uuid.UUID, current, next string) (bool, error) {
	res, err := a.Repository.RawTx(ctx, a.db, rotateRefreshTokenSQL, next, id.String(), current)
	if err != nil {
		return false, err
	}

	return len(res) > 0, nil
}

func (a *users) SaveResetToken(ctx context.Context, id uuid.UUID, digest string, expires time.Time) error {
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"reset_password_token_hash" = ?,
			"reset_password_expires" = ?,
			"updated_at" = CURRENT_TIMESTAMP
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, digest, expires, id).Exec(ctx)

	return err
}

func (a *users) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.UpdatePasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) UpdatePasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, updateUserPasswordSQL, passwordHash, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.EnsureRole()
	record.EnsureStatus()
	record.Email = NormalizeEmail(record.Email)

	if record.ID == uuid.Nil {
		if id, err := hashid.NewUUID(record.Email); err == nil {
			record.ID = id
		} else {
			record.ID = uuid.New()
		}
	}
}
