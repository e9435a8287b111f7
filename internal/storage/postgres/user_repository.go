package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const userColumns = `id, email, first_name, last_name, image_url, phone, address, stripe_customer_id, created_at, updated_at`

type userRepository struct {
	db *sql.DB
}

// NewUserRepository создаёт PostgreSQL-реализацию UserRepository.
func NewUserRepository(store *Store) domain.UserRepository {
	return &userRepository{db: store.DB()}
}

// Upsert обновляет только поля, пришедшие из провайдера идентификации.
func (r *userRepository) Upsert(identity domain.Identity) (domain.User, error) {
	if identity.UserID == "" {
		return domain.User{}, domain.ErrUserIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	user, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, first_name, last_name, image_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    first_name = EXCLUDED.first_name,
		    last_name = EXCLUDED.last_name,
		    image_url = EXCLUDED.image_url,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+userColumns,
		identity.UserID, identity.Email, identity.FirstName, identity.LastName, identity.ImageURL, now,
	))
	if err != nil {
		return domain.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (r *userRepository) Get(id string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

func (r *userRepository) Update(user domain.User) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2,
		    first_name = $3,
		    last_name = $4,
		    image_url = $5,
		    phone = $6,
		    address = $7,
		    stripe_customer_id = $8,
		    updated_at = $9
		WHERE id = $1
	`,
		user.ID, user.Email, user.FirstName, user.LastName, user.ImageURL,
		user.Phone, user.Address, user.StripeCustomerID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func scanUser(row rowScanner) (domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.ImageURL,
		&user.Phone, &user.Address, &user.StripeCustomerID, &user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}

var _ domain.UserRepository = (*userRepository)(nil)
