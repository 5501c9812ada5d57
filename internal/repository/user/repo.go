package user

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/health-notifier/internal/model"
)

// Repository reads recipients from the users table.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new user repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// GetByIDs returns the users with the given IDs. Unknown IDs are skipped.
func (r *Repository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, name, mobile_number, language_preference
		FROM users
		WHERE id = ANY($1::uuid[]);
    `

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	rows, err := r.db.QueryContext(ctx, query, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var (
			u            model.User
			mobile, lang sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Name, &mobile, &lang); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}

		u.MobileNumber = mobile.String
		u.LanguagePreference = lang.String
		if u.LanguagePreference == "" {
			u.LanguagePreference = model.DefaultLanguage
		}

		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}

	return users, nil
}
