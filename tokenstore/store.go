package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubcast/clubcast-go/fanout"
)

// querier is the slice of pgxpool.Pool the store reads through.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads device tokens from the device_tokens table. Rows associate a
// token with a user and optionally with the user's team and province; a user
// without a row simply has no registered device. The store is read-only and
// safe for concurrent use; pgxpool handles connection sharing.
type Store struct {
	db querier
}

var _ fanout.TokenLookup = (*Store)(nil)

// New creates a token store over a pgx connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// GetUserToken returns the most recently registered token for one user, or
// "" when the user has no device.
func (s *Store) GetUserToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := s.db.QueryRow(ctx,
		`SELECT token FROM device_tokens
		 WHERE user_id = $1
		 ORDER BY registered_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query token for user %s: %w", userID, err)
	}
	return token, nil
}

// GetTeamPlayerTokens returns the tokens of every player on a team.
func (s *Store) GetTeamPlayerTokens(ctx context.Context, teamID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT token FROM device_tokens WHERE team_id = $1`,
		teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens for team %s: %w", teamID, err)
	}
	return collectTokens(rows)
}

// GetProvinceUserTokens returns the tokens of every user in a province.
func (s *Store) GetProvinceUserTokens(ctx context.Context, provinceID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT token FROM device_tokens WHERE province_id = $1`,
		provinceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens for province %s: %w", provinceID, err)
	}
	return collectTokens(rows)
}

// GetAllUserTokens returns every registered token.
func (s *Store) GetAllUserTokens(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT token FROM device_tokens`)
	if err != nil {
		return nil, fmt.Errorf("failed to query all tokens: %w", err)
	}
	return collectTokens(rows)
}

func collectTokens(rows pgx.Rows) ([]string, error) {
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens, rows.Err()
}
