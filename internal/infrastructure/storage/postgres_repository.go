package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"TradeScanner/internal/domain"
	"TradeScanner/internal/ports"
)

// PostgresRepository persists extracted trade actions for history and dedup.
type PostgresRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.ActionRepository = (*PostgresRepository)(nil)

// NewPostgresRepository wires a sql.DB implementation.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// AlreadyProcessed returns a map with action IDs that already exist in storage.
func (r *PostgresRepository) AlreadyProcessed(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool)
	if r.db == nil || len(ids) == 0 {
		return result, nil
	}

	query, args, err := r.sb.
		Select("id").
		From("trade_actions").
		Where(sq.Expr("id = ANY(?)", pq.Array(ids))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build processed query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query processed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return result, nil
}

// SaveActions upserts each trade action snapshot.
func (r *PostgresRepository) SaveActions(ctx context.Context, actions []domain.TradeAction) error {
	if r.db == nil {
		return nil
	}

	for _, action := range actions {
		query, args, err := r.sb.
			Insert("trade_actions").
			Columns(
				"id", "source_csms_id", "source_url", "title", "summary",
				"action_type", "countries_affected", "hs_codes",
				"effective_date", "expiration_date", "status",
				"federal_authority", "duty_rate", "raw_excerpt",
			).
			Values(
				action.ID, action.SourceEntryID, action.SourceURL, action.Title, action.Summary,
				action.ActionType, pq.Array(action.CountriesAffected), pq.Array(action.HSCodes),
				nullable(action.EffectiveDate), nullable(action.ExpirationDate), action.Status,
				nullable(action.FederalAuthority), nullable(action.DutyRate), action.RawExcerpt,
			).
			Suffix(`ON CONFLICT (id) DO UPDATE
                SET summary = EXCLUDED.summary,
                    action_type = EXCLUDED.action_type,
                    status = EXCLUDED.status,
                    updated_at = NOW()`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build upsert for %s: %w", action.ID, err)
		}

		if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert action %s: %w", action.ID, err)
		}
	}

	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
