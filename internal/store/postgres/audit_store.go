package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solwatch/tokenbot/internal/domain"
)

// AuditStore appends lifecycle events to the audit_log table.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one audit entry. Detail is stored as JSONB and may be nil.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	var payload []byte
	if detail != nil {
		var err error
		payload, err = json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("postgres: marshal audit detail: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, payload)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries, newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query := `SELECT id, event, detail, created_at FROM audit_log ORDER BY created_at DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Event, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: audit rows: %w", err)
	}
	return entries, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
