package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresStore is a PostgreSQL implementation of Store.
// Fields are kept in a JSONB column using the typed Value envelope.
type PostgresStore struct {
	pool      *pgxpool.Pool
	publisher Publisher
	logger    zerolog.Logger
}

// PostgresStoreConfig holds configuration for PostgresStore.
type PostgresStoreConfig struct {
	Pool      *pgxpool.Pool
	Publisher Publisher
	Logger    zerolog.Logger
}

// NewPostgresStore creates a new PostgreSQL record store.
func NewPostgresStore(cfg PostgresStoreConfig) *PostgresStore {
	return &PostgresStore{
		pool:      cfg.Pool,
		publisher: cfg.Publisher,
		logger:    cfg.Logger.With().Str("component", "postgres_store").Logger(),
	}
}

// Save creates or replaces a record.
func (s *PostgresStore) Save(ctx context.Context, r *Record) error {
	fieldsJSON, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	query := `
		INSERT INTO records (record_type, record_id, fields, created_at, modified_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (record_type, record_id) DO UPDATE SET
			fields = EXCLUDED.fields,
			modified_at = EXCLUDED.modified_at
		RETURNING created_at, modified_at, (xmax = 0) AS inserted
	`

	var inserted bool
	err = s.pool.QueryRow(ctx, query, r.Type, r.ID, fieldsJSON).Scan(
		&r.CreatedAt,
		&r.ModifiedAt,
		&inserted,
	)
	if err != nil {
		return err
	}

	subs, err := s.subscriptionsFor(ctx, r.Type)
	if err != nil {
		// The record is durable; a missed wake-up is recovered by polling.
		s.logger.Warn().Err(err).Str("record_type", r.Type).Msg("failed to load subscriptions")
		return nil
	}

	var matched []Subscription
	for _, sub := range subs {
		if sub.Matches(r) {
			matched = append(matched, sub)
		}
	}

	reason := ReasonUpdated
	if inserted {
		reason = ReasonCreated
	}
	publishMatches(ctx, s.publisher, s.logger, matched, r, reason)
	return nil
}

// Fetch retrieves a record by type and id.
func (s *PostgresStore) Fetch(ctx context.Context, recordType, id string) (*Record, error) {
	query := `
		SELECT record_type, record_id, fields, created_at, modified_at
		FROM records
		WHERE record_type = $1 AND record_id = $2
	`

	r, err := scanRecord(s.pool.QueryRow(ctx, query, recordType, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

// Delete removes a record.
func (s *PostgresStore) Delete(ctx context.Context, recordType, id string) error {
	query := `DELETE FROM records WHERE record_type = $1 AND record_id = $2`

	result, err := s.pool.Exec(ctx, query, recordType, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Query returns the records matching q.
func (s *PostgresStore) Query(ctx context.Context, q Query) ([]*Record, error) {
	sql, args, err := buildQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// SaveSubscription registers a push subscription.
func (s *PostgresStore) SaveSubscription(ctx context.Context, sub Subscription) error {
	predicates, err := json.Marshal(sub.Predicates)
	if err != nil {
		return fmt.Errorf("encode predicates: %w", err)
	}

	query := `
		INSERT INTO record_subscriptions (subscription_id, record_type, device_id, predicates, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (subscription_id) DO NOTHING
	`

	result, err := s.pool.Exec(ctx, query, sub.ID, sub.RecordType, sub.DeviceID, predicates)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrDuplicateSubscription
	}
	return nil
}

// DeleteSubscription removes a push subscription.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, id string) error {
	query := `DELETE FROM record_subscriptions WHERE subscription_id = $1`

	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) subscriptionsFor(ctx context.Context, recordType string) ([]Subscription, error) {
	query := `
		SELECT subscription_id, record_type, device_id, predicates
		FROM record_subscriptions
		WHERE record_type = $1
	`

	rows, err := s.pool.Query(ctx, query, recordType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var (
			sub        Subscription
			predicates []byte
		)
		if err := rows.Scan(&sub.ID, &sub.RecordType, &sub.DeviceID, &predicates); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(predicates, &sub.Predicates); err != nil {
			return nil, fmt.Errorf("decode predicates for %s: %w", sub.ID, err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r          Record
		fieldsJSON []byte
	)
	if err := row.Scan(&r.Type, &r.ID, &fieldsJSON, &r.CreatedAt, &r.ModifiedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fieldsJSON, &r.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s/%s: %w", r.Type, r.ID, err)
	}
	return &r, nil
}

// buildQuery compiles a Query to SQL. Field names are bound as parameters.
func buildQuery(q Query) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString("SELECT record_type, record_id, fields, created_at, modified_at FROM records WHERE record_type = ")
	sb.WriteString(arg(q.Type))

	for _, p := range q.Predicates {
		field := arg(p.Field)
		switch p.Op {
		case OpContains:
			if p.Value.kind != KindString {
				return "", nil, fmt.Errorf("contains predicate on %q needs a string value", p.Field)
			}
			fmt.Fprintf(&sb, " AND fields->%s->'v' @> jsonb_build_array(%s::text)", field, arg(p.Value.s))
			continue
		case OpEq, OpLt, OpGt:
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", p.Op)
		}

		op := map[Op]string{OpEq: "=", OpLt: "<", OpGt: ">"}[p.Op]
		lhs := fmt.Sprintf("fields->%s->>'v'", field)
		var rhs string
		switch p.Value.kind {
		case KindString, KindTime:
			rhs = arg(p.Value.text())
		case KindInt:
			lhs = "(" + lhs + ")::bigint"
			rhs = arg(p.Value.i)
		case KindBool:
			lhs = "(" + lhs + ")::boolean"
			rhs = arg(p.Value.b)
		default:
			return "", nil, fmt.Errorf("unsupported value kind %s for %q", p.Value.kind, p.Field)
		}
		fmt.Fprintf(&sb, " AND %s %s %s", lhs, op, rhs)
	}

	sb.WriteString(" ORDER BY ")
	if q.SortField != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, "fields->%s->>'v' %s NULLS LAST, ", arg(q.SortField), dir)
	}
	sb.WriteString("record_id")

	if q.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(arg(q.Limit))
	}
	return sb.String(), args, nil
}

// Ensure PostgresStore implements Store interface.
var _ Store = (*PostgresStore)(nil)
