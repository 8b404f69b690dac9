// Package postgres implements data.Store over a direct Postgres connection. Every select
// is rendered as a single statement that aggregates the projected rows into a JSON array,
// so embeds come back in the same shape the REST endpoint returns.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eremconecta/portal/internal/data"
)

const (
	MaxConns        = 10
	MinConns        = 1
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
)

// Querier is the subset of *pgxpool.Pool the store uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is a data.Store backed by Postgres.
type Store struct {
	db Querier
}

// New returns a store issuing statements through db.
func New(db Querier) *Store {
	return &Store{db: db}
}

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = MaxConns
	cfg.MinConns = MinConns
	cfg.MaxConnLifetime = MaxConnLifetime
	cfg.MaxConnIdleTime = MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	slog.Info("postgres pool ready", "max_conns", MaxConns)
	return pool, nil
}

func (s *Store) Select(ctx context.Context, q data.Query, dest any) error {
	sql, args, err := buildSelect(q)
	if err != nil {
		return err
	}
	var raw []byte
	if err := s.db.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		return convert(err)
	}
	if q.Single {
		var rows []json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			return fmt.Errorf("decode %s rows: %w", q.Table, err)
		}
		switch len(rows) {
		case 0:
			return data.ErrNoRows
		case 1:
			raw = rows[0]
		default:
			return data.ErrMultipleRows
		}
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s rows: %w", q.Table, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, table string, row any) error {
	values, err := normalize(row)
	if err != nil {
		return err
	}
	sql, args, err := buildUpsert(table, values)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return convert(err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, table string, patch map[string]any, filters ...data.Filter) error {
	sql, args, err := buildUpdate(table, patch, filters)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return convert(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table string, filters ...data.Filter) error {
	b := &builder{}
	where, err := b.where(table, filters)
	if err != nil {
		return err
	}
	sql := "DELETE FROM " + ident(table) + where
	if _, err := s.db.Exec(ctx, sql, b.args...); err != nil {
		return convert(err)
	}
	return nil
}

// builder accumulates positional arguments while a statement is rendered.
type builder struct {
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *builder) where(table string, filters []data.Filter) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	conds := make([]string, 0, len(filters))
	for _, f := range filters {
		col := ident(table, f.Column)
		switch f.Op {
		case data.OpEq:
			conds = append(conds, col+" = "+b.arg(f.Value))
		case data.OpNeq:
			conds = append(conds, col+" <> "+b.arg(f.Value))
		case data.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return "", fmt.Errorf("filter %s: in expects []string, got %T", f.Column, f.Value)
			}
			conds = append(conds, col+"::text = ANY("+b.arg(values)+")")
		case data.OpIs:
			if f.Value != nil {
				return "", fmt.Errorf("filter %s: is only supports null", f.Column)
			}
			conds = append(conds, col+" IS NULL")
		default:
			return "", fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), nil
}

// buildSelect renders
//
//	SELECT coalesce(json_agg(r), '[]'::json) FROM (SELECT ... FROM t WHERE ... ORDER BY ... LIMIT n) r
//
// The top-level table is not aliased so Postgres names it in undefined column errors.
func buildSelect(q data.Query) (string, []any, error) {
	if q.Table == "" {
		return "", nil, errors.New("query has no table")
	}
	b := &builder{}
	var sb strings.Builder
	sb.WriteString("SELECT coalesce(json_agg(r), '[]'::json) FROM (SELECT ")
	sb.WriteString(projection(q.Table, q.Columns))
	sb.WriteString(" FROM ")
	sb.WriteString(ident(q.Table))

	where, err := b.where(q.Table, q.Filters)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(where)

	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := " ASC NULLS LAST"
			if o.Descending {
				dir = " DESC NULLS LAST"
			}
			parts[i] = ident(q.Table, o.Column) + dir
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(b.arg(q.Limit))
	}
	sb.WriteString(") r")
	return sb.String(), b.args, nil
}

func projection(source string, cols []data.Column) string {
	if len(cols) == 0 {
		return ident(source) + ".*"
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		if c.Embed == nil {
			parts[i] = ident(source, c.Name)
			continue
		}
		parts[i] = "(" + embedSelect(source, c.Embed) + ") AS " + ident(c.Embed.Alias)
	}
	return strings.Join(parts, ", ")
}

// embedSelect renders a correlated sub-query building the related row as a JSON object.
func embedSelect(parent string, e *data.Embed) string {
	alias := e.Alias
	var obj string
	if len(e.Columns) == 0 {
		obj = "row_to_json(" + ident(alias) + ")"
	} else {
		pairs := make([]string, 0, 2*len(e.Columns))
		for _, c := range e.Columns {
			if c.Embed == nil {
				pairs = append(pairs, literal(c.Name), ident(alias, c.Name))
				continue
			}
			pairs = append(pairs, literal(c.Embed.Alias), "("+embedSelect(alias, c.Embed)+")")
		}
		obj = "json_build_object(" + strings.Join(pairs, ", ") + ")"
	}
	return "SELECT " + obj + " FROM " + ident(e.Table) + " AS " + ident(alias) +
		" WHERE " + ident(alias, "id") + " = " + ident(parent, e.ForeignKey)
}

// buildUpsert inserts through json_populate_record so column types come from the table
// and unknown columns fail the statement.
func buildUpsert(table string, values map[string]any) (string, []any, error) {
	cols := sortedKeys(values)
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("upsert %s: empty row", table)
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s row: %w", table, err)
	}
	b := &builder{}
	list := identList(cols)
	sql := "INSERT INTO " + ident(table) + " (" + list + ") SELECT " + list +
		" FROM json_populate_record(NULL::" + ident(table) + ", " + b.arg(string(raw)) + "::json)"

	if _, ok := values["id"]; ok {
		sets := make([]string, 0, len(cols))
		for _, c := range cols {
			if c == "id" {
				continue
			}
			sets = append(sets, ident(c)+" = EXCLUDED."+ident(c))
		}
		if len(sets) == 0 {
			sql += " ON CONFLICT (" + ident("id") + ") DO NOTHING"
		} else {
			sql += " ON CONFLICT (" + ident("id") + ") DO UPDATE SET " + strings.Join(sets, ", ")
		}
	}
	return sql, b.args, nil
}

func buildUpdate(table string, patch map[string]any, filters []data.Filter) (string, []any, error) {
	cols := sortedKeys(patch)
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("update %s: empty patch", table)
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s patch: %w", table, err)
	}
	b := &builder{}
	list := identList(cols)
	sql := "UPDATE " + ident(table) + " SET (" + list + ") = (SELECT " + list +
		" FROM json_populate_record(NULL::" + ident(table) + ", " + b.arg(string(raw)) + "::json))"
	where, err := b.where(table, filters)
	if err != nil {
		return "", nil, err
	}
	return sql + where, b.args, nil
}

func ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

func identList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = ident(c)
	}
	return strings.Join(out, ", ")
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalize(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("row must be a JSON object: %w", err)
	}
	return out, nil
}

// convert maps driver errors onto data.Error.
func convert(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &data.Error{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Details: pgErr.Detail,
			Hint:    pgErr.Hint,
		}
	}
	return err
}
