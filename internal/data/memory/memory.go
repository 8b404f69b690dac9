// Package memory implements data.Store in process memory. Every table declares its
// columns, and selecting or writing an undeclared column fails with the same error
// Postgres reports, so the column fallbacks can be exercised without a database.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eremconecta/portal/internal/data"
)

type table struct {
	columns map[string]bool
	rows    []map[string]any
}

type injected struct {
	err   error
	times int
}

// Store is an in-memory data.Store. The zero value is not usable; call New.
type Store struct {
	mu       sync.RWMutex
	tables   map[string]*table
	failures map[string]*injected
	selects  map[string]int
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tables:   make(map[string]*table),
		failures: make(map[string]*injected),
		selects:  make(map[string]int),
		now:      time.Now,
	}
}

// DefineTable declares table with columns. Redefining a table keeps its rows but
// replaces its columns, which is how tests drop a column.
func (s *Store) DefineTable(name string, columns ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &table{}
		s.tables[name] = t
	}
	t.columns = make(map[string]bool, len(columns))
	for _, c := range columns {
		t.columns[c] = true
	}
}

// Seed upserts rows into table.
func (s *Store) Seed(name string, rows ...any) error {
	for _, r := range rows {
		if err := s.Upsert(context.Background(), name, r); err != nil {
			return err
		}
	}
	return nil
}

// FailSelects makes the next n selects on table return err.
func (s *Store) FailSelects(name string, err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = &injected{err: err, times: n}
}

// Selects reports how many selects ran against table.
func (s *Store) Selects(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selects[name]
}

func (s *Store) Select(ctx context.Context, q data.Query, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.selects[q.Table]++
	if f := s.failures[q.Table]; f != nil && f.times > 0 {
		f.times--
		s.mu.Unlock()
		return f.err
	}
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(q.Table)
	if err != nil {
		return err
	}
	if err := s.checkProjection(q.Table, q.Columns); err != nil {
		return err
	}
	for _, f := range q.Filters {
		if !t.columns[f.Column] {
			return data.MissingColumn(q.Table, f.Column)
		}
	}
	for _, o := range q.Order {
		if !t.columns[o.Column] {
			return data.MissingColumn(q.Table, o.Column)
		}
	}

	var matched []map[string]any
	for _, row := range t.rows {
		ok, err := matches(row, q.Filters)
		if err != nil {
			return err
		}
		if ok {
			matched = append(matched, row)
		}
	}
	sortRows(matched, q.Order)
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]map[string]any, 0, len(matched))
	for _, row := range matched {
		out = append(out, s.project(row, q.Columns))
	}

	var payload any = out
	if q.Single {
		switch len(out) {
		case 0:
			return data.ErrNoRows
		case 1:
			payload = out[0]
		default:
			return data.ErrMultipleRows
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, name string, row any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	values, err := normalize(row)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return err
	}
	for col := range values {
		if !t.columns[col] {
			return data.MissingColumn(name, col)
		}
	}
	if _, ok := values["id"]; !ok && t.columns["id"] {
		values["id"] = uuid.NewString()
	}
	for _, existing := range t.rows {
		if existing["id"] != nil && reflect.DeepEqual(existing["id"], values["id"]) {
			for k, v := range values {
				existing[k] = v
			}
			return nil
		}
	}
	if _, ok := values["created_at"]; !ok && t.columns["created_at"] {
		values["created_at"] = s.now().UTC().Format(time.RFC3339Nano)
	}
	t.rows = append(t.rows, values)
	return nil
}

func (s *Store) Update(ctx context.Context, name string, patch map[string]any, filters ...data.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	values, err := normalize(patch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return err
	}
	for col := range values {
		if !t.columns[col] {
			return data.MissingColumn(name, col)
		}
	}
	for _, row := range t.rows {
		ok, err := matches(row, filters)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for k, v := range values {
			row[k] = v
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string, filters ...data.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return err
	}
	kept := t.rows[:0]
	for _, row := range t.rows {
		ok, err := matches(row, filters)
		if err != nil {
			return err
		}
		if !ok {
			kept = append(kept, row)
		}
	}
	t.rows = kept
	return nil
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, &data.Error{Code: "42P01", Message: fmt.Sprintf("relation %q does not exist", name)}
	}
	return t, nil
}

func (s *Store) checkProjection(name string, cols []data.Column) error {
	t, err := s.table(name)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if c.Embed == nil {
			if !t.columns[c.Name] {
				return data.MissingColumn(name, c.Name)
			}
			continue
		}
		if !t.columns[c.Embed.ForeignKey] {
			return data.MissingColumn(name, c.Embed.ForeignKey)
		}
		if err := s.checkProjection(c.Embed.Table, c.Embed.Columns); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) project(row map[string]any, cols []data.Column) map[string]any {
	out := make(map[string]any, len(cols))
	for _, c := range cols {
		if c.Embed == nil {
			out[c.Name] = row[c.Name]
			continue
		}
		out[c.Embed.Alias] = nil
		ref := row[c.Embed.ForeignKey]
		if ref == nil {
			continue
		}
		for _, related := range s.tables[c.Embed.Table].rows {
			if reflect.DeepEqual(related["id"], ref) {
				out[c.Embed.Alias] = s.project(related, c.Embed.Columns)
				break
			}
		}
	}
	return out
}

func matches(row map[string]any, filters []data.Filter) (bool, error) {
	for _, f := range filters {
		got := row[f.Column]
		switch f.Op {
		case data.OpEq, data.OpNeq:
			want, err := normalizeValue(f.Value)
			if err != nil {
				return false, err
			}
			equal := got != nil && reflect.DeepEqual(got, want)
			if (f.Op == data.OpEq) != equal {
				return false, nil
			}
		case data.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return false, fmt.Errorf("filter %s: in expects []string, got %T", f.Column, f.Value)
			}
			found := false
			for _, v := range values {
				if got != nil && fmt.Sprint(got) == v {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		case data.OpIs:
			if f.Value != nil {
				return false, fmt.Errorf("filter %s: is only supports null", f.Column)
			}
			if got != nil {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
	}
	return true, nil
}

// sortRows orders rows in place. Nulls sort last regardless of direction.
func sortRows(rows []map[string]any, order []data.Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			a, b := rows[i][o.Column], rows[j][o.Column]
			switch {
			case a == nil && b == nil:
				continue
			case a == nil:
				return false
			case b == nil:
				return true
			}
			c := compare(a, b)
			if c == 0 {
				continue
			}
			if o.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compare(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok && av != bv {
			if !av {
				return -1
			}
			return 1
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

// normalize converts a struct or map into the JSON value shapes rows are stored as.
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

func normalizeValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode filter value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
