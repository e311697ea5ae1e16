package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/vbonduro/homewiz/internal/domain"
	"github.com/vbonduro/homewiz/internal/media"
	"modernc.org/sqlite"
)

// sqliteConstraint is the primary result code SQLITE_CONSTRAINT.
const sqliteConstraint = 19

var writableColumns = map[domain.EntityKind]map[string]bool{
	domain.KindBuilding: {
		"building_name": true, "full_address": true, "operator_id": true,
		"street": true, "area": true, "city": true, "state": true, "zip": true,
		"floors": true, "total_rooms": true, "total_bathrooms": true,
		"wifi_included": true, "laundry_onsite": true, "building_images": true,
	},
	domain.KindRoom: {
		"room_number": true, "building_id": true, "floor_number": true,
		"maximum_people_in_room": true, "private_room_rent": true,
		"bathroom_type": true, "bed_size": true, "bed_type": true, "view": true,
		"sq_footage": true, "status": true, "room_images": true,
	},
}

// Writable reports whether column may be set on records of kind.
func Writable(kind domain.EntityKind, column string) bool {
	return writableColumns[kind][column]
}

// EntityStore performs kind-generic writes on building and room records.
type EntityStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewEntityStore(db *sqlx.DB) *EntityStore {
	return &EntityStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Create inserts a record and returns its server-assigned canonical identifier.
func (s *EntityStore) Create(ctx context.Context, kind domain.EntityKind, fields domain.Fields) (string, error) {
	op := "create " + string(kind)
	cols, args, err := columnValues(kind, fields)
	if err != nil {
		return "", domain.NewStoreError(op, domain.ReasonInvalid, err)
	}
	if !containsColumn(cols, kind.MediaField()) {
		cols = append(cols, kind.MediaField())
		args = append(args, media.Encode(nil))
	}

	id := kind.IDPrefix() + uuid.NewString()
	cols = append([]string{kind.IDColumn()}, cols...)
	args = append([]any{id}, args...)

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		kind.Table(), quoteColumns(cols), placeholders(len(cols)))
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return "", classify(op, err)
	}
	return id, nil
}

// Update sets the given columns on an existing record. An empty field set
// only checks that the record exists.
func (s *EntityStore) Update(ctx context.Context, kind domain.EntityKind, id string, fields domain.Fields) error {
	op := "update " + string(kind)
	cols, args, err := columnValues(kind, fields)
	if err != nil {
		return domain.NewStoreError(op, domain.ReasonInvalid, err)
	}
	if len(cols) == 0 {
		exists, err := s.Exists(ctx, kind, id)
		if err != nil {
			return err
		}
		if !exists {
			return domain.NewStoreError(op, domain.ReasonNotFound, fmt.Errorf("%s %s", kind, id))
		}
		return nil
	}

	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		sets = append(sets, quote(c)+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now(), id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", kind.Table(), strings.Join(sets, ", "), kind.IDColumn())
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return classify(op, err)
	}
	return expectRow(op, result, kind, id)
}

func (s *EntityStore) Delete(ctx context.Context, kind domain.EntityKind, id string) error {
	op := "delete " + string(kind)
	if !kind.Valid() {
		return domain.NewStoreError(op, domain.ReasonInvalid, fmt.Errorf("unknown kind %q", kind))
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", kind.Table(), kind.IDColumn())
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), id)
	if err != nil {
		return classify(op, err)
	}
	return expectRow(op, result, kind, id)
}

func (s *EntityStore) Exists(ctx context.Context, kind domain.EntityKind, id string) (bool, error) {
	if !kind.Valid() {
		return false, domain.NewStoreError("find "+string(kind), domain.ReasonInvalid, fmt.Errorf("unknown kind %q", kind))
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", kind.Table(), kind.IDColumn())
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), id); err != nil {
		return false, classify("find "+string(kind), err)
	}
	return n > 0, nil
}

// MediaReferences returns the record's normalized media field.
func (s *EntityStore) MediaReferences(ctx context.Context, kind domain.EntityKind, id string) ([]string, error) {
	op := "read " + kind.MediaField()
	if !kind.Valid() {
		return nil, domain.NewStoreError(op, domain.ReasonInvalid, fmt.Errorf("unknown kind %q", kind))
	}
	var raw sql.NullString
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", kind.MediaField(), kind.Table(), kind.IDColumn())
	if err := s.db.GetContext(ctx, &raw, s.db.Rebind(query), id); err != nil {
		return nil, classify(op, err)
	}
	if !raw.Valid {
		return media.Normalize(media.Absent()), nil
	}
	return media.Normalize(media.Text(raw.String)), nil
}

// columnValues validates fields against the kind's allowlist and returns the
// columns in a stable order with driver-ready values.
func columnValues(kind domain.EntityKind, fields domain.Fields) ([]string, []any, error) {
	allowed, ok := writableColumns[kind]
	if !ok {
		return nil, nil, fmt.Errorf("unknown kind %q", kind)
	}
	cols := make([]string, 0, len(fields))
	for c := range fields {
		if !allowed[c] {
			return nil, nil, fmt.Errorf("column %q is not writable on %s", c, kind.Table())
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(cols))
	for _, c := range cols {
		v := fields[c]
		if c == kind.MediaField() {
			args = append(args, media.Encode(media.NormalizeValue(v)))
			continue
		}
		arg, err := toArg(v)
		if err != nil {
			return nil, nil, fmt.Errorf("column %q: %w", c, err)
		}
		args = append(args, arg)
	}
	return cols, args, nil
}

func toArg(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case float64:
		if t == float64(int64(t)) {
			return int64(t), nil
		}
		return t, nil
	case map[string]any, []any:
		return nil, errors.New("nested values are not supported")
	default:
		return t, nil
	}
}

func classify(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewStoreError(op, domain.ReasonNotFound, err)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code()&0xff == sqliteConstraint {
		return domain.NewStoreError(op, domain.ReasonConstraint, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return domain.NewStoreError(op, domain.ReasonConstraint, err)
	}
	return domain.NewStoreError(op, domain.ReasonBackend, err)
}

func expectRow(op string, result sql.Result, kind domain.EntityKind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return domain.NewStoreError(op, domain.ReasonBackend, fmt.Errorf("failed to get rows affected: %w", err))
	}
	if n == 0 {
		return domain.NewStoreError(op, domain.ReasonNotFound, fmt.Errorf("%s %s", kind, id))
	}
	return nil
}

func quote(col string) string {
	return `"` + col + `"`
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func containsColumn(cols []string, col string) bool {
	for _, c := range cols {
		if c == col {
			return true
		}
	}
	return false
}
