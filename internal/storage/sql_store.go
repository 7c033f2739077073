package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/healthdash-io/healthdash/internal/config"
	"github.com/healthdash-io/healthdash/internal/ingestion"
)

// sqliteTimeLayout is fixed width so stored timestamps order correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

//go:embed schema_sqlite.sql
var sqliteSchema string

var (
	// ErrSchemaUnsupported is returned by EnsureSchema for backends managed by migrations.
	ErrSchemaUnsupported = errors.New("schema is managed by migrations for this backend")
)

// dimensionTable maps a reference dimension to its table and natural-key columns.
// Empty column names mean the dimension does not use that part of the key.
type dimensionTable struct {
	name         string
	codeColumn   string
	parentColumn string
	topicColumn  string
}

var dimensionTables = map[ingestion.Dimension]dimensionTable{ //nolint:gochecknoglobals
	ingestion.DimensionTheme:         {name: "theme"},
	ingestion.DimensionSubTheme:      {name: "sub_theme", parentColumn: "theme_id"},
	ingestion.DimensionTopic:         {name: "topic", parentColumn: "sub_theme_id"},
	ingestion.DimensionGeographyType: {name: "geography_type"},
	ingestion.DimensionGeography:     {name: "geography", codeColumn: "geography_code", parentColumn: "geography_type_id"},
	ingestion.DimensionMetricGroup:   {name: "metric_group", parentColumn: "topic_id"},
	ingestion.DimensionMetric:        {name: "metric", parentColumn: "metric_group_id", topicColumn: "topic_id"},
	ingestion.DimensionStratum:       {name: "stratum"},
	ingestion.DimensionAge:           {name: "age"},
}

// columns returns the natural-key columns and their values for key.
func (t dimensionTable) columns(key ingestion.NaturalKey) ([]string, []any) {
	cols := []string{"name"}
	vals := []any{key.Name}

	if t.codeColumn != "" {
		cols = append(cols, t.codeColumn)
		vals = append(vals, key.Code)
	}

	if t.parentColumn != "" {
		cols = append(cols, t.parentColumn)
		vals = append(vals, key.ParentID)
	}

	if t.topicColumn != "" {
		cols = append(cols, t.topicColumn)
		vals = append(vals, key.TopicID)
	}

	return cols, vals
}

func (t dimensionTable) where(key ingestion.NaturalKey) squirrel.Eq {
	cols, vals := t.columns(key)

	eq := make(squirrel.Eq, len(cols))
	for i, col := range cols {
		eq[col] = vals[i]
	}

	return eq
}

// SQLDimensionStore implements ingestion.DimensionStore for one reference table.
type SQLDimensionStore struct {
	conn   *Connection
	table  dimensionTable
	dim    ingestion.Dimension
	logger *slog.Logger
}

// NewSQLDimensionStore creates the store for reference dimension d.
func NewSQLDimensionStore(conn *Connection, d ingestion.Dimension) (*SQLDimensionStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	table, ok := dimensionTables[d]
	if !ok {
		return nil, fmt.Errorf("%w: unknown dimension %q", ingestion.ErrIncompleteRegistry, d)
	}

	return &SQLDimensionStore{
		conn:  conn,
		table: table,
		dim:   d,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// GetOrCreate returns the id of the row with key, inserting it when absent.
//
// The insert is conflict-ignoring. When it loses a race to a concurrent writer the
// row is selected again; if that writer has not committed yet, ErrConcurrentInsert
// is returned for the caller to retry.
func (s *SQLDimensionStore) GetOrCreate(ctx context.Context, key ingestion.NaturalKey) (int64, bool, error) {
	id, err := s.selectID(ctx, key)
	if err == nil {
		return id, false, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, wrapStoreErr(err)
	}

	cols, vals := s.table.columns(key)

	query, args, err := s.conn.builder().
		Insert(s.table.name).
		Columns(cols...).
		Values(vals...).
		Suffix("ON CONFLICT DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("failed to build %s insert: %w", s.table.name, err)
	}

	err = s.conn.QueryRowContext(ctx, query, args...).Scan(&id)

	switch {
	case err == nil:
		s.logger.Debug("Inserted reference row",
			slog.String("table", s.table.name),
			slog.String("name", key.Name),
			slog.Int64("id", id))

		return id, true, nil
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		// Another writer inserted the key between our select and insert.
	default:
		return 0, false, wrapStoreErr(err)
	}

	id, err = s.selectID(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("%w: %s %q", ingestion.ErrConcurrentInsert, s.table.name, key.Name)
	}

	if err != nil {
		return 0, false, wrapStoreErr(err)
	}

	return id, false, nil
}

// FindByID returns the natural key of the row with id, or ingestion.ErrNotFound.
func (s *SQLDimensionStore) FindByID(ctx context.Context, id int64) (ingestion.NaturalKey, error) {
	var (
		key  ingestion.NaturalKey
		cols = []string{"name"}
		dest = []any{&key.Name}
	)

	if s.table.codeColumn != "" {
		cols = append(cols, s.table.codeColumn)
		dest = append(dest, &key.Code)
	}

	if s.table.parentColumn != "" {
		cols = append(cols, s.table.parentColumn)
		dest = append(dest, &key.ParentID)
	}

	if s.table.topicColumn != "" {
		cols = append(cols, s.table.topicColumn)
		dest = append(dest, &key.TopicID)
	}

	query, args, err := s.conn.builder().
		Select(cols...).
		From(s.table.name).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return ingestion.NaturalKey{}, fmt.Errorf("failed to build %s lookup: %w", s.table.name, err)
	}

	err = s.conn.QueryRowContext(ctx, query, args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ingestion.NaturalKey{}, fmt.Errorf("%w: %s #%d", ingestion.ErrNotFound, s.table.name, id)
	}

	if err != nil {
		return ingestion.NaturalKey{}, wrapStoreErr(err)
	}

	return key, nil
}

func (s *SQLDimensionStore) selectID(ctx context.Context, key ingestion.NaturalKey) (int64, error) {
	query, args, err := s.conn.builder().
		Select("id").
		From(s.table.name).
		Where(s.table.where(key)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build %s select: %w", s.table.name, err)
	}

	var id int64
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

// NewSQLRegistry returns an ingestion registry backed by conn.
func NewSQLRegistry(conn *Connection) (*ingestion.Registry, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	stores := make(map[ingestion.Dimension]ingestion.DimensionStore, len(dimensionTables))

	for _, d := range ingestion.Dimensions() {
		store, err := NewSQLDimensionStore(conn, d)
		if err != nil {
			return nil, err
		}

		stores[d] = store
	}

	registry := &ingestion.Registry{
		Themes:         stores[ingestion.DimensionTheme],
		SubThemes:      stores[ingestion.DimensionSubTheme],
		Topics:         stores[ingestion.DimensionTopic],
		GeographyTypes: stores[ingestion.DimensionGeographyType],
		Geographies:    stores[ingestion.DimensionGeography],
		MetricGroups:   stores[ingestion.DimensionMetricGroup],
		Metrics:        stores[ingestion.DimensionMetric],
		Strata:         stores[ingestion.DimensionStratum],
		Ages:           stores[ingestion.DimensionAge],
		Headlines:      newHeadlineStore(conn),
		TimeSeries:     newTimeSeriesStore(conn),
		APITimeSeries:  newAPITimeSeriesStore(conn),
	}

	return registry, registry.Validate()
}

// EnsureSchema creates the SQLite tables when they do not exist. PostgreSQL schemas
// are owned by the migrations binary and return ErrSchemaUnsupported.
func EnsureSchema(ctx context.Context, conn *Connection) error {
	if conn == nil {
		return ErrNoDatabaseConnection
	}

	if conn.Kind() != KindSQLite {
		return fmt.Errorf("%w: %s", ErrSchemaUnsupported, conn.Kind())
	}

	for _, stmt := range strings.Split(sqliteSchema, ";") {
		if strings.TrimSpace(stripSQLComments(stmt)) == "" {
			continue
		}

		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
	}

	return nil
}

func stripSQLComments(stmt string) string {
	lines := strings.Split(stmt, "\n")
	kept := lines[:0]

	for _, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "--") {
			kept = append(kept, line)
		}
	}

	return strings.Join(kept, "\n")
}

// wrapStoreErr marks connection failures with ingestion.ErrStoreUnavailable.
func wrapStoreErr(err error) error {
	if isDatabaseConnectionError(err) {
		return fmt.Errorf("%w: %w", ingestion.ErrStoreUnavailable, err)
	}

	return err
}

// timeValue returns t in the representation the backend stores.
func (c *Connection) timeValue(t time.Time) any {
	if c.kind == KindSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}

	return t.UTC()
}

func (c *Connection) nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return c.timeValue(*t)
}
