package main

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filename format: 001_reference_tables.up.sql / 001_reference_tables.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-z0-9_]+)\.(up|down)\.sql$`)

var (
	// ErrNoMigrations is returned when the migration set holds no migration files.
	ErrNoMigrations = errors.New("no migration files found")

	// ErrUnpairedMigration is returned when an up migration has no down migration or vice versa.
	ErrUnpairedMigration = errors.New("unpaired migration")

	// ErrSequenceGap is returned when migration sequence numbers do not run 001, 002, ... without gaps.
	ErrSequenceGap = errors.New("gap in migration sequence")
)

type (
	// MigrationSet is a directory of versioned up/down SQL migrations.
	MigrationSet struct {
		fs fs.FS
	}

	// Migration is one parsed migration file.
	Migration struct {
		Sequence  int
		Name      string
		Direction string
		Filename  string
	}
)

// NewMigrationSet returns the migrations in filesystem, or the embedded ones when filesystem is nil.
func NewMigrationSet(filesystem fs.FS) *MigrationSet {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &MigrationSet{fs: filesystem}
}

// FS returns the underlying filesystem for the golang-migrate iofs source.
func (s *MigrationSet) FS() fs.FS {
	return s.fs
}

// List returns the parsed migration files sorted by sequence, up before down.
// Files that do not follow the naming format are ignored.
func (s *MigrationSet) List() ([]Migration, error) {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	migrations := make([]Migration, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if m, ok := parseMigrationFilename(entry.Name()); ok {
			migrations = append(migrations, m)
		}
	}

	sort.Slice(migrations, func(i, j int) bool {
		if migrations[i].Sequence != migrations[j].Sequence {
			return migrations[i].Sequence < migrations[j].Sequence
		}

		// "up" sorts after "down" lexically; keep up first.
		return migrations[i].Direction == "up" && migrations[j].Direction == "down"
	})

	return migrations, nil
}

// Validate checks that every migration is readable and paired, and that sequences start at 001 without gaps.
func (s *MigrationSet) Validate() error {
	migrations, err := s.List()
	if err != nil {
		return err
	}

	if len(migrations) == 0 {
		return ErrNoMigrations
	}

	directions := make(map[int]map[string]string)

	for _, m := range migrations {
		if _, err := fs.ReadFile(s.fs, m.Filename); err != nil {
			return fmt.Errorf("failed to read migration %s: %w", m.Filename, err)
		}

		if directions[m.Sequence] == nil {
			directions[m.Sequence] = make(map[string]string, 2)
		}

		if other, ok := directions[m.Sequence][m.Direction]; ok {
			return fmt.Errorf("%w: %s and %s share sequence %03d", ErrUnpairedMigration, other, m.Filename, m.Sequence)
		}

		directions[m.Sequence][m.Direction] = m.Filename
	}

	for seq := 1; seq <= len(directions); seq++ {
		pair, ok := directions[seq]
		if !ok {
			return fmt.Errorf("%w: expected %03d", ErrSequenceGap, seq)
		}

		if _, ok := pair["up"]; !ok {
			return fmt.Errorf("%w: %s has no up migration", ErrUnpairedMigration, pair["down"])
		}

		if _, ok := pair["down"]; !ok {
			return fmt.Errorf("%w: %s has no down migration", ErrUnpairedMigration, pair["up"])
		}
	}

	return nil
}

// Latest returns the highest migration sequence, or 0 when there are none.
func (s *MigrationSet) Latest() int {
	migrations, err := s.List()
	if err != nil || len(migrations) == 0 {
		return 0
	}

	return migrations[len(migrations)-1].Sequence
}

func parseMigrationFilename(filename string) (Migration, bool) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if matches == nil {
		return Migration{}, false
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return Migration{}, false
	}

	return Migration{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, true
}
