package database

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectDuckDB   Dialect = "duckdb"
	DialectPostgres Dialect = "postgres"
)

var ErrUnknownFormat = errors.New("unrecognized database file format")

var (
	sqliteMagic = []byte("SQLite format 3\x00")
	duckdbMagic = []byte("DUCK")
)

// Source identifies one database a submission runs against.
// For file dialects DSN is a filesystem path. Err is set when the database
// could not be staged; such a source is reported, never opened.
type Source struct {
	Name    string
	Dialect Dialect
	DSN     string
	Err     error
}

// FailedSource records a database that could not be staged under the name
// the caller submitted it as.
func FailedSource(name string, err error) Source {
	return Source{Name: name, Err: err}
}

func (s Source) String() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Dialect == DialectPostgres {
		return "postgres"
	}
	return filepath.Base(s.DSN)
}

func ParseDialect(raw string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(raw))) {
	case DialectSQLite, "sqlite3":
		return DialectSQLite, nil
	case DialectDuckDB:
		return DialectDuckDB, nil
	case DialectPostgres, "postgresql":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", raw)
	}
}

// DetectDialect inspects the file header, falling back to the extension for
// empty files.
func DetectDialect(path string) (Dialect, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open database file: %w", err)
	}
	defer func() { _ = file.Close() }()

	header := make([]byte, 16)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read database header: %w", err)
	}
	if dialect, ok := dialectFromHeader(header[:n]); ok {
		return dialect, nil
	}
	if n == 0 {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".db", ".sqlite", ".sqlite3":
			return DialectSQLite, nil
		case ".duckdb":
			return DialectDuckDB, nil
		}
	}
	return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrUnknownFormat)
}

func dialectFromHeader(header []byte) (Dialect, bool) {
	if bytes.HasPrefix(header, sqliteMagic) {
		return DialectSQLite, true
	}
	if len(header) >= 12 && bytes.Equal(header[8:12], duckdbMagic) {
		return DialectDuckDB, true
	}
	return "", false
}

// LocalSource references a database file in place without copying it.
func LocalSource(path string) (Source, error) {
	if strings.TrimSpace(path) == "" {
		err := fmt.Errorf("database path is required")
		return FailedSource(path, err), err
	}
	dialect, err := DetectDialect(path)
	if err != nil {
		return FailedSource(filepath.Base(path), err), err
	}
	return Source{Name: filepath.Base(path), Dialect: dialect, DSN: path}, nil
}

func PostgresSource(name, dsn string) (Source, error) {
	if strings.TrimSpace(dsn) == "" {
		return Source{}, fmt.Errorf("postgres dsn is required")
	}
	return Source{Name: name, Dialect: DialectPostgres, DSN: strings.TrimSpace(dsn)}, nil
}
