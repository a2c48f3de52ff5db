package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

var databaseExtensions = map[string]struct{}{
	".db":      {},
	".sqlite":  {},
	".sqlite3": {},
	".duckdb":  {},
}

// BuildDatabaseKey returns the object key under which a database file is
// published, e.g. hr/company.db.
func BuildDatabaseKey(namespace, filename string) (string, error) {
	if err := validatePathComponent(namespace, "namespace"); err != nil {
		return "", err
	}
	if err := validatePathComponent(filename, "file name"); err != nil {
		return "", err
	}
	if _, ok := databaseExtensions[strings.ToLower(path.Ext(filename))]; !ok {
		return "", fmt.Errorf("unsupported database file extension %q", path.Ext(filename))
	}
	return path.Join(namespace, filename), nil
}

// ValidateDatabaseKey checks a key supplied by a caller before it is fetched.
func ValidateDatabaseKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("object key is required")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if err := validatePathComponent(part, "object key component"); err != nil {
			return err
		}
	}
	return nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || strings.Contains(value, "..") {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
