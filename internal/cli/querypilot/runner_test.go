package querypilot

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/querypilot/querypilot/internal/nl2sql"
	"github.com/querypilot/querypilot/internal/storage"
)

type stubTranslator struct {
	sql      string
	err      error
	requests []nl2sql.Request
}

func (s *stubTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nl2sql.Result{}, s.err
	}
	return nl2sql.Result{SQL: s.sql, Provider: "stub", Model: "stub-1"}, nil
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

type harness struct {
	opts   Options
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newHarness(t *testing.T, translator *stubTranslator, env map[string]string) *harness {
	t.Helper()
	values := map[string]string{
		"QUERYPILOT_PROFILE":     "test",
		"QUERYPILOT_UPLOADS_DIR": t.TempDir(),
	}
	for k, v := range env {
		values[k] = v
	}
	h := &harness{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	h.opts = Options{
		Lookup: func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		},
		Stdout: h.stdout,
		Stderr: h.stderr,
	}
	if translator != nil {
		h.opts.Translator = translator
	}
	return h
}

func (h *harness) run(args ...string) int {
	return Run(context.Background(), args, h.opts)
}

func createEmployeesDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "company.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE employees (id INTEGER PRIMARY KEY, name TEXT, salary INTEGER)`,
		`INSERT INTO employees (id, name, salary) VALUES (1, 'Alice', 48000), (2, 'Bob', 72000), (3, 'Cara', 65000)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())
	return path
}

func TestRunWithoutCommandIsUsageError(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.Equal(t, exitUsage, h.run())
	assert.Equal(t, exitUsage, h.run("bogus"))
	assert.Equal(t, exitUsage, h.run("ask", "--no-such-flag"))
}

func TestAskPrintsSchemaQueryAndRows(t *testing.T) {
	translator := &stubTranslator{sql: "SELECT name, salary FROM employees WHERE salary > 50000 ORDER BY id"}
	h := newHarness(t, translator, nil)
	dbPath := createEmployeesDB(t)

	code := h.run("ask", "show all employees earning more than 50000", "--table", "employees", "--db", dbPath)

	require.Equal(t, exitOK, code, h.stderr.String())
	out := h.stdout.String()
	assert.Contains(t, out, "Schema:\nTable employees has columns: id (INTEGER), name (TEXT), salary (INTEGER)")
	assert.Contains(t, out, "Generated SQL Query:\nSELECT name, salary FROM employees")
	assert.Contains(t, out, "Bob")
	assert.Contains(t, out, "Cara")
	assert.NotContains(t, out, "Alice")
	require.Len(t, translator.requests, 1)
	assert.Equal(t, "show all employees earning more than 50000", translator.requests[0].Question)
}

func TestAskMissingTableExitsWithUsage(t *testing.T) {
	h := newHarness(t, &stubTranslator{sql: "SELECT 1"}, nil)
	code := h.run("ask", "anything", "--db", createEmployeesDB(t))
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, h.stderr.String(), "--table is required")
}

func TestAskWithoutDatabaseExitsWithUsage(t *testing.T) {
	h := newHarness(t, &stubTranslator{sql: "SELECT 1"}, nil)
	assert.Equal(t, exitUsage, h.run("ask", "anything", "--table", "employees"))
}

func TestAskGhostTableReportsSchemaError(t *testing.T) {
	translator := &stubTranslator{sql: "SELECT 1"}
	h := newHarness(t, translator, nil)

	code := h.run("ask", "q", "--table", "ghost", "--db", createEmployeesDB(t))

	assert.Equal(t, exitFailure, code)
	assert.Contains(t, h.stdout.String(), "Error (schema_lookup)")
	assert.Empty(t, translator.requests)
}

func TestAskGenerationErrorIsReported(t *testing.T) {
	translator := &stubTranslator{err: errors.New("quota exceeded")}
	h := newHarness(t, translator, nil)

	code := h.run("ask", "q", "-t", "employees", "--db", createEmployeesDB(t))

	assert.Equal(t, exitFailure, code)
	assert.Contains(t, h.stdout.String(), "quota exceeded")
	assert.NotContains(t, h.stdout.String(), "Generated SQL Query")
}

func TestAskContinuesAcrossDatabases(t *testing.T) {
	translator := &stubTranslator{sql: "SELECT COUNT(*) AS n FROM employees"}
	h := newHarness(t, translator, nil)
	empty := filepath.Join(t.TempDir(), "empty.db")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	code := h.run("ask", "how many", "-t", "employees", "--db", empty, "--db", createEmployeesDB(t), "--format", "json")

	assert.Equal(t, exitFailure, code)
	lines := strings.Split(strings.TrimSpace(h.stdout.String()), "\n")
	require.Len(t, lines, 2)
	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "errored", first["stage"])
	assert.Equal(t, "rendered", second["stage"])
}

func TestAskContinuesPastMissingDatabase(t *testing.T) {
	translator := &stubTranslator{sql: "SELECT name FROM employees ORDER BY id"}
	h := newHarness(t, translator, nil)
	missing := filepath.Join(t.TempDir(), "missing.db")

	code := h.run("ask", "names", "-t", "employees", "--db", createEmployeesDB(t), "--db", missing)

	assert.Equal(t, exitFailure, code)
	out := h.stdout.String()
	assert.Contains(t, out, "== company.db ==")
	assert.Contains(t, out, "Cara")
	assert.Contains(t, out, "== missing.db ==")
	assert.Contains(t, out, "Error (schema_lookup)")
	assert.Len(t, translator.requests, 1)
}

func TestAskReportsMissingObjectPerFile(t *testing.T) {
	content, err := os.ReadFile(createEmployeesDB(t))
	require.NoError(t, err)
	h := newHarness(t, &stubTranslator{sql: "SELECT COUNT(*) AS n FROM employees"}, nil)
	h.opts.ObjectStore = &memoryStore{objects: map[string][]byte{"hr/company.db": content}}

	code := h.run("ask", "how many", "-t", "employees", "--object", "hr/gone.db", "--object", "hr/company.db", "--format", "json")

	assert.Equal(t, exitFailure, code)
	lines := strings.Split(strings.TrimSpace(h.stdout.String()), "\n")
	require.Len(t, lines, 2)
	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "hr/gone.db", first["file"])
	assert.Equal(t, "errored", first["stage"])
	assert.Equal(t, "rendered", second["stage"])
}

func TestAskRejectsParquetFormat(t *testing.T) {
	h := newHarness(t, &stubTranslator{sql: "SELECT 1"}, nil)
	assert.Equal(t, exitUsage, h.run("ask", "q", "-t", "employees", "--db", createEmployeesDB(t), "--format", "parquet"))
}

func TestAskHonoursRowLimitFromConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "querypilot.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("query:\n  row_limit: 1\n"), 0o600))
	h := newHarness(t, &stubTranslator{sql: "SELECT name FROM employees ORDER BY id"}, nil)

	code := h.run("--config", configPath, "ask", "names", "-t", "employees", "--db", createEmployeesDB(t))

	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "(1 rows, truncated)")
}

func TestAskFetchesObjectKeys(t *testing.T) {
	content, err := os.ReadFile(createEmployeesDB(t))
	require.NoError(t, err)
	h := newHarness(t, &stubTranslator{sql: "SELECT name FROM employees ORDER BY id"}, nil)
	h.opts.ObjectStore = &memoryStore{objects: map[string][]byte{"hr/company.db": content}}

	code := h.run("ask", "names", "-t", "employees", "--object", "hr/company.db", "--format", "csv")

	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "name\nAlice\nBob\nCara\n")
}

func TestAskObjectKeysRequireStore(t *testing.T) {
	h := newHarness(t, &stubTranslator{sql: "SELECT 1"}, nil)
	code := h.run("ask", "q", "-t", "employees", "--object", "hr/company.db")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, h.stderr.String(), "object store is not configured")
}

func TestDescribePrintsDescription(t *testing.T) {
	h := newHarness(t, nil, nil)
	code := h.run("describe", "-t", "employees", "--db", createEmployeesDB(t))
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "== company.db ==\nTable employees has columns: id (INTEGER), name (TEXT), salary (INTEGER)")
}

func TestDescribeJSONReportsMissingTable(t *testing.T) {
	h := newHarness(t, nil, nil)
	code := h.run("describe", "-t", "ghost", "--db", createEmployeesDB(t), "--format", "json")

	assert.Equal(t, exitFailure, code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &view))
	errView, ok := view["error"].(map[string]any)
	require.True(t, ok, h.stdout.String())
	assert.Equal(t, "schema_lookup", errView["kind"])
}

func TestDescribeContinuesPastMissingDatabase(t *testing.T) {
	h := newHarness(t, nil, nil)
	missing := filepath.Join(t.TempDir(), "missing.db")

	code := h.run("describe", "-t", "employees", "--db", missing, "--db", createEmployeesDB(t))

	assert.Equal(t, exitFailure, code)
	out := h.stdout.String()
	assert.Contains(t, out, "== missing.db ==\nError (schema_lookup)")
	assert.Contains(t, out, "== company.db ==\nTable employees has columns")
}

func TestExecRendersMarkdown(t *testing.T) {
	h := newHarness(t, nil, nil)
	code := h.run("exec", "SELECT id, name FROM employees WHERE id = 2", "--db", createEmployeesDB(t), "-f", "md")
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Equal(t, "| id | name |\n| --- | --- |\n| 2 | Bob |\n", h.stdout.String())
}

func TestExecWritesParquetFile(t *testing.T) {
	h := newHarness(t, nil, nil)
	out := filepath.Join(t.TempDir(), "employees.parquet")

	code := h.run("exec", "SELECT * FROM employees", "--db", createEmployeesDB(t), "--format", "parquet", "--out", out)

	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "wrote 3 rows (3 columns)")
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestExecParquetNeedsOut(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.Equal(t, exitUsage, h.run("exec", "SELECT 1", "--db", createEmployeesDB(t), "--format", "parquet"))
}

func TestExecReadOnlyRejectsWrites(t *testing.T) {
	h := newHarness(t, nil, map[string]string{"QUERYPILOT_QUERY_READ_ONLY": "true"})
	code := h.run("exec", "DELETE FROM employees", "--db", createEmployeesDB(t))
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, h.stdout.String(), "Error (execution)")
}

func TestExecRequiresSingleDatabase(t *testing.T) {
	h := newHarness(t, nil, nil)
	dbPath := createEmployeesDB(t)
	assert.Equal(t, exitUsage, h.run("exec", "SELECT 1", "--db", dbPath, "--db", dbPath))
}

func TestUploadPublishesUnderNamespace(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{}}
	h := newHarness(t, nil, nil)
	h.opts.ObjectStore = store

	code := h.run("upload", createEmployeesDB(t), "--namespace", "hr")

	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "uploaded hr/company.db")
	assert.Contains(t, store.objects, "hr/company.db")
}

func TestUploadRejectsNonDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.db")
	require.NoError(t, os.WriteFile(path, []byte("just some notes"), 0o600))
	h := newHarness(t, nil, nil)
	h.opts.ObjectStore = &memoryStore{objects: map[string][]byte{}}

	assert.Equal(t, exitFailure, h.run("upload", path))
}

func TestUploadRefusesToOverwriteWithoutReplace(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"hr/company.db": []byte("old")}}
	h := newHarness(t, nil, nil)
	h.opts.ObjectStore = store
	dbPath := createEmployeesDB(t)

	assert.Equal(t, exitFailure, h.run("upload", dbPath, "--namespace", "hr"))
	assert.Contains(t, h.stderr.String(), "pass --replace")
	assert.Equal(t, []byte("old"), store.objects["hr/company.db"])

	code := h.run("upload", dbPath, "--namespace", "hr", "--replace")
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.NotEqual(t, []byte("old"), store.objects["hr/company.db"])
}

func TestRemoveDeletesObjects(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"hr/company.db": []byte("abc")}}
	h := newHarness(t, nil, nil)
	h.opts.ObjectStore = store

	code := h.run("remove", "hr/company.db")

	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Contains(t, h.stdout.String(), "removed hr/company.db (3 bytes)")
	assert.NotContains(t, store.objects, "hr/company.db")
}

func TestRemoveReportsMissingObject(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{"hr/company.db": []byte("abc")}}
	h := newHarness(t, nil, nil)
	h.opts.ObjectStore = store

	code := h.run("remove", "hr/gone.db", "hr/company.db")

	assert.Equal(t, exitFailure, code)
	assert.Contains(t, h.stderr.String(), "hr/gone.db: not found")
	assert.NotContains(t, store.objects, "hr/company.db")
}

func TestRemoveRejectsInvalidKey(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.opts.ObjectStore = &memoryStore{objects: map[string][]byte{}}
	assert.Equal(t, exitUsage, h.run("remove", "../etc/passwd"))
}

func TestRemoteHealth(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	h := newHarness(t, nil, nil)
	code := h.run("remote", "health", "--base-url", srv.URL)

	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Equal(t, "/v1/health", gotPath)
	assert.Contains(t, h.stdout.String(), `"status": "ok"`)
}

func TestRemoteReadyFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error_code":"NOT_READY"}`))
	}))
	defer srv.Close()

	h := newHarness(t, nil, map[string]string{"QUERYPILOT_API_URL": srv.URL})
	assert.Equal(t, exitFailure, h.run("remote", "ready"))
	assert.Contains(t, h.stderr.String(), "http 503")
}

func TestRemoteAskUploadsForm(t *testing.T) {
	var question, table, fileName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		question = r.FormValue("question")
		table = r.FormValue("table")
		if files := r.MultipartForm.File["files"]; len(files) == 1 {
			fileName = files[0].Filename
		}
		_, _ = w.Write([]byte(`{"run_id":"r1","failures":1,"outcomes":[]}`))
	}))
	defer srv.Close()

	h := newHarness(t, nil, nil)
	code := h.run("remote", "ask", "who earns most", "-t", "employees", "--db", createEmployeesDB(t), "--base-url", srv.URL)

	assert.Equal(t, exitFailure, code)
	assert.Equal(t, "who earns most", question)
	assert.Equal(t, "employees", table)
	assert.Equal(t, "company.db", fileName)
	assert.Contains(t, h.stdout.String(), `"run_id": "r1"`)
}
