package scripts

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

type stackRun struct {
	stdout string
	stderr string
	code   int
}

func TestStackScriptDryRunUp(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "run")

	res := runStack(t, runDir, "up", "--dry-run")

	if res.code != 0 {
		t.Fatalf("stack up dry-run exited %d\nstdout:\n%s\nstderr:\n%s", res.code, res.stdout, res.stderr)
	}
	logFile := filepath.Join(runDir, "querypilot-api.log")
	expected := []string{
		"[dry-run] docker compose -f " + composeFilePath(t) + " up -d",
		"[dry-run] cd " + repoRoot(t),
		"[dry-run] nohup env QUERYPILOT_OBJECTSTORE_ENABLED=true QUERYPILOT_OBJECTSTORE_ENDPOINT=localhost:9000 go run ./cmd/querypilot-api > " + logFile + " 2>&1 &",
		"[dry-run] write pid to " + filepath.Join(runDir, "querypilot-api.pid"),
		"stack is up (api log: " + logFile + ")",
	}
	assertLines(t, res.stdout, expected)
	if _, err := os.Stat(runDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("dry-run created run dir: %v", err)
	}
}

func TestStackScriptDryRunDownStopsRecordedAPI(t *testing.T) {
	runDir := t.TempDir()
	pidFile := filepath.Join(runDir, "querypilot-api.pid")
	if err := os.WriteFile(pidFile, []byte("4242\n"), 0o600); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	res := runStack(t, runDir, "down", "--dry-run")

	if res.code != 0 {
		t.Fatalf("stack down dry-run exited %d\nstdout:\n%s\nstderr:\n%s", res.code, res.stdout, res.stderr)
	}
	assertLines(t, res.stdout, []string{
		"[dry-run] kill 4242",
		"[dry-run] rm -f " + pidFile,
		"[dry-run] docker compose -f " + composeFilePath(t) + " down",
		"stack is down",
	})
	if _, err := os.Stat(pidFile); err != nil {
		t.Fatalf("dry-run removed pid file: %v", err)
	}
}

func TestStackScriptDryRunDownWithoutPIDFile(t *testing.T) {
	runDir := t.TempDir()

	res := runStack(t, runDir, "down", "--dry-run")

	if res.code != 0 {
		t.Fatalf("stack down dry-run exited %d\nstderr:\n%s", res.code, res.stderr)
	}
	assertLines(t, res.stdout, []string{"no api pid file at " + filepath.Join(runDir, "querypilot-api.pid"), "stack is down"})
	if strings.Contains(res.stdout, "[dry-run] kill") {
		t.Fatalf("kill issued without a pid file:\n%s", res.stdout)
	}
}

func TestStackScriptUnknownFlag(t *testing.T) {
	res := runStack(t, t.TempDir(), "up", "--bogus")

	if res.code != 2 {
		t.Fatalf("exit code = %d, want 2\nstderr:\n%s", res.code, res.stderr)
	}
	if !strings.Contains(res.stderr, "unknown flag: --bogus") {
		t.Fatalf("stderr missing unknown flag message:\n%s", res.stderr)
	}
	if res.stdout != "" {
		t.Fatalf("unknown flag still ran commands:\n%s", res.stdout)
	}
}

func TestStackScriptUnknownCommand(t *testing.T) {
	res := runStack(t, t.TempDir(), "restart")

	if res.code != 2 {
		t.Fatalf("exit code = %d, want 2\nstderr:\n%s", res.code, res.stderr)
	}
	if !strings.Contains(res.stderr, "unknown command: restart (expected up or down)") {
		t.Fatalf("stderr missing unknown command message:\n%s", res.stderr)
	}
}

func TestStackScriptComposeFileExists(t *testing.T) {
	if _, err := os.Stat(composeFilePath(t)); err != nil {
		t.Fatalf("compose file referenced by stack.sh: %v", err)
	}
}

func runStack(t *testing.T, runDir string, args ...string) stackRun {
	t.Helper()
	cmd := exec.Command("bash", append([]string{filepath.Join(repoRoot(t), "scripts", "stack.sh")}, args...)...)
	cmd.Env = append(os.Environ(), "QUERYPILOT_RUN_DIR="+runDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := stackRun{stdout: stdout.String(), stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.code = exitErr.ExitCode()
	default:
		t.Fatalf("run stack.sh: %v", err)
	}
	return res
}

func assertLines(t *testing.T, out string, expected []string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for _, want := range expected {
		found := false
		for _, line := range lines {
			if line == want {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("output missing line %q\noutput:\n%s", want, out)
		}
	}
}

func composeFilePath(t *testing.T) string {
	return filepath.Join(repoRoot(t), "deployments", "docker-compose.yml")
}

func repoRoot(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Dir(filepath.Dir(thisFile))
}
