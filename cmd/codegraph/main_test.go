package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Storage:    t.TempDir(),
		WALSync:    "each",
		EmbedDim:   8,
		CacheBytes: 1 << 20,
		MaxWorkers: 2,
		OutputFmt:  "json",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func runCLI(t *testing.T, cfg Config, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	outFile, cleanupOut := captureToFile(t, &outBuf)
	errFile, cleanupErr := captureToFile(t, &errBuf)
	defer cleanupOut()
	defer cleanupErr()

	code = run(context.Background(), args, cfg, discardLogger(), outFile, errFile)
	return outBuf.String(), errBuf.String(), code
}

// captureToFile pipes an *os.File's output into buf on a background
// goroutine, since run() takes concrete *os.File handles for
// stdout/stderr rather than io.Writer.
func captureToFile(t *testing.T, buf *bytes.Buffer) (f *os.File, cleanup func()) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	done := make(chan struct{})
	go func() {
		buf.ReadFrom(r)
		close(done)
	}()
	return w, func() {
		w.Close()
		<-done
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfig()
	if cfg.Storage != "./db" {
		t.Fatalf("expected default storage ./db, got %s", cfg.Storage)
	}
	if cfg.OutputFmt != "pretty" {
		t.Fatalf("expected default output pretty, got %s", cfg.OutputFmt)
	}
	if cfg.EmbedDim != 768 {
		t.Fatalf("expected default embed dim 768, got %d", cfg.EmbedDim)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("CODEGRAPH_TEST_VAR", "custom")
	if v := envOr("CODEGRAPH_TEST_VAR", "default"); v != "custom" {
		t.Fatalf("expected custom, got %s", v)
	}
	if v := envOr("CODEGRAPH_TEST_VAR_MISSING", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %s", v)
	}
}

func TestEnvOrInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("CODEGRAPH_TEST_INT", "not-a-number")
	if v := envOrInt("CODEGRAPH_TEST_INT", 42); v != 42 {
		t.Fatalf("expected fallback 42, got %d", v)
	}
}

func TestExtractFormat(t *testing.T) {
	format, rest := extractFormat([]string{"list", "--format=json", "--limit=5"}, "pretty")
	if format != "json" {
		t.Fatalf("expected json, got %s", format)
	}
	if strings.Join(rest, " ") != "list --limit=5" {
		t.Fatalf("expected --format stripped, got %v", rest)
	}
}

func TestExtractFormat_Fallback(t *testing.T) {
	format, rest := extractFormat([]string{"list"}, "table")
	if format != "table" {
		t.Fatalf("expected fallback table, got %s", format)
	}
	if len(rest) != 1 || rest[0] != "list" {
		t.Fatalf("expected args untouched, got %v", rest)
	}
}

func TestRun_NoArgsIsUserError(t *testing.T) {
	cfg := testConfig(t)
	_, stderr, code := runCLI(t, cfg)
	if code != exitUserErr {
		t.Fatalf("expected exitUserErr, got %d", code)
	}
	if !strings.Contains(stderr, "usage") {
		t.Fatalf("expected usage message, got %q", stderr)
	}
}

func TestRun_UnknownGroupIsUserError(t *testing.T) {
	cfg := testConfig(t)
	_, stderr, code := runCLI(t, cfg, "bogus")
	if code != exitUserErr {
		t.Fatalf("expected exitUserErr, got %d", code)
	}
	if !strings.Contains(stderr, "unknown command group") {
		t.Fatalf("expected unknown-group message, got %q", stderr)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var outBuf, errBuf bytes.Buffer
	outFile, cleanupOut := captureToFile(t, &outBuf)
	errFile, cleanupErr := captureToFile(t, &errBuf)
	defer cleanupOut()
	defer cleanupErr()

	code := run(ctx, []string{"version", "list"}, cfg, discardLogger(), outFile, errFile)
	if code != exitCancel {
		t.Fatalf("expected exitCancel, got %d", code)
	}
}

func TestRun_VersionCreateThenGet(t *testing.T) {
	cfg := testConfig(t)

	stdout, stderr, code := runCLI(t, cfg, "version", "create", "--name=root", "--author=alice")
	if code != exitOK {
		t.Fatalf("version create failed: code=%d stderr=%s", code, stderr)
	}
	var created map[string]any
	if err := json.Unmarshal([]byte(stdout), &created); err != nil {
		t.Fatalf("decode created version: %v (stdout=%s)", err, stdout)
	}
	versionID, _ := created["version_id"].(string)
	if versionID == "" {
		t.Fatalf("expected a version_id in %v", created)
	}

	stdout, stderr, code = runCLI(t, cfg, "version", "get", versionID)
	if code != exitOK {
		t.Fatalf("version get failed: code=%d stderr=%s", code, stderr)
	}
	var fetched map[string]any
	if err := json.Unmarshal([]byte(stdout), &fetched); err != nil {
		t.Fatalf("decode fetched version: %v", err)
	}
	if fetched["version_id"] != versionID {
		t.Fatalf("expected version_id %s, got %v", versionID, fetched["version_id"])
	}
	if fetched["author"] != "alice" {
		t.Fatalf("expected author alice, got %v", fetched["author"])
	}
}

func TestRun_TxBeginCommitRollback(t *testing.T) {
	cfg := testConfig(t)

	stdout, stderr, code := runCLI(t, cfg, "tx", "begin", "--isolation=serializable")
	if code != exitOK {
		t.Fatalf("tx begin failed: code=%d stderr=%s", code, stderr)
	}
	var begun map[string]any
	if err := json.Unmarshal([]byte(stdout), &begun); err != nil {
		t.Fatalf("decode tx begin: %v", err)
	}
	txID, _ := begun["transaction_id"].(string)
	if txID == "" {
		t.Fatalf("expected a transaction_id in %v", begun)
	}
	if begun["isolation"] != "serializable" {
		t.Fatalf("expected isolation serializable, got %v", begun["isolation"])
	}

	_, _, code = runCLI(t, cfg, "tx", "commit", txID)
	if code != exitOK {
		t.Fatalf("expected committing an already-committed tx to be idempotent, got code %d", code)
	}

	_, stderr, code = runCLI(t, cfg, "tx", "rollback", txID)
	if code != exitUserErr {
		t.Fatalf("expected rollback of a committed tx to be a user error, got code %d", code)
	}
	if !strings.Contains(stderr, "already committed") {
		t.Fatalf("expected already-committed message, got %q", stderr)
	}
}

func TestRun_TxCommitUnknownID(t *testing.T) {
	cfg := testConfig(t)
	_, stderr, code := runCLI(t, cfg, "tx", "commit", "00000000-0000-0000-0000-000000000000")
	if code != exitUserErr {
		t.Fatalf("expected exitUserErr for unknown transaction, got %d", code)
	}
	if !strings.Contains(stderr, "unknown transaction") {
		t.Fatalf("expected unknown-transaction message, got %q", stderr)
	}
}

func TestRun_BranchLifecycle(t *testing.T) {
	cfg := testConfig(t)

	stdout, stderr, code := runCLI(t, cfg, "version", "create", "--name=root", "--author=alice")
	if code != exitOK {
		t.Fatalf("version create failed: %s", stderr)
	}
	var root map[string]any
	json.Unmarshal([]byte(stdout), &root)
	rootID := root["version_id"].(string)

	_, stderr, code = runCLI(t, cfg, "branch", "create", "--name=feature", "--from="+rootID, "--author=alice")
	if code != exitOK {
		t.Fatalf("branch create failed: %s", stderr)
	}

	stdout, stderr, code = runCLI(t, cfg, "branch", "get", "feature")
	if code != exitOK {
		t.Fatalf("branch get failed: %s", stderr)
	}
	var ref map[string]any
	json.Unmarshal([]byte(stdout), &ref)
	if ref["target"] != rootID {
		t.Fatalf("expected branch target %s, got %v", rootID, ref["target"])
	}

	_, stderr, code = runCLI(t, cfg, "branch", "delete", "feature")
	if code != exitOK {
		t.Fatalf("branch delete failed: %s", stderr)
	}

	_, stderr, code = runCLI(t, cfg, "branch", "get", "feature")
	if code == exitOK {
		t.Fatalf("expected branch get after delete to fail")
	}
}

func TestRun_MergeWithNoConflicts(t *testing.T) {
	cfg := testConfig(t)

	stdout, stderr, code := runCLI(t, cfg, "version", "create", "--name=root", "--author=alice")
	if code != exitOK {
		t.Fatalf("version create failed: %s", stderr)
	}
	var root map[string]any
	json.Unmarshal([]byte(stdout), &root)
	rootID := root["version_id"].(string)

	_, stderr, code = runCLI(t, cfg, "branch", "create", "--name=trunk", "--from="+rootID, "--author=alice")
	if code != exitOK {
		t.Fatalf("branch create trunk failed: %s", stderr)
	}
	_, stderr, code = runCLI(t, cfg, "branch", "create", "--name=feature", "--from="+rootID, "--author=alice")
	if code != exitOK {
		t.Fatalf("branch create feature failed: %s", stderr)
	}

	stdout, stderr, code = runCLI(t, cfg, "branch", "merge", "--source=feature", "--target=trunk", "--author=alice", "--message=merge")
	if code != exitOK {
		t.Fatalf("expected a clean merge, code=%d stderr=%s", code, stderr)
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("decode merge result: %v", err)
	}
	if result["success"] != true {
		t.Fatalf("expected success=true, got %v", result)
	}
}

func TestParseSyncPolicy(t *testing.T) {
	if parseSyncPolicy("each") == parseSyncPolicy("interval=100") {
		t.Fatalf("expected each and interval to map to different policies")
	}
}

func TestLedgerPath(t *testing.T) {
	got := ledgerPath("/tmp/storage")
	want := filepath.Join("/tmp/storage", "txn", "ledger.json")
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
