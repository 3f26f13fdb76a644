package recovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCreateBackupAndVerify(t *testing.T) {
	root := t.TempDir()
	casDir := filepath.Join(root, "cas")
	writeFile(t, filepath.Join(casDir, "ab", "abcdef"), "blob-1")
	writeFile(t, filepath.Join(casDir, "cd", "cdefab"), "blob-2")

	backupRoot := filepath.Join(root, "backup")
	bm := NewBackupManager(backupRoot, casDir)
	dst, err := bm.CreateBackup(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	if err := VerifyBackup(dst); err != nil {
		t.Fatalf("VerifyBackup: %v", err)
	}
}

func TestVerifyBackupDetectsTamper(t *testing.T) {
	root := t.TempDir()
	casDir := filepath.Join(root, "cas")
	writeFile(t, filepath.Join(casDir, "ab", "abcdef"), "blob-1")

	bm := NewBackupManager(filepath.Join(root, "backup"), casDir)
	dst, err := bm.CreateBackup(time.Now())
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	tamperedPath := filepath.Join(dst, "cas", "ab", "abcdef")
	if err := os.WriteFile(tamperedPath, []byte("corrupted"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := VerifyBackup(dst); err == nil {
		t.Fatal("expected VerifyBackup to detect the tampered file")
	}
}

func TestRestoreFromBackupRoundTrips(t *testing.T) {
	root := t.TempDir()
	casDir := filepath.Join(root, "cas")
	writeFile(t, filepath.Join(casDir, "ab", "abcdef"), "blob-1")

	bm := NewBackupManager(filepath.Join(root, "backup"), casDir)
	dst, err := bm.CreateBackup(time.Now())
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}

	restoreDir := filepath.Join(root, "restored-cas")
	if err := RestoreFromBackup(dst, map[string]string{"cas": restoreDir}); err != nil {
		t.Fatalf("RestoreFromBackup: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(restoreDir, "ab", "abcdef"))
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}
	if string(got) != "blob-1" {
		t.Fatalf("restored content = %q, want %q", got, "blob-1")
	}
}

func TestVerifyBackupMissingFile(t *testing.T) {
	root := t.TempDir()
	casDir := filepath.Join(root, "cas")
	writeFile(t, filepath.Join(casDir, "ab", "abcdef"), "blob-1")

	bm := NewBackupManager(filepath.Join(root, "backup"), casDir)
	dst, err := bm.CreateBackup(time.Now())
	if err != nil {
		t.Fatalf("CreateBackup: %v", err)
	}
	if err := os.Remove(filepath.Join(dst, "cas", "ab", "abcdef")); err != nil {
		t.Fatal(err)
	}
	if err := VerifyBackup(dst); err == nil {
		t.Fatal("expected VerifyBackup to detect the missing file")
	}
}
