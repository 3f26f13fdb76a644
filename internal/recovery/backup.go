package recovery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/codegraph-io/codegraph/internal/coderr"
)

// ManifestEntry records one backed-up file's size and checksum, the unit
// VerifyBackup checks against.
type ManifestEntry struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest describes one backup directory's contents, written as
// manifest.json at its root.
type Manifest struct {
	CreatedAt time.Time       `json:"created_at"`
	Files     []ManifestEntry `json:"files"`
}

const manifestFileName = "manifest.json"

// BackupManager copies a CAS root and WAL directory into a timestamped
// backup directory alongside a checksummed manifest, and can restore or
// verify one later. It holds no reference to a live Store/Log: a backup is
// a filesystem-level copy, taken and restored with the originating process
// stopped or at least not actively writing to the same paths.
type BackupManager struct {
	storageDirs []string // e.g. cas root, WAL dir
	backupRoot  string
}

// NewBackupManager roots backups under backupRoot, each numbered by the
// wall-clock time the backup started.
func NewBackupManager(backupRoot string, storageDirs ...string) *BackupManager {
	return &BackupManager{storageDirs: storageDirs, backupRoot: backupRoot}
}

// CreateBackup copies every storage directory into a new
// backup_<timestamp> directory and writes its manifest, returning the
// backup's path. takenAt is passed in rather than read from time.Now so
// the backup directory name is reproducible in tests.
func (b *BackupManager) CreateBackup(takenAt time.Time) (string, error) {
	name := fmt.Sprintf("backup_%s", takenAt.UTC().Format("20060102_150405"))
	dst := filepath.Join(b.backupRoot, name)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", coderr.New(coderr.KindStorageIo, "recovery.CreateBackup", err)
	}

	var files []ManifestEntry
	for _, src := range b.storageDirs {
		base := filepath.Base(filepath.Clean(src))
		entries, err := copyTree(src, filepath.Join(dst, base), base)
		if err != nil {
			return "", err
		}
		files = append(files, entries...)
	}

	manifest := Manifest{CreatedAt: takenAt, Files: files}
	enc, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", coderr.New(coderr.KindInvalidArgument, "recovery.CreateBackup", err)
	}
	if err := os.WriteFile(filepath.Join(dst, manifestFileName), enc, 0o644); err != nil {
		return "", coderr.New(coderr.KindStorageIo, "recovery.CreateBackup", err)
	}
	return dst, nil
}

// copyTree copies every regular file under src into dst, preserving
// relative paths, and returns a manifest entry per file keyed by
// prefix/<relative path> so restoring knows which original directory each
// entry came from.
func copyTree(src, dst, prefix string) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		sum, size, err := copyFileChecksum(path, target)
		if err != nil {
			return err
		}
		entries = append(entries, ManifestEntry{Path: filepath.ToSlash(filepath.Join(prefix, rel)), Size: size, SHA256: sum})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, coderr.New(coderr.KindStorageIo, "recovery.copyTree", err)
	}
	return entries, nil
}

func copyFileChecksum(src, dst string) (sum string, size int64, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// VerifyBackup checks that every file the manifest lists is present under
// backupDir with a matching size and checksum.
func VerifyBackup(backupDir string) error {
	manifest, err := readManifest(backupDir)
	if err != nil {
		return err
	}
	for _, entry := range manifest.Files {
		path := filepath.Join(backupDir, filepath.FromSlash(entry.Path))
		info, err := os.Stat(path)
		if err != nil {
			return coderr.New(coderr.KindCorrupted, "recovery.VerifyBackup", fmt.Errorf("missing backup file %s", entry.Path))
		}
		if info.Size() != entry.Size {
			return coderr.New(coderr.KindCorrupted, "recovery.VerifyBackup", fmt.Errorf("size mismatch for %s: manifest %d, disk %d", entry.Path, entry.Size, info.Size()))
		}
		sum, _, err := fileChecksum(path)
		if err != nil {
			return coderr.New(coderr.KindStorageIo, "recovery.VerifyBackup", err)
		}
		if sum != entry.SHA256 {
			return coderr.New(coderr.KindCorrupted, "recovery.VerifyBackup", fmt.Errorf("checksum mismatch for %s", entry.Path))
		}
	}
	return nil
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func readManifest(backupDir string) (Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(backupDir, manifestFileName))
	if err != nil {
		return Manifest{}, coderr.New(coderr.KindStorageIo, "recovery.readManifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, coderr.New(coderr.KindCorrupted, "recovery.readManifest", err)
	}
	return m, nil
}

// RestoreFromBackup verifies backupDir against its manifest and then
// copies every listed file into targetDirs, a map from the manifest's
// path prefix (the directory basename CreateBackup recorded, e.g. "cas"
// or "wal") to the live directory it should be restored into. Restoring
// into the original live directories while the process that owns them is
// running is the caller's responsibility to avoid.
func RestoreFromBackup(backupDir string, targetDirs map[string]string) error {
	if err := VerifyBackup(backupDir); err != nil {
		return err
	}
	manifest, err := readManifest(backupDir)
	if err != nil {
		return err
	}
	for _, entry := range manifest.Files {
		prefix, rel, ok := splitFirstSegment(entry.Path)
		if !ok {
			continue
		}
		targetRoot, ok := targetDirs[prefix]
		if !ok {
			continue
		}
		dst := filepath.Join(targetRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return coderr.New(coderr.KindStorageIo, "recovery.RestoreFromBackup", err)
		}
		if _, _, err := copyFileChecksum(filepath.Join(backupDir, filepath.FromSlash(entry.Path)), dst); err != nil {
			return coderr.New(coderr.KindStorageIo, "recovery.RestoreFromBackup", err)
		}
	}
	return nil
}

func splitFirstSegment(p string) (first, rest string, ok bool) {
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			return p[:i], p[i+1:], true
		}
	}
	return "", "", false
}
