package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

func TestQuarantine(t *testing.T) {
	dataDir := t.TempDir()
	filePath := filepath.Join(dataDir, "data.yml")
	os.WriteFile(filePath, []byte("pending: [\n"), 0644)

	dst, err := Quarantine(dataDir, filePath)
	if err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("original file should be removed after quarantine")
	}
	if filepath.Dir(dst) != filepath.Join(dataDir, QuarantineDir) {
		t.Errorf("quarantined to unexpected dir: %s", dst)
	}
	base := filepath.Base(dst)
	if !strings.HasPrefix(base, "data.yml.") || !strings.HasSuffix(base, ".corrupt") {
		t.Errorf("unexpected quarantine filename: %s", base)
	}
}

func TestRestoreFromBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "data.yml")
	os.WriteFile(filePath+".bak", []byte("lastID: 11\npending: []\n"), 0644)

	if err := RestoreFromBackup(filePath); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}

	var got struct {
		LastID int `yaml:"lastID"`
	}
	content, _ := os.ReadFile(filePath)
	if err := yamlv3.Unmarshal(content, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.LastID != 11 {
		t.Errorf("lastID: got %d, want 11", got.LastID)
	}
}

func TestRestoreFromBackup_NoBackup(t *testing.T) {
	if err := RestoreFromBackup(filepath.Join(t.TempDir(), "data.yml")); err == nil {
		t.Error("expected error when no backup exists")
	}
}

func TestRestoreFromBackup_CorruptBackup(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "data.yml")
	os.WriteFile(filePath+".bak", []byte(":\n  broken: [\n"), 0644)

	if err := RestoreFromBackup(filePath); err == nil {
		t.Error("expected error when backup is also corrupted")
	}
}

func TestRecoverCorruptedFile_FallsBackToSkeleton(t *testing.T) {
	dataDir := t.TempDir()
	filePath := filepath.Join(dataDir, "data.yml")
	os.WriteFile(filePath, []byte("pending: [\n"), 0644)

	rec, err := RecoverCorruptedFile(dataDir, filePath, map[string]any{"lastID": 0, "pending": []string{}})
	if err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}
	if rec.FromBackup {
		t.Error("no backup existed, FromBackup should be false")
	}
	if rec.BackupErr == nil {
		t.Error("expected BackupErr to explain the skeleton fallback")
	}
	content, _ := os.ReadFile(filePath)
	if err := validateYAML(content); err != nil {
		t.Errorf("skeleton is not valid yaml: %v", err)
	}
}

func TestRecoverCorruptedFile_PrefersBackup(t *testing.T) {
	dataDir := t.TempDir()
	filePath := filepath.Join(dataDir, "data.yml")
	os.WriteFile(filePath, []byte("pending: [\n"), 0644)
	os.WriteFile(filePath+".bak", []byte("lastID: 5\n"), 0644)

	rec, err := RecoverCorruptedFile(dataDir, filePath, map[string]any{})
	if err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}
	if !rec.FromBackup {
		t.Fatal("expected restore from backup")
	}
	content, _ := os.ReadFile(filePath)
	if string(content) != "lastID: 5\n" {
		t.Errorf("restored content: %q", content)
	}
}
