package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

func TestAtomicWrite_Success(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.yml")

	data := map[string]any{"lastID": 42, "pending": []string{}}
	if err := AtomicWrite(path, data); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var result map[string]any
	if err := yamlv3.Unmarshal(content, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if result["lastID"] != 42 {
		t.Errorf("lastID: got %v, want 42", result["lastID"])
	}
}

func TestAtomicWrite_CreatesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.yml")

	if err := AtomicWrite(path, map[string]int{"lastID": 1}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := AtomicWrite(path, map[string]int{"lastID": 2}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	var bak map[string]int
	content, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("ReadFile .bak failed: %v", err)
	}
	if err := yamlv3.Unmarshal(content, &bak); err != nil {
		t.Fatalf("Unmarshal .bak failed: %v", err)
	}
	if bak["lastID"] != 1 {
		t.Errorf("backup lastID: got %d, want 1", bak["lastID"])
	}

	var cur map[string]int
	content, _ = os.ReadFile(path)
	if err := yamlv3.Unmarshal(content, &cur); err != nil {
		t.Fatalf("Unmarshal current failed: %v", err)
	}
	if cur["lastID"] != 2 {
		t.Errorf("current lastID: got %d, want 2", cur["lastID"])
	}
}

func TestAtomicWriteRaw_InvalidYAMLLeavesPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.yml")
	if err := os.WriteFile(path, []byte("lastID: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := AtomicWriteRaw(path, []byte(":\n  invalid: [\n    broken")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}

	content, _ := os.ReadFile(path)
	if string(content) != "lastID: 7\n" {
		t.Errorf("previous file modified: %q", content)
	}
}

func TestAtomicWrite_NoTempFileLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.yml")

	_ = AtomicWriteRaw(path, []byte(":\n  broken: [\n"))
	if err := AtomicWrite(path, map[string]int{"lastID": 3}); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".storebridge-tmp-") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
}
