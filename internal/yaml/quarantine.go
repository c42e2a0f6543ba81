package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"
)

// QuarantineDir is the data-directory subfolder holding unreadable files.
const QuarantineDir = "quarantine"

// Quarantine moves filePath into <dataDir>/quarantine and returns the new path.
func Quarantine(dataDir, filePath string) (string, error) {
	dir := filepath.Join(dataDir, QuarantineDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s.corrupt", filepath.Base(filePath), time.Now().Format("20060102T150405"))
	dst := filepath.Join(dir, name)
	if err := os.Rename(filePath, dst); err != nil {
		return "", fmt.Errorf("move to quarantine: %w", err)
	}
	return dst, nil
}

// RestoreFromBackup copies filePath+".bak" over filePath if the backup parses.
func RestoreFromBackup(filePath string) error {
	bakPath := filePath + ".bak"
	content, err := os.ReadFile(bakPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := validateYAML(content); err != nil {
		return fmt.Errorf("backup YAML is also corrupted: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}
	return nil
}

// Recovery describes what RecoverCorruptedFile did.
type Recovery struct {
	QuarantinedTo string
	FromBackup    bool
	BackupErr     error
}

// RecoverCorruptedFile quarantines filePath, then restores it from its backup,
// or writes skeleton in its place when no usable backup exists.
func RecoverCorruptedFile(dataDir, filePath string, skeleton any) (Recovery, error) {
	var rec Recovery
	dst, err := Quarantine(dataDir, filePath)
	if err != nil {
		return rec, fmt.Errorf("quarantine failed: %w", err)
	}
	rec.QuarantinedTo = dst

	rec.BackupErr = RestoreFromBackup(filePath)
	if rec.BackupErr == nil {
		rec.FromBackup = true
		return rec, nil
	}

	content, err := yamlv3.Marshal(skeleton)
	if err != nil {
		return rec, fmt.Errorf("marshal skeleton: %w", err)
	}
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return rec, fmt.Errorf("write skeleton: %w", err)
	}
	return rec, nil
}
