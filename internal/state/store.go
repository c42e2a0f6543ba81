// Package state persists the watermark and deferred commands across restarts.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/storebridge/internal/model"
	yamlutil "github.com/msageha/storebridge/internal/yaml"
)

// DataFileName is the state file inside the data directory.
const DataFileName = "data.yml"

// Snapshot is the persisted reconciler state.
type Snapshot struct {
	Watermark int64
	Deferred  []model.Command
}

// LoadResult is a loaded Snapshot plus the problems found while loading it.
// EntryErrors never abort a load; each one names a dropped entry.
type LoadResult struct {
	Snapshot
	EntryErrors []error
	Recovery    *yamlutil.Recovery
}

// Store reads and writes data.yml.
type Store struct {
	dataDir string
	path    string
}

func NewStore(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
		path:    filepath.Join(dataDir, DataFileName),
	}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the state file. A missing file is an empty state. A file that is
// not valid YAML is quarantined and replaced by its backup, or by an empty state.
func (s *Store) Load() (LoadResult, error) {
	var res LoadResult

	df, err := s.readDataFile()
	if err != nil {
		var syntaxErr *corruptFileError
		if !errors.As(err, &syntaxErr) {
			return res, err
		}
		rec, recErr := yamlutil.RecoverCorruptedFile(s.dataDir, s.path, model.DataFile{Pending: []string{}})
		if recErr != nil {
			return res, fmt.Errorf("recover %s: %w", s.path, recErr)
		}
		res.Recovery = &rec
		if df, err = s.readDataFile(); err != nil {
			return res, err
		}
	}

	if df.LastID < 0 {
		res.EntryErrors = append(res.EntryErrors, fmt.Errorf("lastID %d is negative, using 0", df.LastID))
		df.LastID = 0
	}
	res.Watermark = df.LastID

	for i, entry := range df.Pending {
		c, err := DecodeCommand(entry)
		if err != nil {
			var malformed *MalformedEntryError
			if errors.As(err, &malformed) {
				malformed.Index = i
			}
			res.EntryErrors = append(res.EntryErrors, err)
			continue
		}
		res.Deferred = append(res.Deferred, c)
	}
	return res, nil
}

// Save replaces the state file with the given watermark and deferred commands.
func (s *Store) Save(watermark int64, deferred []model.Command) error {
	df := model.DataFile{LastID: watermark, Pending: make([]string, 0, len(deferred))}
	for _, c := range deferred {
		entry, err := EncodeCommand(c)
		if err != nil {
			return err
		}
		df.Pending = append(df.Pending, entry)
	}
	if err := yamlutil.AtomicWrite(s.path, df); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	return nil
}

type corruptFileError struct {
	err error
}

func (e *corruptFileError) Error() string { return "corrupt state file: " + e.err.Error() }
func (e *corruptFileError) Unwrap() error { return e.err }

func (s *Store) readDataFile() (model.DataFile, error) {
	var df model.DataFile
	content, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return df, nil
	}
	if err != nil {
		return df, fmt.Errorf("read %s: %w", s.path, err)
	}
	if err := yamlv3.Unmarshal(content, &df); err != nil {
		return df, &corruptFileError{err: err}
	}
	return df, nil
}
