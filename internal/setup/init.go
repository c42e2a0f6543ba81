// Package setup creates a storebridge data directory.
package setup

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/storebridge/internal/config"
	"github.com/msageha/storebridge/internal/model"
	"github.com/msageha/storebridge/internal/state"
	atomicyaml "github.com/msageha/storebridge/internal/yaml"
	"github.com/msageha/storebridge/templates"
)

// DefaultDirName is the data directory name the CLI searches for.
const DefaultDirName = ".storebridge"

// Options are values written into the generated config.yaml.
type Options struct {
	Token string
	Sink  string
}

// Run initializes dataDir. It fails if dataDir already holds a config.yaml.
func Run(dataDir string, opts Options) error {
	base, err := filepath.Abs(dataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if _, err := os.Stat(filepath.Join(base, config.FileName)); err == nil {
		return fmt.Errorf("%s already initialized", base)
	}

	for _, d := range []string{"state", "locks", "logs", atomicyaml.QuarantineDir} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if err := copyTemplateFile("dashboard.md", filepath.Join(base, "dashboard.md")); err != nil {
		return err
	}
	if err := copyTemplateFile("roster.txt", filepath.Join(base, config.DefaultRosterFile)); err != nil {
		return err
	}

	cfgData, err := generateConfig(opts)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if opts.Token != "" {
		if _, err := config.Parse(cfgData); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(base, config.FileName), cfgData, 0600); err != nil {
		return fmt.Errorf("write %s: %w", config.FileName, err)
	}

	if err := state.NewStore(base).Save(0, nil); err != nil {
		return fmt.Errorf("write %s: %w", state.DataFileName, err)
	}
	if err := writeMetrics(filepath.Join(base, "state", "metrics.yaml")); err != nil {
		return fmt.Errorf("write metrics.yaml: %w", err)
	}
	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// generateConfig fills opts into the config template, keeping its comments.
func generateConfig(opts Options) ([]byte, error) {
	data, err := fs.ReadFile(templates.FS, config.FileName)
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var doc yamlv3.Node
	if err := yamlv3.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}
	if opts.Token != "" {
		if err := setScalar(&doc, opts.Token, "store", "token"); err != nil {
			return nil, err
		}
	}
	if opts.Sink != "" {
		if err := setScalar(&doc, opts.Sink, "host", "sink"); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	enc := yamlv3.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setScalar(doc *yamlv3.Node, value string, path ...string) error {
	if doc.Kind != yamlv3.DocumentNode || len(doc.Content) == 0 {
		return errors.New("config template is empty")
	}
	node := doc.Content[0]
	for _, key := range path {
		next := lookup(node, key)
		if next == nil {
			return fmt.Errorf("config template has no %q key", key)
		}
		node = next
	}
	node.Kind = yamlv3.ScalarNode
	node.Tag = "!!str"
	node.Style = yamlv3.DoubleQuotedStyle
	node.Value = value
	return nil
}

func lookup(mapping *yamlv3.Node, key string) *yamlv3.Node {
	if mapping.Kind != yamlv3.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func writeMetrics(path string) error {
	m := model.Metrics{
		SchemaVersion: atomicyaml.CurrentSchemaVersion,
		FileType:      atomicyaml.FileTypeMetrics,
	}
	return atomicyaml.AtomicWrite(path, m)
}
