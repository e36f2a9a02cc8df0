package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is a prompt loaded from disk.
type File struct {
	System   string            `yaml:"system"`
	Template string            `yaml:"template"`
	Vars     map[string]string `yaml:"vars"`
}

// LoadFile reads a .yaml prompt file (system, template, vars) or any other
// file as a bare template.
func LoadFile(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("prompt file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var f File
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return File{}, fmt.Errorf("prompt file %s: %w", path, err)
		}
		if strings.TrimSpace(f.Template) == "" {
			return File{}, fmt.Errorf("prompt file %s: template is empty", path)
		}
		return f, nil
	}
	return File{Template: string(b)}, nil
}
