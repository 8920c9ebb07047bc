package policy

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileSource reads policies from a YAML document of the form
//
//	policies:
//	  - id: user1
//	    limit: 5
//	    window: 5s
type FileSource struct {
	Path string
}

type fileDocument struct {
	Policies []Policy `yaml:"policies"`
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (fs *FileSource) Load(_ context.Context) ([]Policy, error) {
	data, err := os.ReadFile(fs.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return parseYAML(data)
}

func parseYAML(data []byte) ([]Policy, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return doc.Policies, nil
}
