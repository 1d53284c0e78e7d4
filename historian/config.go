package historian

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FindFirstConfig holds credentials for the bookmark service.
type FindFirstConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type SyncSettings struct {
	BatchSize int `yaml:"batch_size"`
	// UseDomainTags is a pointer so an absent key keeps the default (true).
	UseDomainTags *bool  `yaml:"use_domain_tags"`
	SourceName    string `yaml:"source_name"`
}

// InputsConfig accepts either:
//  1. scalar form:
//     inputs: ./sample/alerts.json
//  2. list form:
//     inputs:
//     - ./export-a.json
//     - ./export-b.json
type InputsConfig struct {
	Paths []string
}

func (c *InputsConfig) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.ScalarNode:
		p := strings.TrimSpace(value.Value)
		if p != "" {
			c.Paths = []string{p}
		}
		return nil
	case yaml.SequenceNode:
		var paths []string
		if err := value.Decode(&paths); err != nil {
			return err
		}
		out := make([]string, 0, len(paths))
		for _, p := range paths {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		c.Paths = out
		return nil
	default:
		// ignore other kinds
		return nil
	}
}

type FileConfig struct {
	StateDB      string `yaml:"state_db"`
	ArtifactsDir string `yaml:"artifacts_dir"`
	ReportsDir   string `yaml:"reports_dir"`

	// Source is the checkpoint scope (mailbox folder or export name).
	Source string `yaml:"source"`

	Inputs InputsConfig `yaml:"inputs"`
	Debug  bool         `yaml:"debug"`

	FindFirst FindFirstConfig `yaml:"findfirst"`
	Sync      SyncSettings    `yaml:"sync"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
