package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/desertthunder/cmdarr/internal/models"
	"github.com/desertthunder/cmdarr/internal/shared"
)

// CommandSeed is the YAML form of a command definition.
type CommandSeed struct {
	ID       string         `yaml:"id"`
	Kind     string         `yaml:"kind"`
	Enabled  *bool          `yaml:"enabled"`
	Schedule string         `yaml:"schedule"`
	Timezone string         `yaml:"timezone"`
	Timeout  time.Duration  `yaml:"timeout"`
	Config   map[string]any `yaml:"config"`
}

type seedFile struct {
	Commands []CommandSeed `yaml:"commands"`
}

// LoadCommandSeeds reads command definitions from a YAML file.
func LoadCommandSeeds(path string) ([]*models.CommandDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return ParseCommandSeeds(f)
}

// ParseCommandSeeds decodes and validates YAML command definitions. Unknown keys are rejected.
func ParseCommandSeeds(r io.Reader) ([]*models.CommandDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file seedFile
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: seed file: %w", shared.ErrInvalidInput, err)
	}

	seen := make(map[string]bool, len(file.Commands))
	defs := make([]*models.CommandDefinition, 0, len(file.Commands))
	for i, seed := range file.Commands {
		if seen[seed.ID] {
			return nil, fmt.Errorf("%w: duplicate command id %q", shared.ErrInvalidInput, seed.ID)
		}
		seen[seed.ID] = true

		def, err := seed.Definition()
		if err != nil {
			return nil, fmt.Errorf("command #%d: %w", i+1, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Definition converts the seed into a validated CommandDefinition. Commands are enabled unless stated otherwise.
func (s CommandSeed) Definition() (*models.CommandDefinition, error) {
	config := s.Config
	if config == nil {
		config = map[string]any{}
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("%w: config of %s: %w", shared.ErrInvalidInput, s.ID, err)
	}

	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}

	def := &models.CommandDefinition{
		ID:           s.ID,
		Kind:         models.CommandKind(s.Kind),
		Enabled:      enabled,
		ScheduleCron: s.Schedule,
		Timezone:     s.Timezone,
		Timeout:      s.Timeout,
		Config:       raw,
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// ImportSeeds upserts defs and returns how many were written.
func ImportSeeds(ctx context.Context, repo *CommandRepository, defs []*models.CommandDefinition) (int, error) {
	for i, def := range defs {
		if err := repo.Upsert(ctx, def); err != nil {
			return i, err
		}
	}
	return len(defs), nil
}
