package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/markdave123-py/Structa/internal/core/strategy"
)

// Profile is a named strategy from a profile file. Fields a profile leaves
// out keep their strategy.DefaultOptions value.
//
//	profiles:
//	  - name: titles
//	    chunking_strategy: by_title
//	  - name: similarity
//	    chunking_strategy: by_similarity
//	    similarity_threshold: ${SIMILARITY}
type Profile struct {
	Name    string           `yaml:"name"`
	Options strategy.Options `yaml:",inline"`
}

type profileFile struct {
	Profiles []yaml.Node `yaml:"profiles"`
}

// LoadProfiles reads a profile file. Environment variables are expanded
// before parsing, unknown keys are rejected and every profile is validated.
func LoadProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return ParseProfiles(data)
}

func ParseProfiles(data []byte) ([]Profile, error) {
	var file profileFile
	if err := strictDecode([]byte(os.ExpandEnv(string(data))), &file); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if len(file.Profiles) == 0 {
		return nil, errors.New("parse profiles: no profiles defined")
	}

	seen := make(map[string]bool, len(file.Profiles))
	profiles := make([]Profile, 0, len(file.Profiles))
	for i := range file.Profiles {
		raw, err := yaml.Marshal(&file.Profiles[i])
		if err != nil {
			return nil, fmt.Errorf("profile %d: %w", i+1, err)
		}

		p := Profile{Options: strategy.DefaultOptions()}
		if err := strictDecode(raw, &p); err != nil {
			return nil, fmt.Errorf("profile %d: %w", i+1, err)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("profile %d: name is required", i+1)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("profile %q: defined twice", p.Name)
		}
		seen[p.Name] = true

		if _, err := strategy.New(p.Options); err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Select returns the named profiles in the order given, or all of them when
// names is empty.
func Select(profiles []Profile, names ...string) ([]Profile, error) {
	if len(names) == 0 {
		return profiles, nil
	}
	byName := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}
	out := make([]Profile, 0, len(names))
	for _, n := range names {
		p, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown profile %q", n)
		}
		out = append(out, p)
	}
	return out, nil
}

func strictDecode(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
