package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/platinummonkey/spoke-sso/pkg/sso"
	"gopkg.in/yaml.v3"
)

// providersFile is the document read by LoadProvidersFile
type providersFile struct {
	Providers []*sso.ProviderConfig `yaml:"providers"`
}

// LoadProvidersFile reads global and tenant provider configs from a YAML
// file. ${VAR} references are expanded from the environment before parsing,
// so client secrets can stay out of the file.
func LoadProvidersFile(path string) ([]*sso.ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	providers, err := ParseProviders(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return providers, nil
}

// ParseProviders parses and validates a providers document
func ParseProviders(data []byte) ([]*sso.ProviderConfig, error) {
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	var doc providersFile
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse providers: %w", err)
	}

	for i, p := range doc.Providers {
		if p == nil {
			return nil, fmt.Errorf("provider %d is empty", i)
		}
		p.ProviderKey = sso.NormalizeProviderKey(p.ProviderKey)
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
	}
	return doc.Providers, nil
}
