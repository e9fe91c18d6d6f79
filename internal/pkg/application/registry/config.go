package registry

import (
	"io"

	yaml "gopkg.in/yaml.v2"
)

type TenantConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	SeedFiles []string `yaml:"seedFiles"`
}

type Config struct {
	Tenants []TenantConfig `yaml:"tenants"`
}

func LoadConfiguration(data io.Reader) (*Config, error) {

	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = yaml.Unmarshal(buf, &cfg)

	return cfg, err
}

// DefaultConfig returns a configuration with only the default tenant and no
// seed data.
func DefaultConfig() *Config {
	return &Config{
		Tenants: []TenantConfig{{ID: "default", Name: "default tenant"}},
	}
}
