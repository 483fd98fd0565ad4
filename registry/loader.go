package registry

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vitwit/chainpay/types"
)

type fileConfig struct {
	Networks []types.NetworkConfig `yaml:"networks"`
}

// LoadFile reads a YAML network file and builds a Registry from it.
// ${VAR} references are expanded from the environment so RPC credentials can
// stay out of the file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.ErrConfigError, fmt.Sprintf("failed to read networks file %s", path), err)
	}
	return Load(bytes.NewReader(data))
}

// Load decodes networks from YAML and builds a Registry.
func Load(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, types.WrapError(types.ErrConfigError, "failed to read networks", err)
	}

	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, types.WrapError(types.ErrConfigError, "failed to parse networks", err)
	}

	return New(cfg.Networks)
}
