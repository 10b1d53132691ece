package convert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jbeekman/elf2sgxs/internal/layout"
)

// Config carries the named conversion options from §6: SSA frame
// size in pages, heap and stack byte counts, and the debug flag.
type Config struct {
	SSAFrameSize uint32 `yaml:"ssa_frame_size"`
	HeapSize     uint64 `yaml:"heap_size"`
	StackSize    uint64 `yaml:"stack_size"`
	Debug        bool   `yaml:"debug"`
}

// DefaultConfig returns the conversion defaults used when no config
// file and no overriding flags are given.
func DefaultConfig() Config {
	return Config{
		SSAFrameSize: 1,
		HeapSize:     0x100000,
		StackSize:    0x100000,
		Debug:        false,
	}
}

// LoadConfigFile reads a YAML config file and merges it over the
// defaults. An empty path returns the defaults unchanged.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) layoutConfig() layout.Config {
	return layout.Config{
		SSAFrameSize: c.SSAFrameSize,
		HeapSize:     c.HeapSize,
		StackSize:    c.StackSize,
		Debug:        c.Debug,
	}
}
