package manifest

import (
	"encoding/json"
	"fmt"
	"os"
)

// ProtocolVersion is the MCP revision answered during initialize.
const ProtocolVersion = "2024-11-05"

// Version is stamped at build time with -ldflags "-X".
var Version = "0.1.0"

// Manifest identifies the server to clients.
type Manifest struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Description  string `json:"description,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Info is the serverInfo member of the initialize result.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Default returns the built-in manifest.
func Default() Manifest {
	return Manifest{
		Name:        "pgmcp",
		Version:     Version,
		Description: "Read-only PostgreSQL access over the Model Context Protocol",
	}
}

// Info returns the name and version pair.
func (m Manifest) Info() Info {
	return Info{Name: m.Name, Version: m.Version}
}

// Load reads a manifest from disk. Fields left empty in the file keep their
// default values.
func Load(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}

	mf := Default()
	if err := json.Unmarshal(raw, &mf); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if mf.Name == "" {
		mf.Name = Default().Name
	}
	if mf.Version == "" {
		mf.Version = Version
	}

	return mf, nil
}
