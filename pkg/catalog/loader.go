package catalog

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk catalog layout.
type File struct {
	Checks []CheckSpec `yaml:"checks"`
}

// Load reads a YAML catalog file and builds a Catalog from it.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML catalog data. ${VAR} references are replaced with
// environment values before decoding.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal([]byte(interpolateEnvVars(string(data))), &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.Checks)
}

// Marshal renders a catalog in the file layout.
func Marshal(c *Catalog) ([]byte, error) {
	return yaml.Marshal(File{Checks: c.Checks()})
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}
