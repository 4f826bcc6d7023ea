// Package homepage imports bookmarks from a Homepage (gethomepage.dev)
// bookmarks.yaml file.
package homepage

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/marks/internal/utils"
)

// MaxFileSize bounds what Parse reads.
const MaxFileSize = 1 << 20

var templateVar = regexp.MustCompile(`\{\{[^}]+\}\}`)

// Parse reads and decodes a bookmarks.yaml document.
func Parse(r io.Reader) (BookmarksConfig, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read bookmarks: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("bookmarks file exceeds %d bytes", MaxFileSize)
	}

	// Strip Homepage template variables ({{HOMEPAGE_VAR_...}})
	data = stripTemplateVariables(data)

	var config BookmarksConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse bookmarks yaml: %w", err)
	}
	return config, nil
}

// LoadFile parses the bookmarks.yaml at path.
func LoadFile(path string) (BookmarksConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bookmarks file: %w", err)
	}
	defer utils.Close(f)
	return Parse(f)
}

// stripTemplateVariables removes Homepage template variables from YAML
// Example: {{HOMEPAGE_VAR_ADGUARD_USER}} -> ""
func stripTemplateVariables(data []byte) []byte {
	return templateVar.ReplaceAll(data, []byte(`""`))
}
