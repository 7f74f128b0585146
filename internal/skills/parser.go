package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ManifestFilename is the fixed filename a registry build looks for
	// when walking a skills root.
	ManifestFilename = "SKILL.md"

	frontmatterDelimiter = "---"
)

var knownManifestKeys = map[string]bool{
	"name":           true,
	"description":    true,
	"client_class":   true,
	"default_method": true,
	"executable":     true,
	"related_tools":  true,
	"requires":       true,
}

// ManifestParseError localizes a parse failure to one file. A registry
// build excludes the offending manifest rather than failing outright.
type ManifestParseError struct {
	Path string
	Err  error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("parse manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestParseError) Unwrap() error { return e.Err }

// ParseManifestFile reads and parses a manifest file from disk.
func ParseManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestParseError{Path: path, Err: err}
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, &ManifestParseError{Path: path, Err: err}
	}
	m.Path = path
	return m, nil
}

// ParseManifest parses manifest file content into a Manifest. Parsing is
// pure and deterministic: it performs no I/O and always returns the same
// result for the same bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	header, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{}
	if len(bytes.TrimSpace(header)) > 0 {
		if err := yaml.Unmarshal(header, &raw); err != nil {
			return nil, fmt.Errorf("parse header: %w", err)
		}
	}

	var typed struct {
		Name          string    `yaml:"name"`
		Description   string    `yaml:"description"`
		ClientClass   string    `yaml:"client_class"`
		DefaultMethod string    `yaml:"default_method"`
		Executable    *bool     `yaml:"executable"`
		RelatedTools  []string  `yaml:"related_tools"`
		Requires      *Requires `yaml:"requires"`
	}
	if err := yaml.Unmarshal(header, &typed); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	if typed.Name == "" {
		return nil, fmt.Errorf("manifest is missing required key %q", "name")
	}
	if err := validateName(typed.Name); err != nil {
		return nil, err
	}
	if typed.Description == "" {
		return nil, fmt.Errorf("manifest is missing required key %q", "description")
	}

	executable := true
	if typed.Executable != nil {
		executable = *typed.Executable
	}

	extra := map[string]any{}
	for k, v := range raw {
		if !knownManifestKeys[k] {
			extra[k] = v
		}
	}

	return &Manifest{
		Name:          typed.Name,
		Description:   typed.Description,
		ClientClass:   typed.ClientClass,
		DefaultMethod: typed.DefaultMethod,
		Executable:    executable,
		RelatedTools:  typed.RelatedTools,
		Requires:      typed.Requires,
		Extra:         extra,
		Body:          string(body),
	}, nil
}

// splitFrontmatter separates the header block from the body. The file must
// begin with a line containing exactly "---"; the header runs until the
// next such line. The lines after that closing delimiter, rejoined with
// "\n", are the body; a trailing newline is not kept.
func splitFrontmatter(data []byte) (header, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty manifest")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("manifest missing opening %q delimiter", frontmatterDelimiter)
	}

	var headerLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == frontmatterDelimiter {
			closed = true
			break
		}
		headerLines = append(headerLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("manifest missing closing %q delimiter", frontmatterDelimiter)
	}
	if err := detectDuplicateKeys(headerLines); err != nil {
		return nil, nil, err
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan manifest: %w", err)
	}

	return []byte(strings.Join(headerLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

// detectDuplicateKeys rejects a header that sets the same top-level key
// twice. yaml.Unmarshal silently keeps the last occurrence, which would
// hide an authoring mistake in a manifest someone is hand-editing.
func detectDuplicateKeys(headerLines []string) error {
	seen := map[string]bool{}
	for _, line := range headerLines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" || trimmed[0] == '-' || trimmed != line {
			continue // indented: a list item or nested value, not a top-level key
		}
		idx := strings.Index(trimmed, ":")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:idx])
		if seen[key] {
			return fmt.Errorf("duplicate manifest key %q", key)
		}
		seen[key] = true
	}
	return nil
}

func validateName(name string) error {
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("manifest name must be lowercase alphanumeric with hyphens: got %q", name)
		}
	}
	return nil
}
