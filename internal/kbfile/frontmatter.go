package kbfile

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// FrontMatter is the YAML front-matter block required at the top of every
// KB Markdown file. Title, Category, and CreatedAt are mandatory; the rest
// are optional. Extra carries any additional scalar metadata the agent
// attached, so round-tripping never drops caller-supplied fields.
type FrontMatter struct {
	Title       string                 `yaml:"title"`
	Category    string                 `yaml:"category"`
	CreatedAt   time.Time              `yaml:"created_at"`
	Subcategory string                 `yaml:"subcategory,omitempty"`
	Tags        []string               `yaml:"tags,omitempty"`
	Agent       string                 `yaml:"agent,omitempty"`
	Extra       map[string]interface{} `yaml:",inline"`
}

// Validate checks the mandatory fields are present.
func (m FrontMatter) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("front-matter: title is required")
	}
	if strings.TrimSpace(m.Category) == "" {
		return fmt.Errorf("front-matter: category is required")
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("front-matter: created_at is required")
	}
	return nil
}

// Render serializes the front-matter and body into a full Markdown
// document: a "---" delimited YAML block followed by the body text.
func Render(m FrontMatter, body string) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	yamlBytes, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("render front-matter: %w", err)
	}
	var b strings.Builder
	b.WriteString(delimiter)
	b.WriteByte('\n')
	b.Write(yamlBytes)
	b.WriteString(delimiter)
	b.WriteByte('\n')
	if body != "" {
		b.WriteByte('\n')
		b.WriteString(body)
	}
	return b.String(), nil
}

// Parse splits a rendered Markdown document into its front-matter and
// body. Returns an error if the document has no well-formed front-matter
// block.
func Parse(doc string) (FrontMatter, string, error) {
	var m FrontMatter
	lines := strings.Split(doc, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delimiter {
		return m, "", fmt.Errorf("parse front-matter: missing opening delimiter")
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			end = i
			break
		}
	}
	if end == -1 {
		return m, "", fmt.Errorf("parse front-matter: missing closing delimiter")
	}
	yamlBlock := strings.Join(lines[1:end], "\n")
	if err := yaml.Unmarshal([]byte(yamlBlock), &m); err != nil {
		return m, "", fmt.Errorf("parse front-matter: %w", err)
	}
	body := strings.TrimPrefix(strings.Join(lines[end+1:], "\n"), "\n")
	return m, body, nil
}
