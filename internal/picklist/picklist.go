// Package picklist imports markdown pick lists into task drafts. Operators
// write one `## Task N: name` section per job; frontmatter carries the
// fleet-wide defaults.
package picklist

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	"github.com/harrison/fleetd/internal/models"
)

// PickList is a parsed pick-list document: the fleet defaults from its
// frontmatter plus one task draft per section.
type PickList struct {
	MapID         string
	DefaultDevice string
	Drafts        []models.Task
}

// fleetConfig is the optional frontmatter block.
type fleetConfig struct {
	MapID         string `yaml:"map_id"`
	DefaultDevice string `yaml:"default_device"`
}

// Parser parses pick-list markdown.
type Parser struct {
	markdown goldmark.Markdown
}

// NewParser creates a pick-list Parser.
func NewParser() *Parser {
	return &Parser{
		markdown: goldmark.New(),
	}
}

var taskHeadingRegex = regexp.MustCompile(`^Task\s+(\d+):\s+(.+)$`)

// Parse reads a pick-list document and returns its task drafts. Sections
// whose heading does not match `Task N: name` are ignored; a matching
// section with invalid metadata fails the whole parse so a bad list never
// half-imports.
func (p *Parser) Parse(r io.Reader) (*PickList, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	list := &PickList{}
	content, frontmatter := extractFrontmatter(content)
	if frontmatter != nil {
		var cfg struct {
			Fleet *fleetConfig `yaml:"fleet"`
		}
		if err := yaml.Unmarshal(frontmatter, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		if cfg.Fleet != nil {
			list.MapID = cfg.Fleet.MapID
			list.DefaultDevice = cfg.Fleet.DefaultDevice
		}
	}

	doc := p.markdown.Parser().Parse(text.NewReader(content))
	drafts, err := p.extractDrafts(doc, content, list)
	if err != nil {
		return nil, err
	}
	list.Drafts = drafts
	return list, nil
}

// extractDrafts walks the document's top-level blocks, starting a new draft
// at each `## Task N:` heading and accumulating section text until the next
// level-2 heading.
func (p *Parser) extractDrafts(doc ast.Node, source []byte, list *PickList) ([]models.Task, error) {
	var drafts []models.Task
	var current *models.Task
	var section strings.Builder

	flush := func() error {
		if current == nil {
			return nil
		}
		if err := applyMetadata(current, section.String(), list); err != nil {
			return fmt.Errorf("task %q: %w", current.Name, err)
		}
		drafts = append(drafts, *current)
		current = nil
		section.Reset()
		return nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if heading, ok := n.(*ast.Heading); ok && heading.Level == 2 {
			if err := flush(); err != nil {
				return nil, err
			}
			headingText := extractText(heading, source)
			matches := taskHeadingRegex.FindStringSubmatch(headingText)
			if len(matches) != 3 {
				continue
			}
			current = &models.Task{
				TaskID:    models.NewTaskID(),
				Name:      strings.TrimSpace(matches[2]),
				Status:    models.StatusCreated,
				CreatedAt: time.Now(),
			}
			continue
		}
		if current != nil {
			section.WriteString(blockText(n, source))
			section.WriteString("\n")
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return drafts, nil
}

var (
	typeRegex   = regexp.MustCompile(`\*\*Type\*\*:\s*(\S+)`)
	deviceRegex = regexp.MustCompile(`\*\*Device\*\*:\s*(\S+)`)
	startRegex  = regexp.MustCompile(`\*\*Start\*\*:\s*(\S+)`)
	goalRegex   = regexp.MustCompile(`\*\*Goal\*\*:\s*(\S+)`)
	dropRegex   = regexp.MustCompile(`\*\*Drop\*\*:\s*(\S+)`)
	mapRegex    = regexp.MustCompile(`\*\*Map\*\*:\s*(\S+)`)
)

// applyMetadata fills a draft from its section's annotations, falling back
// to the list-wide defaults for device and map.
func applyMetadata(task *models.Task, content string, list *PickList) error {
	task.Type = models.TaskPicking
	if matches := typeRegex.FindStringSubmatch(content); len(matches) > 1 {
		task.Type = models.TaskType(strings.ToLower(matches[1]))
	}

	task.AssignedDevice = list.DefaultDevice
	if matches := deviceRegex.FindStringSubmatch(content); len(matches) > 1 {
		task.AssignedDevice = matches[1]
	}

	task.MapID = list.MapID
	if matches := mapRegex.FindStringSubmatch(content); len(matches) > 1 {
		task.MapID = matches[1]
	}

	if matches := startRegex.FindStringSubmatch(content); len(matches) > 1 {
		task.StartZone = matches[1]
	}
	if matches := goalRegex.FindStringSubmatch(content); len(matches) > 1 {
		task.GoalZone = matches[1]
	}
	if matches := dropRegex.FindStringSubmatch(content); len(matches) > 1 {
		task.DropZone = matches[1]
	}

	return task.Validate()
}

// extractText extracts plain text from an AST node's inline children.
func extractText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if text, ok := c.(*ast.Text); ok {
			buf.Write(text.Segment.Value(source))
		}
	}
	return buf.String()
}

// blockText renders a block node's source lines, recursing through list
// items and other containers.
func blockText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(source))
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() == ast.TypeBlock {
			buf.WriteString(blockText(c, source))
		}
	}
	return buf.String()
}

// extractFrontmatter splits YAML frontmatter from markdown content.
// Returns the body and the frontmatter bytes, or the original content and
// nil when no frontmatter is present.
func extractFrontmatter(content []byte) ([]byte, []byte) {
	lines := bytes.Split(content, []byte("\n"))
	if len(lines) < 3 || !bytes.Equal(bytes.TrimSpace(lines[0]), []byte("---")) {
		return content, nil
	}
	for i := 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte("---")) {
			frontmatter := bytes.Join(lines[1:i], []byte("\n"))
			body := bytes.Join(lines[i+1:], []byte("\n"))
			return body, frontmatter
		}
	}
	return content, nil
}
