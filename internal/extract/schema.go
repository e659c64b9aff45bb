package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
	"github.com/JakeFAU/mcp-directory-crawler/internal/extractapi"
	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
)

// Structured is the hosted extraction API.
type Structured interface {
	Extract(ctx context.Context, req extractapi.Request) ([]json.RawMessage, error)
}

const systemPrompt = "You extract facts about Model Context Protocol (MCP) servers from directory pages. " +
	"Only report what the page states. Leave fields empty rather than guessing."

const overviewSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "category": {"type": "string"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "githubUrl": {"type": "string"},
    "homepage": {"type": "string"},
    "stars": {"type": ["integer", "string", "null"]},
    "verified": {"type": ["boolean", "null"]},
    "install": {"type": "array", "items": {"type": "object", "properties": {
      "platform": {"type": "string"}, "command": {"type": "string"}}}},
    "content": {"type": "string"}
  }
}`

const toolsSchema = `{
  "type": "object",
  "properties": {
    "tools": {"type": "array", "items": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string"},
        "description": {"type": "string"},
        "example": {"type": "string"},
        "parameters": {"type": "array", "items": {"type": "object", "properties": {
          "name": {"type": "string"}, "type": {"type": "string"},
          "description": {"type": "string"}, "required": {"type": "boolean"}}}}
      }
    }}
  },
  "required": ["tools"]
}`

const apiSchema = `{
  "type": "object",
  "properties": {
    "clients": {"type": "array", "items": {"type": "object", "properties": {
      "name": {"type": "string"}, "url": {"type": "string"}}}},
    "install": {"type": "array", "items": {"type": "object", "properties": {
      "platform": {"type": "string"}, "command": {"type": "string"}}}},
    "content": {"type": "string"}
  }
}`

type sectionSpec struct {
	prompt string
	schema string
}

var sectionSpecs = map[crawler.Section]sectionSpec{
	crawler.SectionOverview: {
		prompt: "Extract the server name, description, category, tags, GitHub repository URL, homepage, " +
			"star count, whether it is verified, install commands per platform, and the main page text as content.",
		schema: overviewSchema,
	},
	crawler.SectionTools: {
		prompt: "List every tool the server exposes with its name, description, parameters and an example call.",
		schema: toolsSchema,
	},
	crawler.SectionAPI: {
		prompt: "Extract the compatible MCP clients, install or connection commands per platform, " +
			"and the API documentation text as content.",
		schema: apiSchema,
	},
}

// flexInt decodes numbers and human counters such as "1.2k".
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*n = flexInt(ParseCount(str))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = flexInt(f)
	return nil
}

type installItem struct {
	Platform string `json:"platform"`
	Command  string `json:"command"`
}

type schemaItem struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Category    string                     `json:"category"`
	Tags        []string                   `json:"tags"`
	GitHubURL   string                     `json:"githubUrl"`
	Homepage    string                     `json:"homepage"`
	Stars       flexInt                    `json:"stars"`
	Verified    *bool                      `json:"verified"`
	Install     []installItem              `json:"install"`
	Content     string                     `json:"content"`
	Tools       []crawler.Tool             `json:"tools"`
	Clients     []crawler.CompatibleClient `json:"clients"`
}

// SchemaExtractor asks the structured-extraction API for typed fields.
type SchemaExtractor struct {
	api    Structured
	logger *zap.Logger
}

// NewSchemaExtractor builds the structured strategy.
func NewSchemaExtractor(api Structured, logger *zap.Logger) *SchemaExtractor {
	return &SchemaExtractor{api: api, logger: logging.OrNop(logger).Named("extract.schema")}
}

// Name identifies the strategy in logs and metrics.
func (e *SchemaExtractor) Name() string { return "schema" }

// Extract requests the section's schema for in.URL.
func (e *SchemaExtractor) Extract(ctx context.Context, in crawler.ExtractInput) crawler.Result {
	spec, ok := sectionSpecs[in.Section]
	if !ok {
		return crawler.Empty()
	}
	items, err := e.api.Extract(ctx, extractapi.Request{
		URLs:         []string{in.URL},
		Prompt:       spec.prompt,
		SystemPrompt: systemPrompt,
		Schema:       json.RawMessage(spec.schema),
	})
	if err != nil {
		return crawler.Failed(fmt.Errorf("structured extract %s: %w", in.Section, err))
	}

	var fields crawler.Fields
	for i, raw := range items {
		var item schemaItem
		if err := json.Unmarshal(raw, &item); err != nil {
			e.logger.Warn("skipping undecodable item", zap.Int("item", i), zap.Error(err))
			continue
		}
		fields.Merge(item.fields())
	}
	fields.Tags = NormalizeTags(fields.Tags)
	fields.Tools = FilterToolNames(fields.Tools)
	if fields.IsEmpty() {
		e.logger.Info("structured extraction found nothing",
			zap.String("section", string(in.Section)),
			zap.String("url", in.URL),
		)
	}
	return crawler.OK(fields)
}

func (s schemaItem) fields() crawler.Fields {
	f := crawler.Fields{
		Name:          CleanText(s.Name),
		Description:   CleanText(s.Description),
		Category:      strings.ToLower(CleanText(s.Category)),
		Tags:          s.Tags,
		RepositoryURL: strings.TrimSpace(s.GitHubURL),
		Homepage:      strings.TrimSpace(s.Homepage),
		Verified:      s.Verified,
		Text:          strings.TrimSpace(s.Content),
		Tools:         s.Tools,
		Clients:       s.Clients,
	}
	if s.Stars > 0 {
		f.Stats = &crawler.RepoStats{Stars: int(s.Stars)}
	}
	if len(s.Install) > 0 {
		install := crawler.EmptyInstall()
		for _, it := range s.Install {
			platform := strings.ToLower(strings.TrimSpace(it.Platform))
			if _, known := install.Platforms[platform]; !known {
				platform = ClassifyCommand(it.Command + " ")
			}
			install.Set(platform, strings.TrimSpace(it.Command))
		}
		if !install.IsEmpty() {
			f.Install = &install
		}
	}
	return f
}
