package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
)

const (
	seoSystemPrompt      = "You are an SEO expert. Return only valid JSON."
	contentSystemPrompt  = "You are an expert content writer specializing in SEO and local business marketing. Write engaging, informative blog posts that provide real value."
	altTextSystemPrompt  = "You are an accessibility expert."
	taxonomySystemPrompt = "You are a WordPress taxonomy expert. Return only valid JSON."

	altTextMaxTokens = 50
)

var promptFuncs = template.FuncMap{"join": strings.Join}

var (
	seoTemplate      = template.Must(template.New("seo").Funcs(promptFuncs).Parse(seoUserPrompt))
	contentTemplate  = template.Must(template.New("content").Funcs(promptFuncs).Parse(contentUserPrompt))
	altTextTemplate  = template.Must(template.New("alt-text").Funcs(promptFuncs).Parse(altTextUserPrompt))
	taxonomyTemplate = template.Must(template.New("taxonomy").Funcs(promptFuncs).Parse(taxonomyUserPrompt))
)

// promptData is what every prompt template sees.
type promptData struct {
	Item          WorkItem
	SEO           SEOMetadata
	MinWords      int
	MaxWords      int
	MinLinks      int
	MaxLinks      int
	InternalLinks []string
	Headings      []string
	AltText       string
	AltTextMax    int
}

// ContentGenerator runs the four generation steps for a work item.
type ContentGenerator struct {
	completer Completer
	settings  *Settings
	logger    *slog.Logger
}

func NewContentGenerator(completer Completer, settings *Settings, logger *slog.Logger) *ContentGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentGenerator{completer: completer, settings: settings, logger: logger}
}

// GenerateSEOMetadata asks for title, meta title/description, slug and keywords.
func (g *ContentGenerator) GenerateSEOMetadata(ctx context.Context, item WorkItem) (*SEOMetadata, error) {
	prompt, err := renderPrompt(seoTemplate, g.promptData(item))
	if err != nil {
		return nil, err
	}

	text, err := g.completer.Complete(ctx, CompletionRequest{
		Purpose:     "seo",
		System:      seoSystemPrompt,
		User:        prompt,
		Temperature: g.settings.Generation.Temperature.SEO,
		JSON:        true,
		Schema:      seoSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("generating SEO metadata: %w", err)
	}
	g.logger.Debug("generated SEO metadata", "response", text)

	var seo SEOMetadata
	if err := json.Unmarshal([]byte(cleanJSONResponse(text)), &seo); err != nil {
		return nil, fmt.Errorf("parsing SEO metadata: %w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(seo.Title) == "" {
		return nil, fmt.Errorf("parsing SEO metadata: missing title: %w", ErrMalformedResponse)
	}
	if seo.MetaTitle == "" {
		seo.MetaTitle = seo.Title
	}
	return &seo, nil
}

// GenerateContent writes the HTML body and analyzes it.
func (g *ContentGenerator) GenerateContent(ctx context.Context, item WorkItem, seo *SEOMetadata) (*GeneratedContent, error) {
	data := g.promptData(item)
	data.SEO = *seo
	prompt, err := renderPrompt(contentTemplate, data)
	if err != nil {
		return nil, err
	}

	text, err := g.completer.Complete(ctx, CompletionRequest{
		Purpose:     "content",
		System:      contentSystemPrompt,
		User:        prompt,
		Temperature: g.settings.Generation.Temperature.Content,
		MaxTokens:   g.settings.Generation.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	content, err := analyzeContent(cleanJSONResponse(text), item)
	if err != nil {
		return nil, err
	}
	g.logger.Info("generated content",
		"words", content.WordCount,
		"headings", len(content.Headings),
		"internal_links", len(content.InternalLinks),
		"outbound_link", content.OutboundLink)

	if err := g.checkLimits(item, &content); err != nil {
		return nil, err
	}
	return &content, nil
}

// checkLimits warns about, or with enforce_limits rejects, content outside
// the configured word and internal link ranges.
func (g *ContentGenerator) checkLimits(item WorkItem, content *GeneratedContent) error {
	limits := g.settings.Content
	var problems []string
	if content.WordCount < limits.MinWordCount || content.WordCount > limits.MaxWordCount {
		problems = append(problems, fmt.Sprintf("word count %d outside %d-%d", content.WordCount, limits.MinWordCount, limits.MaxWordCount))
	}
	if len(g.internalLinks(item)) > 0 && len(content.InternalLinks) < limits.MinInternalLinks {
		problems = append(problems, fmt.Sprintf("%d internal links, want at least %d", len(content.InternalLinks), limits.MinInternalLinks))
	}
	if len(problems) == 0 {
		return nil
	}
	if limits.EnforceLimits {
		return fmt.Errorf("generated content rejected: %s", strings.Join(problems, "; "))
	}
	g.logger.Warn("generated content outside configured limits", "topic", item.Topic, "problems", problems)
	return nil
}

// GenerateAltText returns a short image description.
func (g *ContentGenerator) GenerateAltText(ctx context.Context, item WorkItem) (string, error) {
	prompt, err := renderPrompt(altTextTemplate, g.promptData(item))
	if err != nil {
		return "", err
	}

	text, err := g.completer.Complete(ctx, CompletionRequest{
		Purpose:     "alt-text",
		System:      altTextSystemPrompt,
		User:        prompt,
		Temperature: g.settings.Generation.Temperature.AltText,
		MaxTokens:   altTextMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generating alt text: %w", err)
	}

	alt := cleanAltText(text, g.settings.Content.AltTextMaxLength)
	g.logger.Debug("generated alt text", "alt_text", alt)
	return alt, nil
}

// GenerateTaxonomy suggests WordPress categories and tags.
func (g *ContentGenerator) GenerateTaxonomy(ctx context.Context, item WorkItem, content *GeneratedContent) (categories, tags []string, err error) {
	data := g.promptData(item)
	data.Headings = firstN(content.Headings, 3)
	prompt, err := renderPrompt(taxonomyTemplate, data)
	if err != nil {
		return nil, nil, err
	}

	text, err := g.completer.Complete(ctx, CompletionRequest{
		Purpose:     "taxonomy",
		System:      taxonomySystemPrompt,
		User:        prompt,
		Temperature: g.settings.Generation.Temperature.Taxonomy,
		JSON:        true,
		Schema:      taxonomySchema,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("generating taxonomy: %w", err)
	}

	var taxonomy struct {
		Categories []string `json:"categories"`
		Tags       []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(cleanJSONResponse(text)), &taxonomy); err != nil {
		return nil, nil, fmt.Errorf("parsing taxonomy: %w: %v", ErrMalformedResponse, err)
	}
	if taxonomy.Categories == nil {
		taxonomy.Categories = []string{}
	}
	if taxonomy.Tags == nil {
		taxonomy.Tags = []string{}
	}
	return taxonomy.Categories, taxonomy.Tags, nil
}

func (g *ContentGenerator) promptData(item WorkItem) promptData {
	c := g.settings.Content
	return promptData{
		Item:          item,
		MinWords:      c.MinWordCount,
		MaxWords:      c.MaxWordCount,
		MinLinks:      c.MinInternalLinks,
		MaxLinks:      c.MaxInternalLinks,
		InternalLinks: g.internalLinks(item),
		AltTextMax:    c.AltTextMaxLength,
	}
}

func (g *ContentGenerator) internalLinks(item WorkItem) []string {
	if !g.settings.Content.EnableInternalLinking {
		return nil
	}
	return item.InternalURLs
}

func renderPrompt(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func firstN(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[:n]
}
