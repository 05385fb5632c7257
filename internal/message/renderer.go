// Package message renders per-client notice bodies from the plain-text
// template bound to each category. Placeholders use the {FieldName} form
// and resolve against client record fields.
package message

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"courtnotify/internal/roster"
	"courtnotify/internal/selection"
)

// TemplateNotFoundError means no template file is bound to a category.
type TemplateNotFoundError struct {
	Category string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("message: no template configured for category %q", e.Category)
}

// RenderError means a template references a placeholder the record schema
// does not provide. This is a template defect, not a data problem.
type RenderError struct {
	Category    string
	Placeholder string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("message: template for %q references unknown placeholder {%s}", e.Category, e.Placeholder)
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z][A-Za-z0-9_]*)\}`)

// Renderer maps categories to template files and substitutes record
// fields. Template files are read once and cached, so rendering is pure
// after the first call per category.
type Renderer struct {
	paths map[string]string

	mu    sync.Mutex
	cache map[string]string
}

// NewRenderer builds a renderer over a category -> template path map.
func NewRenderer(paths map[string]string) *Renderer {
	return &Renderer{
		paths: paths,
		cache: make(map[string]string, len(paths)),
	}
}

// Render produces the message body for one recipient.
func (r *Renderer) Render(rec selection.Recipient) (string, error) {
	tmpl, err := r.template(rec.Category)
	if err != nil {
		return "", err
	}

	fields := recordFields(rec.Record)

	// Placeholders are validated against the template text, not the
	// substituted output: field values may themselves carry brace
	// tokens, and those are data, not placeholders.
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := fields[m[1]]; !ok {
			return "", &RenderError{Category: rec.Category, Placeholder: m[1]}
		}
	}

	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		return fields[m[1:len(m)-1]]
	})
	return out, nil
}

// Preload reads and caches the templates for the given categories so
// defects surface before any dispatch happens.
func (r *Renderer) Preload(categories []string) error {
	for _, cat := range categories {
		if _, err := r.template(cat); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) template(category string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tmpl, ok := r.cache[category]; ok {
		return tmpl, nil
	}
	path, ok := r.paths[category]
	if !ok {
		return "", &TemplateNotFoundError{Category: category}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("message: read template for %q: %w", category, err)
	}
	tmpl := strings.TrimSpace(string(data))
	if tmpl == "" {
		return "", fmt.Errorf("message: template file for %q is empty: %s", category, path)
	}
	r.cache[category] = tmpl
	return tmpl, nil
}

// recordFields exposes the substitutable record fields by placeholder
// name. The names mirror the dataset columns.
func recordFields(rec roster.Record) map[string]string {
	return map[string]string{
		"Client":          rec.Client,
		"Contact":         rec.RawContact,
		"NextHearingDate": rec.NextHearingDate.Format(roster.DateLayout),
		"Category":        rec.Category,
		"TypRnRy":         rec.CaseType,
		"Parties":         rec.Parties,
	}
}
