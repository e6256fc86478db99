package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"ink2md/internal/logger"
)

// Template is a named prompt with {variable} placeholders.
type Template struct {
	Name        string    `yaml:"name" json:"name"`
	Content     string    `yaml:"content" json:"content"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Category    string    `yaml:"category" json:"category"`
	Variables   []string  `yaml:"-" json:"variables"`
	Builtin     bool      `yaml:"-" json:"builtin"`
	CreatedAt   time.Time `yaml:"created_at" json:"created_at"`
	ModifiedAt  time.Time `yaml:"modified_at" json:"modified_at"`
}

// ValidationResult reports problems with a template body.
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Variables []string `json:"variables"`
	Errors    []string `json:"errors,omitempty"`
}

type templateFile struct {
	Templates []Template `yaml:"templates"`
}

var (
	placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)
	namePattern        = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)
)

// Resolver maps template names to rendered prompt text. Built-in templates
// are fixed; custom templates live in their own namespace and are persisted
// to a YAML file.
type Resolver struct {
	mu       sync.RWMutex
	builtins map[string]Template
	custom   map[string]Template
	path     string
	now      func() time.Time
	log      zerolog.Logger
}

// NewResolver loads custom templates from path. A missing file is not an
// error; an empty path keeps custom templates in memory only.
func NewResolver(path string) (*Resolver, error) {
	r := &Resolver{
		builtins: make(map[string]Template, len(builtinTemplates)),
		custom:   map[string]Template{},
		path:     path,
		now:      time.Now,
		log:      logger.WithComponent("prompt"),
	}
	for _, t := range builtinTemplates {
		t.Builtin = true
		t.Variables = Variables(t.Content)
		r.builtins[t.Name] = t
	}

	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) load() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read prompt templates %s: %w", r.path, err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse prompt templates %s: %w", r.path, err)
	}
	for _, t := range file.Templates {
		if _, clash := r.builtins[t.Name]; clash {
			r.log.Warn().Str("template", t.Name).Msg("Ignoring custom template that shadows a built-in")
			continue
		}
		t.Variables = Variables(t.Content)
		if t.Category == "" {
			t.Category = categoryOf(t.Name)
		}
		r.custom[t.Name] = t
	}
	r.log.Debug().Int("custom_templates", len(r.custom)).Msg("Loaded prompt templates")
	return nil
}

// Render resolves name and substitutes vars. It never fails: unknown names
// fall back to their category default and then to GenericPrompt, and
// placeholders without a value are left in place.
func (r *Resolver) Render(name string, vars map[string]string) string {
	content, resolved := r.resolve(name)
	if resolved != name {
		r.log.Debug().
			Str("template", name).
			Str("resolved", resolved).
			Msg("Template not found, using fallback")
	}

	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(content, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := vars[key]; ok {
			return v
		}
		missing = append(missing, key)
		return m
	})

	if len(missing) > 0 {
		r.log.Warn().
			Str("template", resolved).
			Strs("missing", missing).
			Msg("Template rendered with unresolved placeholders")
	}
	return out
}

// Resolve reports which template name Render would use for name.
func (r *Resolver) Resolve(name string) string {
	_, resolved := r.resolve(name)
	return resolved
}

func (r *Resolver) resolve(name string) (string, string) {
	if t, ok := r.Get(name); ok {
		return t.Content, t.Name
	}

	var fallback string
	switch categoryOf(name) {
	case "htr":
		fallback = DefaultHTR
	case "formatting":
		fallback = DefaultFormatting
	case "vlm":
		fallback = DefaultVLM
	}
	if t, ok := r.Get(fallback); ok {
		return t.Content, t.Name
	}
	return GenericPrompt, ""
}

// Get returns a built-in or custom template.
func (r *Resolver) Get(name string) (Template, bool) {
	if t, ok := r.builtins[name]; ok {
		return t, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.custom[name]
	return t, ok
}

// List returns templates sorted by name, restricted to category when given.
func (r *Resolver) List(category string) []Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Template
	add := func(t Template) {
		if category == "" || t.Category == category {
			out = append(out, t)
		}
	}
	for _, t := range r.builtins {
		add(t)
	}
	for _, t := range r.custom {
		add(t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Categories returns the distinct template categories.
func (r *Resolver) Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range r.List("") {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	sort.Strings(out)
	return out
}

// Set creates or replaces a custom template and persists the custom set.
func (r *Resolver) Set(t Template) (Template, error) {
	if _, ok := r.builtins[t.Name]; ok {
		return Template{}, fmt.Errorf("%w: %s", ErrBuiltinTemplate, t.Name)
	}
	if !namePattern.MatchString(t.Name) {
		return Template{}, fmt.Errorf("%w: name %q must be lower case letters, digits and underscores", ErrInvalidTemplate, t.Name)
	}
	if res := Validate(t.Content); !res.Valid {
		return Template{}, fmt.Errorf("%w: %s", ErrInvalidTemplate, strings.Join(res.Errors, "; "))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if prev, ok := r.custom[t.Name]; ok {
		t.CreatedAt = prev.CreatedAt
	} else {
		t.CreatedAt = now
	}
	t.ModifiedAt = now
	t.Builtin = false
	t.Variables = Variables(t.Content)
	if t.Category == "" {
		t.Category = categoryOf(t.Name)
	}

	prev, existed := r.custom[t.Name]
	r.custom[t.Name] = t
	if err := r.saveLocked(); err != nil {
		if existed {
			r.custom[t.Name] = prev
		} else {
			delete(r.custom, t.Name)
		}
		return Template{}, err
	}
	return t, nil
}

// Delete removes a custom template.
func (r *Resolver) Delete(name string) error {
	if _, ok := r.builtins[name]; ok {
		return fmt.Errorf("%w: %s", ErrBuiltinTemplate, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.custom[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	delete(r.custom, name)
	if err := r.saveLocked(); err != nil {
		r.custom[name] = prev
		return err
	}
	return nil
}

func (r *Resolver) saveLocked() error {
	if r.path == "" {
		return nil
	}

	file := templateFile{}
	for _, t := range r.custom {
		file.Templates = append(file.Templates, t)
	}
	sort.Slice(file.Templates, func(i, j int) bool { return file.Templates[i].Name < file.Templates[j].Name })

	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode prompt templates: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create prompt template directory: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write prompt templates: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace prompt templates: %w", err)
	}
	return nil
}

// Validate checks that content is non-empty and its braces are balanced.
func Validate(content string) ValidationResult {
	res := ValidationResult{Variables: Variables(content)}
	if strings.TrimSpace(content) == "" {
		res.Errors = append(res.Errors, "content is empty")
	}

	depth := 0
	for _, ch := range content {
		if ch == '{' {
			depth++
		} else if ch == '}' {
			depth--
			if depth < 0 {
				break
			}
		}
	}
	if depth != 0 {
		res.Errors = append(res.Errors, "unbalanced braces")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// Variables returns the distinct placeholder names in content, in order of
// first appearance.
func Variables(content string) []string {
	seen := map[string]bool{}
	vars := []string{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	return vars
}

// categoryOf derives the category from the name prefix.
func categoryOf(name string) string {
	prefix, _, found := strings.Cut(name, "_")
	if !found {
		return "general"
	}
	switch prefix {
	case "htr", "formatting", "vlm":
		return prefix
	}
	return "general"
}
