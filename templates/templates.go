// Package templates holds the catalog of prompt templates: the bundled set plus any the user
// defines in templates.yaml.
package templates

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Template augments a prompt with an instruction describing the kind of request.
type Template struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Prefix      string `yaml:"prefix"`
	Suffix      string `yaml:"suffix"`
}

// Apply wraps a prompt in the template's prefix and suffix.
func (t Template) Apply(prompt string) string {
	return t.Prefix + prompt + t.Suffix
}

// Augmentation is the template's instruction text with the prompt slot removed.
func (t Template) Augmentation() string {
	parts := make([]string, 0, 2)
	if p := strings.TrimSpace(t.Prefix); p != "" {
		parts = append(parts, p)
	}
	if s := strings.TrimSpace(t.Suffix); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

var builtins = []Template{
	{
		Name:        "code",
		Description: "Optimize for code generation requests",
		Prefix:      "[Code Generation Request]\n\n",
		Suffix:      "\n\nPlease provide clean, well-documented, production-ready code with proper error handling.",
	},
	{
		Name:        "explain",
		Description: "Optimize for explanation requests",
		Prefix:      "[Explanation Request]\n\n",
		Suffix:      "\n\nProvide a clear, structured explanation suitable for someone learning this concept.",
	},
	{
		Name:        "debug",
		Description: "Optimize for debugging assistance",
		Prefix:      "[Debugging Assistance Request]\n\n",
		Suffix:      "\n\nAnalyze the issue, identify the root cause, and suggest specific fixes with explanations.",
	},
	{
		Name:        "review",
		Description: "Optimize for code review requests",
		Prefix:      "[Code Review Request]\n\n",
		Suffix:      "\n\nProvide a thorough code review covering: correctness, performance, security, readability, and best practices.",
	},
	{
		Name:        "docs",
		Description: "Optimize for documentation requests",
		Prefix:      "[Documentation Request]\n\n",
		Suffix:      "\n\nCreate clear, comprehensive documentation following best practices for the target audience.",
	},
	{
		Name:        "refactor",
		Description: "Optimize for refactoring requests",
		Prefix:      "[Refactoring Request]\n\n",
		Suffix:      "\n\nRefactor the code to improve maintainability, readability, and adherence to SOLID principles while preserving functionality.",
	},
	{
		Name:        "test",
		Description: "Optimize for test writing requests",
		Prefix:      "[Test Writing Request]\n\n",
		Suffix:      "\n\nWrite comprehensive tests covering edge cases, error scenarios, and happy paths with clear test descriptions.",
	},
	{
		Name:        "api",
		Description: "Optimize for API design requests",
		Prefix:      "[API Design Request]\n\n",
		Suffix:      "\n\nDesign a RESTful API following best practices with proper status codes, validation, and documentation.",
	},
	{
		Name:        "security",
		Description: "Optimize for security-focused requests",
		Prefix:      "[Security Analysis Request]\n\n",
		Suffix:      "\n\nAnalyze for security vulnerabilities including OWASP Top 10 issues and provide specific remediation steps.",
	},
	{
		Name:        "architecture",
		Description: "Optimize for architecture design requests",
		Prefix:      "[Architecture Design Request]\n\n",
		Suffix:      "\n\nDesign a scalable, maintainable architecture considering performance, reliability, and future extensibility.",
	},
}

// Catalog is a read-only name -> template mapping.
type Catalog struct {
	templates map[string]Template
}

// Builtin returns a catalog containing only the bundled templates.
func Builtin() *Catalog {
	c := &Catalog{templates: make(map[string]Template, len(builtins))}
	for _, t := range builtins {
		c.templates[t.Name] = t
	}
	return c
}

type userFile struct {
	Templates []Template `yaml:"templates"`
}

// Load returns the bundled templates merged with those defined in path. A missing file is
// not an error; user templates with a bundled name replace the bundled one.
func Load(fs afero.Fs, path string) (*Catalog, error) {
	c := Builtin()
	if path == "" {
		return c, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return nil, errors.Wrapf(err, "failed to read templates file '%s'", path)
	}

	var file userFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse templates file '%s'", path)
	}

	for i, t := range file.Templates {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			return nil, errors.Errorf("template #%d in '%s' has no name", i+1, path)
		}
		if strings.TrimSpace(t.Prefix) == "" && strings.TrimSpace(t.Suffix) == "" {
			return nil, errors.Errorf("template '%s' in '%s' needs a prefix or a suffix", name, path)
		}
		t.Name = name
		c.templates[name] = t
	}
	return c, nil
}

// Lookup finds a template by name, case-insensitively.
func (c *Catalog) Lookup(name string) (Template, bool) {
	t, ok := c.templates[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// List returns all templates sorted by name.
func (c *Catalog) List() []Template {
	list := make([]Template, 0, len(c.templates))
	for _, t := range c.templates {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Names returns the sorted template names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for _, t := range c.List() {
		names = append(names, t.Name)
	}
	return names
}
