package refiner

import (
	"strings"

	"github.com/prepcli/prep/models"
	"github.com/prepcli/prep/templates"
)

const (
	instructionMarker = "### Instruction"
	promptMarker      = "### Prompt"
	contextMarker     = "### Context"
)

// TemplateLookup resolves template names to their augmentation text.
type TemplateLookup interface {
	Lookup(name string) (templates.Template, bool)
	Names() []string
}

// ContextReader supplies the content of a context file.
type ContextReader interface {
	Read(path string) (string, error)
}

// Composer merges prompt, template and context into the text sent to a backend.
type Composer struct {
	templates TemplateLookup
	contexts  ContextReader
}

func NewComposer(templates TemplateLookup, contexts ContextReader) *Composer {
	return &Composer{templates: templates, contexts: contexts}
}

// ReadContext loads the context file at path. An empty path yields empty content.
func (c *Composer) ReadContext(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if c.contexts == nil {
		return "", &ContextUnreadableError{Path: path, Err: errNoContextReader}
	}
	content, err := c.contexts.Read(path)
	if err != nil {
		return "", &ContextUnreadableError{Path: path, Err: err}
	}
	return content, nil
}

// Compose builds the composed prompt. The output depends only on the request and the
// template catalog, with sections in a fixed order: instruction, prompt, context.
func (c *Composer) Compose(req *models.RefinementRequest) (string, error) {
	var b strings.Builder

	if name := req.Template(); name != "" {
		tmpl, ok := c.lookup(name)
		if !ok {
			return "", &TemplateNotFoundError{Name: name, Available: c.names()}
		}
		b.WriteString(instructionMarker)
		b.WriteString("\n")
		b.WriteString(tmpl.Augmentation())
		b.WriteString("\n\n")
	}

	b.WriteString(promptMarker)
	b.WriteString("\n")
	b.WriteString(req.Prompt())

	if req.HasContext() {
		b.WriteString("\n\n")
		b.WriteString(contextMarker)
		b.WriteString("\n")
		b.WriteString(req.Context())
	}

	return b.String(), nil
}

func (c *Composer) lookup(name string) (templates.Template, bool) {
	if c.templates == nil {
		return templates.Template{}, false
	}
	return c.templates.Lookup(name)
}

func (c *Composer) names() []string {
	if c.templates == nil {
		return nil
	}
	return c.templates.Names()
}
