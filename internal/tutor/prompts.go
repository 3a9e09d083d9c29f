package tutor

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/Jean-snt/ZAITH-CHIPI/internal/oracle"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// promptNames lists the templates every catalog must define.
var promptNames = []string{
	oracle.PromptExplanation,
	oracle.PromptExercise,
	oracle.PromptEvaluation,
	oracle.PromptReinforcement,
	oracle.PromptReExplain,
	oracle.PromptConversation,
}

// PromptData is the input rendered into prompt templates.
type PromptData struct {
	Message    string
	Correction string
	History    string
	Level      string
	Patterns   []string
}

type promptEntry struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type compiledPrompt struct {
	system *template.Template
	user   *template.Template
}

// Catalog holds the compiled prompt templates.
type Catalog struct {
	extraction string
	prompts    map[string]compiledPrompt
}

// LoadCatalog reads prompts from path, or the embedded catalog when path is
// empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultPrompts
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompt catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// ParseCatalog compiles a YAML prompt catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var entries map[string]promptEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}

	c := &Catalog{prompts: make(map[string]compiledPrompt, len(promptNames))}
	if e, ok := entries[oracle.PromptExtraction]; ok {
		c.extraction = strings.TrimSpace(e.System)
	}

	funcs := template.FuncMap{"join": strings.Join}
	for _, name := range promptNames {
		e, ok := entries[name]
		if !ok {
			return nil, fmt.Errorf("prompt catalog: missing %q", name)
		}
		if strings.TrimSpace(e.System) == "" || strings.TrimSpace(e.User) == "" {
			return nil, fmt.Errorf("prompt catalog: %q needs system and user", name)
		}

		sys, err := template.New(name + ".system").Funcs(funcs).Option("missingkey=error").Parse(e.System)
		if err != nil {
			return nil, fmt.Errorf("prompt catalog: %s system: %w", name, err)
		}
		usr, err := template.New(name + ".user").Funcs(funcs).Option("missingkey=error").Parse(e.User)
		if err != nil {
			return nil, fmt.Errorf("prompt catalog: %s user: %w", name, err)
		}
		c.prompts[name] = compiledPrompt{system: sys, user: usr}
	}
	return c, nil
}

// Extraction returns the extraction instructions, or "" to use the oracle's
// built-in text.
func (c *Catalog) Extraction() string {
	return c.extraction
}

// Render builds the named prompt.
func (c *Catalog) Render(name string, data PromptData) (oracle.Prompt, error) {
	p, ok := c.prompts[name]
	if !ok {
		return oracle.Prompt{}, fmt.Errorf("unknown prompt %q", name)
	}

	var sys, usr bytes.Buffer
	if err := p.system.Execute(&sys, data); err != nil {
		return oracle.Prompt{}, fmt.Errorf("render %s system: %w", name, err)
	}
	if err := p.user.Execute(&usr, data); err != nil {
		return oracle.Prompt{}, fmt.Errorf("render %s user: %w", name, err)
	}

	return oracle.Prompt{
		Name:   name,
		System: strings.TrimSpace(sys.String()),
		User:   strings.TrimSpace(usr.String()),
	}, nil
}
