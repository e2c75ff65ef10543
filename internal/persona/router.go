// Package persona maps user-invoked tool actions to fully-formed
// dispatch requests. The persona and action tables are baked into the
// binary at compile time, so routing needs no filesystem access and is
// a pure lookup-and-template step: the same action and payload always
// produce the same request.
package persona

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"text/template"

	"toolbench/internal/gateway"
	"toolbench/internal/types"

	"gopkg.in/yaml.v3"
)

//go:embed templates
var templates embed.FS

// Persona frames every review action dispatched while it is active.
type Persona struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	System string `yaml:"system"`
}

// Action is one entry of the static action table.
type Action struct {
	ID          string           `yaml:"id"`
	Tool        types.SectionKey `yaml:"tool"`
	Label       string           `yaml:"label"`
	System      string           `yaml:"system"`
	Instruction string           `yaml:"instruction"`
	JSON        bool             `yaml:"json"`
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

type actionFile struct {
	Actions []Action `yaml:"actions"`
}

// Router resolves (action, section payload) pairs into gateway
// requests. Construct once with Load and share; it is immutable.
type Router struct {
	personas map[string]Persona
	actions  map[string]Action
	tmpls    map[string]*template.Template
}

// Load parses the embedded persona and action tables.
func Load() (*Router, error) {
	r := &Router{
		personas: make(map[string]Persona),
		actions:  make(map[string]Action),
		tmpls:    make(map[string]*template.Template),
	}

	data, err := templates.ReadFile("templates/personas.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded personas: %w", err)
	}
	var pf personaFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}
	for _, p := range pf.Personas {
		r.personas[p.ID] = p
	}

	data, err = templates.ReadFile("templates/actions.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded actions: %w", err)
	}
	var af actionFile
	if err := yaml.Unmarshal(data, &af); err != nil {
		return nil, fmt.Errorf("parse actions: %w", err)
	}
	for _, a := range af.Actions {
		if !a.Tool.Valid() {
			return nil, fmt.Errorf("action %q names unknown tool %q", a.ID, a.Tool)
		}
		tmpl, err := template.New(a.ID).Parse(a.Instruction)
		if err != nil {
			return nil, fmt.Errorf("parse instruction template for %q: %w", a.ID, err)
		}
		r.actions[a.ID] = a
		r.tmpls[a.ID] = tmpl
	}
	return r, nil
}

// Personas lists all personas, ordered by id.
func (r *Router) Personas() []Persona {
	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Actions lists the actions available for one tool, ordered by id.
func (r *Router) Actions(tool types.SectionKey) []Action {
	out := make([]Action, 0, len(r.actions))
	for _, a := range r.actions {
		if a.Tool == tool {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// BuildRequest composes the dispatch request for an action against the
// current section payload. The payload decides the template data and
// the model; review actions take their system text from the payload's
// persona. Chat is not an action — the studio tool converses through
// the workspace directly.
func (r *Router) BuildRequest(actionID string, section types.Section) (gateway.Request, error) {
	action, ok := r.actions[actionID]
	if !ok {
		return gateway.Request{}, fmt.Errorf("unknown action %q", actionID)
	}
	if action.Tool != section.SectionKey() {
		return gateway.Request{}, fmt.Errorf("action %q belongs to tool %q, got %q payload", actionID, action.Tool, section.SectionKey())
	}

	system := action.System
	settings := types.DefaultRunSettings()
	var data any

	switch s := section.(type) {
	case types.ReviewSection:
		p, ok := r.personas[s.PersonaID]
		if !ok {
			return gateway.Request{}, fmt.Errorf("unknown persona %q", s.PersonaID)
		}
		system = p.System
		settings.Model = s.Model
		data = map[string]string{"Code": s.Code}
	case types.ArchitectSection:
		settings.Model = s.Model
		data = map[string]string{"Brief": s.Brief}
	case types.StorefrontSection:
		settings.Model = s.Model
		data = map[string]string{"Brief": s.Brief, "Tone": s.Tone}
	default:
		return gateway.Request{}, fmt.Errorf("tool %q has no routable actions", section.SectionKey())
	}

	if settings.Model == "" {
		settings.Model = types.DefaultModel
	}

	var prompt bytes.Buffer
	if err := r.tmpls[actionID].Execute(&prompt, data); err != nil {
		return gateway.Request{}, fmt.Errorf("render action %q: %w", actionID, err)
	}

	return gateway.Request{
		SystemInstruction: system,
		Prompt:            prompt.String(),
		Settings:          settings,
		WantJSON:          action.JSON,
	}, nil
}
