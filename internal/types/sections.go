package types

// Section is one tool's payload inside a project: the editable primary
// content, the last derived output, and tool-specific configuration.
// Payloads are mutated only through the owning section buffer while that
// tool is active, and replaced wholesale via Repository.UpdateSection.
type Section interface {
	// SectionKey reports which tool slot this payload belongs to.
	SectionKey() SectionKey
	// CloneSection returns a deep copy with no shared nested state.
	CloneSection() Section
}

// ReviewSection holds the code sparring tool's state.
type ReviewSection struct {
	Code      string `json:"code"`
	Output    string `json:"output"`
	PersonaID string `json:"personaId"`
	Model     string `json:"model"`
}

func (ReviewSection) SectionKey() SectionKey { return SectionReview }

func (s ReviewSection) CloneSection() Section { return s }

// StudioSection holds the chat & prompt studio state.
type StudioSection struct {
	Prompt   string      `json:"prompt"`
	Messages []Message   `json:"messages"`
	Settings RunSettings `json:"settings"`
}

func (StudioSection) SectionKey() SectionKey { return SectionStudio }

func (s StudioSection) CloneSection() Section {
	if s.Messages != nil {
		msgs := make([]Message, len(s.Messages))
		copy(msgs, s.Messages)
		s.Messages = msgs
	}
	return s
}

// BlueprintComponent is one box in a generated architecture blueprint.
type BlueprintComponent struct {
	Name      string   `json:"name"`
	Purpose   string   `json:"purpose"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

// Blueprint is the structured output of the architect tool.
type Blueprint struct {
	Overview   string               `json:"overview"`
	Components []BlueprintComponent `json:"components"`
}

// Clone returns a deep copy of the blueprint.
func (b *Blueprint) Clone() *Blueprint {
	if b == nil {
		return nil
	}
	out := &Blueprint{
		Overview:   b.Overview,
		Components: make([]BlueprintComponent, len(b.Components)),
	}
	for i, c := range b.Components {
		if c.DependsOn != nil {
			deps := make([]string, len(c.DependsOn))
			copy(deps, c.DependsOn)
			c.DependsOn = deps
		}
		out.Components[i] = c
	}
	return out
}

// ArchitectSection holds the system design generator state. Blueprint
// is nil until a generation succeeds; RawOutput keeps the model's text
// when structured parsing fails so the user can still see it.
type ArchitectSection struct {
	Brief     string     `json:"brief"`
	Blueprint *Blueprint `json:"blueprint,omitempty"`
	RawOutput string     `json:"rawOutput,omitempty"`
	Model     string     `json:"model"`
}

func (ArchitectSection) SectionKey() SectionKey { return SectionArchitect }

func (s ArchitectSection) CloneSection() Section {
	s.Blueprint = s.Blueprint.Clone()
	return s
}

// StorefrontSection holds the storefront copy manager state.
type StorefrontSection struct {
	Brief string `json:"brief"`
	Copy  string `json:"copy"`
	Tone  string `json:"tone"`
	Model string `json:"model"`
}

func (StorefrontSection) SectionKey() SectionKey { return SectionStorefront }

func (s StorefrontSection) CloneSection() Section { return s }

// ProjectData is the fixed mapping from tool key to section payload.
// Every project always has all four sections populated; there are no
// partial or missing sections.
type ProjectData struct {
	Review     ReviewSection     `json:"review"`
	Studio     StudioSection     `json:"studio"`
	Architect  ArchitectSection  `json:"architect"`
	Storefront StorefrontSection `json:"storefront"`
}

// Section returns a deep copy of the payload for key, so callers can
// edit freely without touching stored state.
func (d ProjectData) Section(key SectionKey) (Section, bool) {
	switch key {
	case SectionReview:
		return d.Review.CloneSection(), true
	case SectionStudio:
		return d.Studio.CloneSection(), true
	case SectionArchitect:
		return d.Architect.CloneSection(), true
	case SectionStorefront:
		return d.Storefront.CloneSection(), true
	}
	return nil, false
}

// SetSection replaces exactly one section payload. The payload's own
// key decides the slot, so a payload can never land in the wrong tool.
func (d *ProjectData) SetSection(payload Section) {
	switch p := payload.(type) {
	case ReviewSection:
		d.Review = p
	case StudioSection:
		d.Studio = p
	case ArchitectSection:
		d.Architect = p
	case StorefrontSection:
		d.Storefront = p
	}
}

// Clone returns a deep copy of all four sections.
func (d ProjectData) Clone() ProjectData {
	return ProjectData{
		Review:     d.Review.CloneSection().(ReviewSection),
		Studio:     d.Studio.CloneSection().(StudioSection),
		Architect:  d.Architect.CloneSection().(ArchitectSection),
		Storefront: d.Storefront.CloneSection().(StorefrontSection),
	}
}

// DefaultProjectData returns the template data for a new project.
// Each call produces a fresh deep copy: no two projects ever alias the
// same nested objects.
func DefaultProjectData() ProjectData {
	return ProjectData{
		Review: ReviewSection{
			PersonaID: "engineer",
			Model:     DefaultModel,
		},
		Studio: StudioSection{
			Settings: DefaultRunSettings(),
		},
		Architect: ArchitectSection{
			Model: DefaultModel,
		},
		Storefront: StorefrontSection{
			Tone:  "professional",
			Model: DefaultModel,
		},
	}
}
