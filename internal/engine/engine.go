package engine

import "mybot/internal/model"

// State is the small per-run struct a Translator mutates while decoding one
// subprocess's stdout stream: sequence counters, the pending-action map
// keyed by tool-call id, the last assistant text, and so on. Each engine
// package defines its own concrete State; this interface is only what the
// runner needs to manage it.
type State interface {
	// Seq returns the next note id, incrementing an internal counter. Used
	// for synthesized warning/note actions that have no natural id.
	Seq() int
}

// Translator is a pure function of (decoded JSON line, state) -> events,
// one per agent family. Implementations live under internal/engine/<id>.
type Translator interface {
	// Engine returns this translator's engine id, e.g. "codex".
	Engine() string

	// NewState returns a fresh State for one subprocess run.
	NewState() State

	// Translate decodes one line of the agent's stdout and returns zero or
	// more neutral events. A non-nil error means the line could not be
	// translated; the runner degrades this to a warning note and continues.
	Translate(line []byte, state State) ([]model.Event, error)

	// BuildArgs returns the argv (excluding the binary path itself) for one
	// invocation, and the stdin payload to write (nil if the prompt is
	// passed via argv instead).
	BuildArgs(prompt string, resume *model.ResumeToken) (argv []string, stdin []byte)

	// ResumeSyntax returns this engine's resume-line grammar.
	ResumeSyntax() ResumeSyntax
}

// TranslatorRegistry maps engine id to its Translator. Kept distinct from
// Registry (resume-line lookup) because the orchestrator wires translators
// once at startup from configuration, while Registry is a pure-data helper
// reused by the resume parser in isolation (and in tests).
type TranslatorRegistry struct {
	translators map[string]Translator
}

func NewTranslatorRegistry() *TranslatorRegistry {
	return &TranslatorRegistry{translators: make(map[string]Translator)}
}

func (r *TranslatorRegistry) Register(t Translator) {
	r.translators[t.Engine()] = t
}

func (r *TranslatorRegistry) Get(engineID string) (Translator, bool) {
	t, ok := r.translators[engineID]
	return t, ok
}

func (r *TranslatorRegistry) IDs() []string {
	ids := make([]string, 0, len(r.translators))
	for id := range r.translators {
		ids = append(ids, id)
	}
	return ids
}

// ResumeRegistry builds a Registry from every translator's resume syntax, so
// the orchestrator can recognize a resume line without first knowing which
// engine produced it.
func (r *TranslatorRegistry) ResumeRegistry() *Registry {
	reg := &Registry{syntaxes: make(map[string]ResumeSyntax, len(r.translators))}
	for id, t := range r.translators {
		reg.syntaxes[id] = t.ResumeSyntax()
		reg.order = append(reg.order, id)
	}
	return reg
}
