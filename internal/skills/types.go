// Package skills discovers skill manifests on disk and maintains the
// registry the agent engine queries when composing a prompt or dispatching
// an invocation.
package skills

// Manifest is a single skill's parsed definition: a header block of known
// and unknown keys plus a free-form body of usage instructions.
type Manifest struct {
	// Name is the unique identifier within a registry.
	Name string `yaml:"name"`

	// Description is free text surfaced in the skills catalog.
	Description string `yaml:"description"`

	// ClientClass and DefaultMethod drive code synthesis in the executor
	// when the skill is dispatched indirectly (not the sandbox skill
	// itself).
	ClientClass   string `yaml:"client_class"`
	DefaultMethod string `yaml:"default_method"`

	// Executable defaults to true. A manifest with Executable=false is a
	// documentation record: it may be attached as a related tool but must
	// never be dispatched.
	Executable bool `yaml:"executable"`

	// RelatedTools names other manifests (by Name) whose documentation
	// should be attached to this skill's prompt catalog entry.
	RelatedTools []string `yaml:"related_tools"`

	// Requires gates whether the skill is eligible to run in the current
	// environment. Nil means always eligible.
	Requires *Requires `yaml:"requires"`

	// Extra preserves header keys not recognized above, so a manifest can
	// carry skill-specific configuration the registry doesn't need to know
	// about.
	Extra map[string]any `yaml:"-"`

	// Body is the text following the closing delimiter, its lines rejoined
	// with "\n" and without a trailing newline.
	Body string `yaml:"-"`

	// Path is the manifest file's location on disk.
	Path string `yaml:"-"`
}

// Requires lists the gating conditions a skill needs to be eligible.
type Requires struct {
	// Bins requires every listed binary to exist on PATH.
	Bins []string `yaml:"bins"`

	// AnyBins requires at least one of the listed binaries to exist.
	AnyBins []string `yaml:"anyBins"`

	// Env requires every listed environment variable to be set.
	Env []string `yaml:"env"`
}
