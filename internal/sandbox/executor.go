package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/nexus-skills/orchestrator/internal/skills"
)

// SandboxSkillName is the reserved skill name that routes code straight
// through to the gateway instead of being synthesized from a manifest.
const SandboxSkillName = "sandbox"

// Observation is the outcome of one invocation, regardless of whether it
// ran in the sandbox or was rejected before reaching it. Callers never see
// a raw error: every failure mode is represented as an Observation with
// Success=false.
type Observation struct {
	Success    bool
	Text       string
	Raw        any
	DurationMs int64
}

// Invocation is what the invocation parser hands the executor: a skill
// name plus either a code body (sandbox route) or structured arguments
// (direct route). For the sandbox skill, Code is the program; for any other
// skill, Code is the argument expression passed to the client's default
// method, and Args is used in its place when Code is empty.
type Invocation struct {
	Skill string
	Code  string
	Args  string
}

// Executor dispatches a parsed invocation against a registry snapshot,
// synthesizing sandbox code from a manifest's client_class/default_method
// when the invocation doesn't name the sandbox skill directly.
type Executor struct {
	gateway *Gateway
}

// NewExecutor constructs an Executor bound to gateway.
func NewExecutor(gateway *Gateway) *Executor {
	return &Executor{gateway: gateway}
}

// Execute dispatches one invocation against snap, with a per-call timeout.
// No error escapes Execute: every outcome, including an unknown skill, a
// non-executable manifest, or a sandbox timeout, is returned as an
// Observation.
func (e *Executor) Execute(ctx context.Context, snap *skills.Snapshot, inv Invocation, timeout time.Duration) Observation {
	if inv.Skill == SandboxSkillName {
		return e.run(ctx, "python", inv.Code, timeout)
	}

	manifest, err := snap.Get(inv.Skill)
	if err != nil {
		return Observation{Success: false, Text: fmt.Sprintf("skill not found: %s", inv.Skill)}
	}
	if !manifest.Executable {
		return Observation{Success: false, Text: fmt.Sprintf("skill %s is not executable", inv.Skill)}
	}

	code, err := synthesize(manifest, inv)
	if err != nil {
		return Observation{Success: false, Text: fmt.Sprintf("failed to build invocation for %s: %v", inv.Skill, err)}
	}

	return e.run(ctx, "python", code, timeout)
}

func (e *Executor) run(ctx context.Context, language, code string, timeout time.Duration) Observation {
	result, err := e.gateway.Run(ctx, RunRequest{
		Language:    language,
		Code:        code,
		TrustedMode: true,
		Timeout:     timeout,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Observation{Success: false, Text: "timeout", DurationMs: timeout.Milliseconds()}
		}
		return Observation{Success: false, Text: fmt.Sprintf("sandbox transport error: %v", err)}
	}

	text := result.Stdout
	if !result.Success && result.Stderr != "" {
		text = result.Stderr
	}
	return Observation{
		Success:    result.Success,
		Text:       text,
		Raw:        result,
		DurationMs: result.DurationMs,
	}
}

// synthesisTemplate produces a small program that imports a skill's client
// class and invokes its default method with the invocation's code treated
// as the literal argument expression. Skills that need more than one
// positional argument encode them inside that expression themselves (e.g.
// as a tuple or kwargs dict); the executor doesn't parse argument lists.
var synthesisTemplate = template.Must(template.New("synthesize").Parse(
	`from skills.{{.Module}} import {{.ClientClass}}

_client = {{.ClientClass}}()
print(_client.{{.Method}}({{.Args}}))
`))

type synthesisData struct {
	Module      string
	ClientClass string
	Method      string
	Args        string
}

// synthesize builds the code body forwarded to the sandbox when an
// invocation names a skill other than the sandbox skill itself. It is
// templated purely from the manifest's client_class and default_method;
// the invocation's code/args become the literal argument expression.
func synthesize(m *skills.Manifest, inv Invocation) (string, error) {
	if m.ClientClass == "" || m.DefaultMethod == "" {
		return "", fmt.Errorf("skill %s has no client_class/default_method to synthesize against", m.Name)
	}

	args := strings.TrimSpace(inv.Code)
	if args == "" {
		args = strings.TrimSpace(inv.Args)
	}

	var b strings.Builder
	data := synthesisData{
		Module:      strings.ReplaceAll(m.Name, "-", "_"),
		ClientClass: m.ClientClass,
		Method:      m.DefaultMethod,
		Args:        args,
	}
	if err := synthesisTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render synthesis template: %w", err)
	}
	return b.String(), nil
}
