package skills

import (
	"fmt"
	"os"
	"os/exec"
)

// GatingContext caches the environment facts needed to evaluate a
// manifest's Requires block, so repeated lookups across many skills don't
// repeat exec.LookPath/os.LookupEnv calls.
type GatingContext struct {
	bins map[string]bool
	env  map[string]bool
}

// NewGatingContext creates an empty, lazily-populated gating context.
func NewGatingContext() *GatingContext {
	return &GatingContext{
		bins: make(map[string]bool),
		env:  make(map[string]bool),
	}
}

func (c *GatingContext) hasBinary(name string) bool {
	if result, ok := c.bins[name]; ok {
		return result
	}
	_, err := exec.LookPath(name)
	result := err == nil
	c.bins[name] = result
	return result
}

func (c *GatingContext) hasEnv(name string) bool {
	if result, ok := c.env[name]; ok {
		return result
	}
	_, ok := os.LookupEnv(name)
	c.env[name] = ok
	return ok
}

// Eligible reports whether a manifest's Requires block is satisfied in the
// current environment. A nil Requires is always eligible.
func (m *Manifest) Eligible(ctx *GatingContext) (bool, string) {
	if m.Requires == nil {
		return true, ""
	}

	for _, bin := range m.Requires.Bins {
		if !ctx.hasBinary(bin) {
			return false, fmt.Sprintf("missing required binary: %s", bin)
		}
	}

	if len(m.Requires.AnyBins) > 0 {
		found := false
		for _, bin := range m.Requires.AnyBins {
			if ctx.hasBinary(bin) {
				found = true
				break
			}
		}
		if !found {
			return false, fmt.Sprintf("requires one of: %v", m.Requires.AnyBins)
		}
	}

	for _, env := range m.Requires.Env {
		if !ctx.hasEnv(env) {
			return false, fmt.Sprintf("missing environment variable: %s", env)
		}
	}

	return true, ""
}
