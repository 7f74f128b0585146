package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/nexus-skills/orchestrator/internal/skills"
)

// behavioralPreamble sets the model's tone and its rule of thumb for
// deciding between answering from its own knowledge and invoking a skill.
const behavioralPreamble = `You are a focused, direct assistant. Answer from your own knowledge when you are confident and the answer does not depend on live or external data. Invoke a skill only when the task genuinely requires it: fetching current information, running code, or calling an external service the skill catalog below describes. Do not invoke a skill merely to double-check something you already know.`

// executionProtocol gives the model the exact invocation syntax. It names
// one block per turn; the engine accepts more, but nudging the model
// toward one keeps the transcript legible.
const executionProtocol = `To invoke a skill, emit exactly one block in this form and nothing else around it:

<execute_skill>
<skill_name>NAME</skill_name>
<code>...</code>
</execute_skill>

Use the skill's documented client_class and default_method conventions when writing the code body. Do not invoke a skill that is not listed below. If no skill is needed, answer directly.`

// ComposePrompt builds the system prompt for one turn: current date/time,
// the behavioral preamble, the registry's skill catalog, an optional
// memory excerpt, and the execution-protocol section, in that fixed
// order. It is a pure function of its inputs: identical arguments always
// produce an identical prompt.
func ComposePrompt(now time.Time, snap *skills.Snapshot, memoryExcerpt string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Current date/time: %s\n\n", now.UTC().Format(time.RFC3339))
	b.WriteString(behavioralPreamble)
	b.WriteString("\n\n")

	b.WriteString("Available skills:\n")
	if snap != nil {
		catalog := snap.SummarizeForPrompt()
		if catalog == "" {
			catalog = "(none)\n"
		}
		b.WriteString(catalog)
	} else {
		b.WriteString("(none)\n")
	}
	b.WriteString("\n")

	if memoryExcerpt != "" {
		b.WriteString("What you remember about this conversation:\n")
		b.WriteString(memoryExcerpt)
		b.WriteString("\n\n")
	}

	b.WriteString(executionProtocol)

	return b.String()
}
