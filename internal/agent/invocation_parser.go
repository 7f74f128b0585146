package agent

import "strings"

// Invocation is one parsed skill-invocation block:
//
//	<execute_skill>
//	<skill_name>NAME</skill_name>
//	<code>...</code>
//	</execute_skill>
type Invocation struct {
	Skill string
	Code  string
}

const (
	openTag    = "<execute_skill>"
	closeTag   = "</execute_skill>"
	skillOpen  = "<skill_name>"
	skillClose = "</skill_name>"
	codeOpen   = "<code>"
	codeClose  = "</code>"
)

// Segment is one ordered piece of parsed stream output: either prose text
// (Invocation nil) or a completed invocation. Returning segments rather
// than separate prose/invocation values preserves the textual order when a
// single delta carries both, e.g. a block immediately followed by the
// final answer.
type Segment struct {
	Text       string
	Invocation *Invocation
}

// InvocationParser incrementally extracts execute_skill blocks from a
// stream of text deltas. Text outside a pending block is returned
// verbatim from Feed as a prose segment; text inside an open block is
// buffered until the block closes, at which point Feed returns the parsed
// Invocation as a segment instead.
//
// The parser only ever looks for the literal marker text; it does not
// understand nested or malformed tags beyond detecting that a block was
// opened but never closed by the time Close is called.
type InvocationParser struct {
	buf     strings.Builder
	inBlock bool
}

// NewInvocationParser creates an empty parser.
func NewInvocationParser() *InvocationParser {
	return &InvocationParser{}
}

// Feed appends delta to the parser's internal state and returns the
// segments that can now be emitted, in the order they appear: prose with
// no partial marker held back, and every invocation whose block closed.
func (p *InvocationParser) Feed(delta string) []Segment {
	p.buf.WriteString(delta)

	var segments []Segment
	for {
		buffered := p.buf.String()

		if !p.inBlock {
			idx := strings.Index(buffered, openTag)
			if idx == -1 {
				// No block start yet. Hold back a suffix that could be the
				// start of a marker so we never emit a torn tag as prose.
				safe, rest := splitSafePrefix(buffered, openTag)
				if safe != "" {
					segments = append(segments, Segment{Text: safe})
				}
				p.reset(rest)
				break
			}
			if idx > 0 {
				segments = append(segments, Segment{Text: buffered[:idx]})
			}
			p.inBlock = true
			p.reset(buffered[idx+len(openTag):])
			continue
		}

		buffered = p.buf.String()
		end := strings.Index(buffered, closeTag)
		if end == -1 {
			// Block still open; nothing more can be emitted this round.
			break
		}
		inv := parseBlockBody(buffered[:end])
		segments = append(segments, Segment{Invocation: &inv})
		p.inBlock = false
		p.reset(buffered[end+len(closeTag):])
	}

	return segments
}

// Close flushes any remaining buffered prose and reports whether an
// execute_skill block was left open at stream end (a malformed
// invocation per the protocol). The raw unterminated block is returned
// as prose so it reaches the transcript as plain text rather than being
// silently swallowed.
func (p *InvocationParser) Close() (prose string, malformed bool) {
	remaining := p.buf.String()
	p.reset("")
	if p.inBlock {
		p.inBlock = false
		return openTag + remaining, true
	}
	return remaining, false
}

func (p *InvocationParser) reset(s string) {
	p.buf.Reset()
	p.buf.WriteString(s)
}

// splitSafePrefix returns the longest prefix of s that cannot possibly be
// the start of marker, and the remaining suffix that must be held back
// for the next Feed call.
func splitSafePrefix(s, marker string) (safe, held string) {
	maxHold := len(marker) - 1
	if maxHold > len(s) {
		maxHold = len(s)
	}
	for holdLen := maxHold; holdLen > 0; holdLen-- {
		suffix := s[len(s)-holdLen:]
		if strings.HasPrefix(marker, suffix) {
			return s[:len(s)-holdLen], suffix
		}
	}
	return s, ""
}

// parseBlockBody extracts skill_name and code from the text between
// <execute_skill> and </execute_skill>. Missing tags yield empty fields
// rather than an error: an invocation with an empty skill name is caught
// later by the executor as an unknown-skill observation.
func parseBlockBody(body string) Invocation {
	return Invocation{
		Skill: strings.TrimSpace(extractTag(body, skillOpen, skillClose)),
		Code:  extractTag(body, codeOpen, codeClose),
	}
}

func extractTag(body, open, closeMark string) string {
	start := strings.Index(body, open)
	if start == -1 {
		return ""
	}
	start += len(open)
	end := strings.Index(body[start:], closeMark)
	if end == -1 {
		return ""
	}
	return body[start : start+end]
}
