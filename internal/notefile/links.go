package notefile

import "strings"

// LinkRef is one wiki-style reference found in a note body.
type LinkRef struct {
	// Line is the 1-indexed body line the reference sits on.
	Line int
	// Target is the raw reference: a note id or a title. Resolution to a
	// concrete note happens in the index.
	Target string
	// Display is the optional text after the pipe, "" when absent.
	Display string
}

// ExtractLinks scans body line by line for [[target]] and [[target|display]]
// references and returns them in order of appearance. Fenced code blocks are
// plain text: a line of three backticks toggles a fence, and nothing inside
// one is extracted. Inline code spans are stripped before matching for the
// same reason.
func ExtractLinks(body string) []LinkRef {
	if body == "" {
		return nil
	}

	var out []LinkRef
	inFence := false
	for i, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		out = append(out, linksOnLine(stripInlineCode(line), i+1)...)
	}
	return out
}

// linksOnLine extracts every [[...]] reference on a single line.
func linksOnLine(line string, lineNum int) []LinkRef {
	var out []LinkRef
	rest := line
	for {
		start := strings.Index(rest, "[[")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start+2:], "]]")
		if end < 0 {
			break
		}
		inner := rest[start+2 : start+2+end]
		rest = rest[start+2+end+2:]

		target := inner
		display := ""
		if i := strings.Index(inner, "|"); i >= 0 {
			target = inner[:i]
			display = strings.TrimSpace(inner[i+1:])
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		out = append(out, LinkRef{Line: lineNum, Target: target, Display: display})
	}
	return out
}

// stripInlineCode removes `code` spans from a line. An unmatched backtick
// swallows the rest of the line, matching how renderers treat it.
func stripInlineCode(line string) string {
	if !strings.Contains(line, "`") {
		return line
	}
	var b strings.Builder
	inCode := false
	for i := 0; i < len(line); i++ {
		if line[i] == '`' {
			inCode = !inCode
			continue
		}
		if !inCode {
			b.WriteByte(line[i])
		}
	}
	return b.String()
}
