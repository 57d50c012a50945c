package decision

import "strings"

// Source names the candidate an outcome was decoded from.
type Source string

const (
	SourceFenced Source = "fenced"
	SourceObject Source = "object"
	SourceText   Source = "text"
)

type candidate struct {
	source Source
	text   string
}

// candidates lists the regions of text to try, in order: every fenced code
// block, the first balanced {...} region, then the whole trimmed text.
func candidates(text string) []candidate {
	var out []candidate
	for _, block := range fencedBlocks(text) {
		out = append(out, candidate{source: SourceFenced, text: block})
	}
	if obj := firstObject(text); obj != "" {
		out = append(out, candidate{source: SourceObject, text: obj})
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		out = append(out, candidate{source: SourceText, text: trimmed})
	}
	return out
}

// fencedBlocks returns the bodies of ``` fences. The info string after the
// opening fence (json, JSON, or nothing) is dropped.
func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			return blocks
		}
		rest = rest[open+3:]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return blocks
		}
		info := strings.TrimSpace(rest[:nl])
		body := rest[nl+1:]
		if strings.ContainsAny(info, "{[") {
			// Content starts on the fence line.
			body = rest[strings.IndexAny(rest, "{["):]
		}
		end := strings.Index(body, "```")
		if end < 0 {
			return blocks
		}
		if block := strings.TrimSpace(body[:end]); block != "" {
			blocks = append(blocks, block)
		}
		rest = body[end+3:]
	}
}

// firstObject returns the first balanced {...} region, honoring JSON string
// literals and escapes.
func firstObject(text string) string {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
		// Unbalanced from this brace; try the next one.
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			return ""
		}
		start += next + 1
	}
	return ""
}
