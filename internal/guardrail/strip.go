package guardrail

import "strings"

// StripCommentsAndStrings blanks out comments and string literals before the
// forbidden-import regexes run, so a pattern mentioned in a docstring or a
// log message cannot trip the guardrail. Line structure is preserved; blanked
// regions are replaced with spaces.
func StripCommentsAndStrings(content, language string) string {
	lineComment, blockOpen, blockClose := commentSyntax(language)

	var out strings.Builder
	out.Grow(len(content))

	type mode int
	const (
		code mode = iota
		inString
		inBlockComment
	)
	state := code
	var quote byte

	i := 0
	for i < len(content) {
		c := content[i]
		switch state {
		case code:
			if lineComment != "" && strings.HasPrefix(content[i:], lineComment) {
				for i < len(content) && content[i] != '\n' {
					out.WriteByte(' ')
					i++
				}
				continue
			}
			if blockOpen != "" && strings.HasPrefix(content[i:], blockOpen) {
				state = inBlockComment
				out.WriteString(strings.Repeat(" ", len(blockOpen)))
				i += len(blockOpen)
				continue
			}
			if c == '"' || c == '\'' || c == '`' {
				state = inString
				quote = c
				out.WriteByte(c)
				i++
				continue
			}
			out.WriteByte(c)
			i++
		case inString:
			if c == '\\' && i+1 < len(content) {
				out.WriteString("  ")
				i += 2
				continue
			}
			if c == quote {
				state = code
				out.WriteByte(c)
				i++
				continue
			}
			if c == '\n' {
				// Unterminated single-line string; fail open back to code.
				state = code
				out.WriteByte('\n')
				i++
				continue
			}
			out.WriteByte(' ')
			i++
		case inBlockComment:
			if blockClose != "" && strings.HasPrefix(content[i:], blockClose) {
				state = code
				out.WriteString(strings.Repeat(" ", len(blockClose)))
				i += len(blockClose)
				continue
			}
			if c == '\n' {
				out.WriteByte('\n')
			} else {
				out.WriteByte(' ')
			}
			i++
		}
	}
	return out.String()
}

func commentSyntax(language string) (line, blockOpen, blockClose string) {
	switch language {
	case "python", "yaml":
		return "#", "", ""
	case "php":
		return "//", "/*", "*/"
	case "typescript", "javascript", "go", "csharp", "vue":
		return "//", "/*", "*/"
	case "json":
		return "", "", ""
	default:
		return "#", "", ""
	}
}
