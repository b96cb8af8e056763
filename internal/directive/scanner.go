package directive

// extractJSONFragment scans s starting at offset for the first brace-delimited
// JSON object and returns the fragment plus the index one past its closing
// brace. It handles nested braces and string escaping to correctly identify
// the boundary, using a byte-level state machine rather than regex.
//
// Note: iterating bytes is safe for the ASCII delimiters ({, }, ", \) because
// UTF-8 guarantees ASCII bytes never appear inside a multi-byte sequence.
//
// Returns ("", -1) when no complete object starts at or after offset before
// any non-whitespace text intervenes.
func extractJSONFragment(s string, offset int) (string, int) {
	var depth int
	var start = -1
	var inString bool
	var escape bool

	for i := offset; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		if start == -1 {
			// Only whitespace may separate a marker from its payload.
			switch b {
			case '{':
				start = i
				depth = 1
			case ' ', '\t':
				continue
			default:
				return "", -1
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1
			}
		case '\n':
			// Directive payloads are single-line by contract.
			return "", -1
		}
	}

	return "", -1
}
