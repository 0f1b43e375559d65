package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// decodeLoose unmarshals model output into v. A strict parse is tried
// first; on failure the first balanced JSON object is extracted from
// the text (fences and prose stripped) and parsed once more. There is
// exactly one failure mode: no usable object in the output.
func decodeLoose(text string, v any) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	obj, ok := firstObject(stripFences(trimmed))
	if !ok {
		return eris.New("pipeline: no JSON object in model output")
	}
	if err := json.Unmarshal([]byte(obj), v); err != nil {
		return eris.Wrap(err, "pipeline: parse model output")
	}
	return nil
}

// stripFences removes a wrapping markdown code fence if present.
func stripFences(text string) string {
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	} else {
		return text
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// firstObject scans for the first balanced top-level {...} substring,
// honoring string literals and escapes so braces inside values do not
// miscount.
func firstObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escape = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}
