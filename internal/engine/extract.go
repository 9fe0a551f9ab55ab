package engine

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
)

// ToolRequest is the unified representation of one requested tool call,
// regardless of which extraction strategy produced it.
type ToolRequest struct {
	ID          string
	Name        string
	Args        map[string]any
	Explanation string
	Origin      CallOrigin
	Err         string // provider-reported defect on a native call (e.g., stream cut off)
}

// ExtractCalls finds the tool invocations requested in one model turn.
// Exactly one strategy wins: when native function-call events exist, text
// extraction is skipped entirely. Text candidates that fail to parse even
// after repair are dropped, never returned as errors.
func ExtractCalls(text string, native []NativeCall) []ToolRequest {
	if len(native) > 0 {
		reqs := make([]ToolRequest, 0, len(native))
		for _, nc := range native {
			id := nc.ID
			if id == "" {
				id = uuid.NewString()
			}
			args := nc.Args
			if args == nil {
				args = map[string]any{}
			}
			reqs = append(reqs, ToolRequest{
				ID:     id,
				Name:   nc.Name,
				Args:   args,
				Origin: OriginNative,
				Err:    nc.Error,
			})
		}
		return reqs
	}
	return extractFromText(text)
}

// extractFromText pulls tool calls out of assistant prose. Candidates come
// from fenced json blocks first, then bare top-level objects; each candidate
// must decode to an object naming a tool.
func extractFromText(text string) []ToolRequest {
	var reqs []ToolRequest
	candidates := fencedBlocks(text)
	if len(candidates) == 0 {
		candidates = bareObjects(text)
	}
	for _, raw := range candidates {
		if req, ok := decodeCall(raw); ok {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

// fencedBlocks returns the contents of ```json ... ``` fences.
func fencedBlocks(text string) []string {
	var blocks []string
	rest := text
	for {
		start := strings.Index(rest, "```json")
		if start < 0 {
			break
		}
		rest = rest[start+len("```json"):]
		end := strings.Index(rest, "```")
		if end < 0 {
			break
		}
		blocks = append(blocks, strings.TrimSpace(rest[:end]))
		rest = rest[end+3:]
	}
	return blocks
}

// bareObjects scans for balanced top-level {...} regions, respecting string
// literals and escapes.
func bareObjects(text string) []string {
	var objs []string
	depth := 0
	start := -1
	inStr := false
	escaped := false
	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inStr {
				escaped = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					objs = append(objs, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return objs
}

// decodeCall parses one candidate into a ToolRequest, attempting a repair
// pass when the raw text is near-valid JSON (trailing commas, unquoted keys,
// single quotes).
func decodeCall(raw string) (ToolRequest, bool) {
	obj, ok := parseObject(raw)
	if !ok {
		return ToolRequest{}, false
	}

	name, _ := stringField(obj, "tool")
	if name == "" {
		name, _ = stringField(obj, "name")
	}
	if name == "" {
		return ToolRequest{}, false
	}

	args := map[string]any{}
	for _, key := range []string{"args", "arguments", "parameters"} {
		if v, ok := obj[key]; ok {
			switch a := v.(type) {
			case map[string]any:
				args = a
			case string:
				// Some models double-encode arguments as a JSON string.
				if nested, ok := parseObject(a); ok {
					args = nested
				}
			}
			break
		}
	}

	explanation, _ := stringField(obj, "explanation")
	return ToolRequest{
		ID:          uuid.NewString(),
		Name:        name,
		Args:        args,
		Explanation: explanation,
		Origin:      OriginLegacy,
	}, true
}

func parseObject(raw string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj, true
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func stringField(obj map[string]any, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
