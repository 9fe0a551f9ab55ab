package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// resolvePath joins rel onto root and rejects anything that escapes it.
func resolvePath(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	abs := filepath.Clean(filepath.Join(root, rel))
	r, err := filepath.Rel(filepath.Clean(root), abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace root", rel)
	}
	return abs, nil
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal tool result: %w", err)
	}
	return string(data), nil
}

const (
	readFullLimit    = 200 // lines: below this, full content
	readWarnLimit    = 400 // lines: below this, full content plus a size note
	readOutlineLines = 30  // lines shown at each end in outline mode
)

func readFileTool(root string) Tool {
	return Tool{
		Name:        "read_file",
		Description: "Reads a file from the workspace. Large files return an outline; pass start_line/end_line to read a specific range.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the workspace root"},"start_line":{"type":"integer","minimum":1,"description":"Optional: first line of a range to read (1-indexed)"},"end_line":{"type":"integer","minimum":1,"description":"Optional: last line of the range (inclusive)"}},"required":["path"]}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			abs, err := resolvePath(root, path)
			if err != nil {
				return "", err
			}

			data, err := os.ReadFile(abs)
			if err != nil {
				return "", err
			}
			content := string(data)
			lines := strings.Split(content, "\n")

			if start, ok := intArg(args, "start_line"); ok {
				end, _ := intArg(args, "end_line")
				return readRange(path, lines, start, end)
			}

			lineCount := len(lines)
			switch {
			case lineCount < readFullLimit:
				return marshalResult(map[string]any{
					"path": path, "content": content, "line_count": lineCount, "content_type": "full",
				})
			case lineCount < readWarnLimit:
				note := fmt.Sprintf("note: this file has %d lines; for edits, re-read the relevant section with start_line/end_line\n\n", lineCount)
				return marshalResult(map[string]any{
					"path": path, "content": note + content, "line_count": lineCount, "content_type": "full",
				})
			default:
				return marshalResult(map[string]any{
					"path": path, "content": buildOutline(path, lines), "line_count": lineCount, "content_type": "outline",
				})
			}
		},
	}
}

// stringArg fetches a required string argument. Schema validation normally
// guarantees presence and type; this guards direct calls.
func stringArg(args map[string]any, key string) (string, error) {
	s, ok := args[key].(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func readRange(path string, lines []string, start, end int) (string, error) {
	if start < 1 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return "", fmt.Errorf("start_line %d is past the end of %s (%d lines)", start, path, len(lines))
	}
	if end < start {
		return "", fmt.Errorf("end_line %d is before start_line %d", end, start)
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		fmt.Fprintf(&b, "%5d | %s\n", i, lines[i-1])
	}
	return marshalResult(map[string]any{
		"path": path, "content": b.String(), "start_line": start, "end_line": end,
		"line_count": len(lines), "content_type": "range",
	})
}

// buildOutline summarizes a file too large to return whole: declaration
// lines for known languages, head and tail for everything else.
func buildOutline(path string, lines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OUTLINE: %s has %d lines, too large to return in full.\n", path, len(lines))
	b.WriteString("Use read_file with start_line/end_line to read the sections you need.\n\n")

	prefixes := declPrefixes(filepath.Ext(path))
	if prefixes != nil {
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			for _, p := range prefixes {
				if strings.HasPrefix(trimmed, p) {
					fmt.Fprintf(&b, "%5d | %s\n", i+1, trimmed)
					break
				}
			}
		}
		return b.String()
	}

	for i := 0; i < readOutlineLines && i < len(lines); i++ {
		fmt.Fprintf(&b, "%5d | %s\n", i+1, lines[i])
	}
	if len(lines) > 2*readOutlineLines {
		fmt.Fprintf(&b, "... %d lines omitted ...\n", len(lines)-2*readOutlineLines)
		for i := len(lines) - readOutlineLines; i < len(lines); i++ {
			fmt.Fprintf(&b, "%5d | %s\n", i+1, lines[i])
		}
	}
	return b.String()
}

func declPrefixes(ext string) []string {
	switch ext {
	case ".go":
		return []string{"package ", "import", "type ", "func ", "const ", "var "}
	case ".py":
		return []string{"import ", "from ", "class ", "def ", "@"}
	case ".ts", ".tsx", ".js", ".jsx":
		return []string{"import ", "export ", "class ", "function ", "interface ", "type ", "const "}
	default:
		return nil
	}
}

func writeFileTool(root string) Tool {
	return Tool{
		Name:        "write_file",
		Description: "Writes content to a file, creating parent directories as needed. Overwrites existing files.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the workspace root"},"content":{"type":"string","description":"Full content to write"}},"required":["path","content"]}`,
		Mutating:    true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			content, err := stringArg(args, "content")
			if err != nil {
				return "", err
			}

			abs, err := resolvePath(root, path)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
				return "", fmt.Errorf("create directory: %w", err)
			}
			if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("write file: %w", err)
			}
			return marshalResult(map[string]any{"path": path, "bytes": len(content), "success": true})
		},
	}
}

func editFileTool(root string) Tool {
	return Tool{
		Name:        "edit_file",
		Description: "Replaces an exact string in a file. Read the file first and copy the text exactly; old_string must be unique unless replace_all is set.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the workspace root"},"old_string":{"type":"string","description":"Exact text to find"},"new_string":{"type":"string","description":"Replacement text"},"replace_all":{"type":"boolean","description":"Replace every occurrence instead of requiring uniqueness"}},"required":["path","old_string","new_string"]}`,
		Mutating:    true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			oldString, err := stringArg(args, "old_string")
			if err != nil {
				return "", err
			}
			newString, err := stringArg(args, "new_string")
			if err != nil {
				return "", err
			}
			replaceAll, _ := args["replace_all"].(bool)

			abs, err := resolvePath(root, path)
			if err != nil {
				return "", err
			}
			return editFile(abs, path, oldString, newString, replaceAll)
		},
	}
}

func editFile(abs, path, oldString, newString string, replaceAll bool) (string, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	content := string(data)

	if isGen, marker := isGeneratedFile(content); isGen {
		return "", fmt.Errorf("%s appears to be generated (found %q); edit the generator instead", path, marker)
	}
	if oldString == newString {
		return "", fmt.Errorf("old_string and new_string are identical")
	}

	count := strings.Count(content, oldString)
	if count == 0 {
		hint := ""
		normContent := strings.Join(strings.Fields(content), " ")
		normOld := strings.Join(strings.Fields(oldString), " ")
		if strings.Contains(normContent, normOld) {
			hint = "; the text exists but with different whitespace or indentation (file uses " + detectIndentation(content) + ")"
		}
		return "", fmt.Errorf("old_string not found in %s%s; re-read the file and copy the exact text", path, hint)
	}
	if count > 1 && !replaceAll {
		return "", fmt.Errorf("old_string appears %d times in %s; add surrounding context to make it unique, or set replace_all", count, path)
	}

	var updated string
	replacements := 1
	if replaceAll {
		updated = strings.ReplaceAll(content, oldString, newString)
		replacements = count
	} else {
		updated = strings.Replace(content, oldString, newString, 1)
	}

	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return marshalResult(map[string]any{"path": path, "replacements": replacements, "success": true})
}

func isGeneratedFile(content string) (bool, string) {
	preview := content
	if len(preview) > 500 {
		preview = preview[:500]
	}
	for _, marker := range []string{"Code generated", "DO NOT EDIT", "Auto-generated", "automatically generated"} {
		if strings.Contains(preview, marker) {
			return true, marker
		}
	}
	return false, ""
}

func detectIndentation(content string) string {
	switch {
	case strings.Contains(content, "\t"):
		return "tabs"
	case strings.Contains(content, "    "):
		return "4 spaces"
	case strings.Contains(content, "  "):
		return "2 spaces"
	default:
		return "unknown indentation"
	}
}

const listDirDefaultLimit = 1000

func listDirTool(root string) Tool {
	return Tool{
		Name:        "list_dir",
		Description: "Lists files under a directory. Supports recursive listing with gitignore-style ignore patterns.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Directory relative to the workspace root (empty for the root)"},"recursive":{"type":"boolean","description":"Walk subdirectories"},"max_depth":{"type":"integer","description":"Depth limit for recursive listing (-1 for unlimited)"},"limit":{"type":"integer","description":"Maximum entries to return (default 1000)"},"ignore_patterns":{"type":"array","items":{"type":"string"},"description":"gitignore-style patterns to skip (default .git, node_modules)"}},"required":[]}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				path = "."
			}
			recursive, _ := args["recursive"].(bool)
			maxDepth := -1
			if d, ok := intArg(args, "max_depth"); ok {
				maxDepth = d
			}
			limit := listDirDefaultLimit
			if l, ok := intArg(args, "limit"); ok && l > 0 {
				limit = l
			}
			patterns := []string{".git", "node_modules"}
			if raw, ok := args["ignore_patterns"].([]any); ok && len(raw) > 0 {
				patterns = patterns[:0]
				for _, p := range raw {
					if s, ok := p.(string); ok {
						patterns = append(patterns, s)
					}
				}
			}

			abs, err := resolvePath(root, path)
			if err != nil {
				return "", err
			}
			return listDir(root, abs, path, recursive, maxDepth, limit, patterns)
		},
	}
}

func listDir(root, abs, relPath string, recursive bool, maxDepth, limit int, patterns []string) (string, error) {
	matcher := gitignore.CompileIgnoreLines(patterns...)
	ignored := func(rel string) bool {
		if rel == ".git" || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
			return true
		}
		return matcher.MatchesPath(rel)
	}

	var files []string
	truncated := false

	if recursive {
		err := filepath.WalkDir(abs, func(walkPath string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if walkPath == abs {
				return nil
			}
			rel, err := filepath.Rel(root, walkPath)
			if err != nil {
				return nil
			}
			if ignored(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if maxDepth >= 0 {
				relFromStart, err := filepath.Rel(abs, walkPath)
				if err == nil && strings.Count(relFromStart, string(filepath.Separator)) > maxDepth {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
			}
			files = append(files, rel)
			if len(files) >= limit {
				truncated = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			return "", err
		}
	} else {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return "", err
		}
		for _, entry := range entries {
			rel := entry.Name()
			if relPath != "." {
				rel = filepath.Join(relPath, entry.Name())
			}
			if ignored(rel) {
				continue
			}
			files = append(files, rel)
			if len(files) >= limit {
				truncated = true
				break
			}
		}
	}

	return marshalResult(map[string]any{
		"path": relPath, "files": files, "recursive": recursive, "truncated": truncated,
	})
}

func moveFileTool(root string) Tool {
	return Tool{
		Name:        "move_file",
		Description: "Moves or renames a file or directory within the workspace, creating destination directories as needed.",
		SchemaJSON:  `{"type":"object","properties":{"source":{"type":"string","description":"Existing path relative to the workspace root"},"destination":{"type":"string","description":"Target path relative to the workspace root"}},"required":["source","destination"]}`,
		Mutating:    true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			source, err := stringArg(args, "source")
			if err != nil {
				return "", err
			}
			destination, err := stringArg(args, "destination")
			if err != nil {
				return "", err
			}

			srcAbs, err := resolvePath(root, source)
			if err != nil {
				return "", err
			}
			dstAbs, err := resolvePath(root, destination)
			if err != nil {
				return "", err
			}
			if _, err := os.Stat(srcAbs); err != nil {
				return "", fmt.Errorf("source: %w", err)
			}
			if _, err := os.Stat(dstAbs); err == nil {
				return "", fmt.Errorf("destination %s already exists", destination)
			}
			if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
				return "", fmt.Errorf("create destination directory: %w", err)
			}
			if err := os.Rename(srcAbs, dstAbs); err != nil {
				return "", fmt.Errorf("move: %w", err)
			}
			return marshalResult(map[string]any{"source": source, "destination": destination, "success": true})
		},
	}
}

func createDirTool(root string) Tool {
	return Tool{
		Name:        "create_dir",
		Description: "Creates a directory (and any missing parents) in the workspace.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Directory path relative to the workspace root"}},"required":["path"]}`,
		Mutating:    true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			abs, err := resolvePath(root, path)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return "", fmt.Errorf("create directory: %w", err)
			}
			return marshalResult(map[string]any{"path": path, "success": true})
		},
	}
}

func deleteFileTool(root string) Tool {
	return Tool{
		Name:        "delete_file",
		Description: "Deletes a single file. Cannot delete directories. Deleting a file that does not exist succeeds.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"File path relative to the workspace root"}},"required":["path"]}`,
		Mutating:    true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			abs, err := resolvePath(root, path)
			if err != nil {
				return "", err
			}

			info, err := os.Stat(abs)
			if err != nil {
				if os.IsNotExist(err) {
					return marshalResult(map[string]any{"path": path, "success": true, "message": "file does not exist (already deleted)"})
				}
				return "", fmt.Errorf("stat: %w", err)
			}
			if info.IsDir() {
				return "", fmt.Errorf("%s is a directory; delete_file only removes files", path)
			}
			if err := os.Remove(abs); err != nil {
				return "", fmt.Errorf("delete: %w", err)
			}
			return marshalResult(map[string]any{"path": path, "success": true})
		},
	}
}

func fileInfoTool(root string) Tool {
	return Tool{
		Name:        "get_file_info",
		Description: "Returns size, type, and modification time for a file or directory.",
		SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the workspace root"}},"required":["path"]}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			abs, err := resolvePath(root, path)
			if err != nil {
				return "", err
			}
			info, err := os.Stat(abs)
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]any{
				"path":     path,
				"size":     info.Size(),
				"is_dir":   info.IsDir(),
				"mode":     info.Mode().String(),
				"modified": info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
			})
		},
	}
}
