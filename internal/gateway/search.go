package gateway

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	gitignore "github.com/sabhiram/go-gitignore"
)

const (
	searchChunkLines  = 50
	searchMaxFileSize = 512 * 1024
	searchMaxResults  = 20
)

var searchableExts = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".java": true, ".c": true, ".cpp": true, ".h": true, ".hpp": true,
	".rs": true, ".rb": true, ".php": true, ".html": true, ".css": true, ".scss": true,
	".md": true, ".txt": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".sh": true, ".sql": true, ".xml": true, ".proto": true,
}

// fileIndex is an in-memory full-text index over workspace files, built
// lazily and rebuilt after any mutating tool succeeds. Files are indexed in
// fixed line windows so hits come back with usable line ranges.
type fileIndex struct {
	root string

	mu    sync.Mutex
	index bleve.Index
	dirty bool
}

func newFileIndex(root string) *fileIndex {
	return &fileIndex{root: root, dirty: true}
}

func (fi *fileIndex) markDirty() {
	fi.mu.Lock()
	fi.dirty = true
	fi.mu.Unlock()
}

// chunkHit is one search result: a line window of a file.
type chunkHit struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
}

func (fi *fileIndex) search(query, glob string, limit int) ([]chunkHit, error) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if err := fi.ensureFreshLocked(); err != nil {
		return nil, err
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("text")

	var combined = bleve.NewConjunctionQuery(q)
	if glob != "" {
		wildcard := bleve.NewWildcardQuery(globToWildcard(glob))
		wildcard.SetField("path")
		combined = bleve.NewConjunctionQuery(q, wildcard)
	}

	req := bleve.NewSearchRequest(combined)
	req.Size = limit
	req.Fields = []string{"path", "start_line", "end_line"}

	res, err := fi.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	hits := make([]chunkHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		h := chunkHit{Score: hit.Score}
		if p, ok := hit.Fields["path"].(string); ok {
			h.Path = p
		}
		if s, ok := hit.Fields["start_line"].(float64); ok {
			h.StartLine = int(s)
		}
		if e, ok := hit.Fields["end_line"].(float64); ok {
			h.EndLine = int(e)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (fi *fileIndex) ensureFreshLocked() error {
	if fi.index != nil && !fi.dirty {
		return nil
	}
	if fi.index != nil {
		fi.index.Close()
		fi.index = nil
	}

	idx, err := bleve.NewMemOnly(buildSearchMapping())
	if err != nil {
		return fmt.Errorf("create search index: %w", err)
	}

	if err := fi.fillIndex(idx); err != nil {
		idx.Close()
		return err
	}

	fi.index = idx
	fi.dirty = false
	return nil
}

func buildSearchMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = keyword.Name
	pathField.Store = true
	docMapping.AddFieldMappingsAt("path", pathField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = false
	docMapping.AddFieldMappingsAt("text", textField)

	startField := bleve.NewNumericFieldMapping()
	startField.Store = true
	startField.Index = false
	docMapping.AddFieldMappingsAt("start_line", startField)

	endField := bleve.NewNumericFieldMapping()
	endField.Store = true
	endField.Index = false
	docMapping.AddFieldMappingsAt("end_line", endField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func (fi *fileIndex) fillIndex(idx bleve.Index) error {
	matcher := gitignore.CompileIgnoreLines(".git", "node_modules", "vendor", "dist", "build", "target")
	batch := idx.NewBatch()

	err := filepath.WalkDir(fi.root, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(fi.root, walkPath)
		if relErr != nil || rel == "." {
			return nil
		}
		if matcher.MatchesPath(rel) || strings.HasPrefix(rel, ".git") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !searchableExts[strings.ToLower(filepath.Ext(rel))] {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > searchMaxFileSize {
			return nil
		}

		data, readErr := os.ReadFile(walkPath)
		if readErr != nil {
			return nil
		}

		lines := strings.Split(string(data), "\n")
		for start := 0; start < len(lines); start += searchChunkLines {
			end := start + searchChunkLines
			if end > len(lines) {
				end = len(lines)
			}
			doc := map[string]any{
				"path":       rel,
				"text":       strings.Join(lines[start:end], "\n"),
				"start_line": start + 1,
				"end_line":   end,
			}
			id := fmt.Sprintf("%s:%d", rel, start+1)
			if err := batch.Index(id, doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index workspace: %w", err)
	}

	return idx.Batch(batch)
}

func (fi *fileIndex) Close() error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if fi.index == nil {
		return nil
	}
	err := fi.index.Close()
	fi.index = nil
	return err
}

// globToWildcard converts a glob to a bleve wildcard pattern anchored loosely
// at both ends so "*.go" matches nested paths.
func globToWildcard(glob string) string {
	pattern := strings.ReplaceAll(glob, "**", "*")
	if !strings.HasPrefix(pattern, "*") {
		pattern = "*" + pattern
	}
	return pattern
}

func searchFilesTool(index *fileIndex) Tool {
	return Tool{
		Name:        "search_files",
		Description: "Full-text search across workspace files. Returns matching files with line ranges ranked by relevance. Use read_file with start_line/end_line to inspect hits.",
		SchemaJSON:  `{"type":"object","properties":{"query":{"type":"string","description":"Words or identifiers to search for"},"glob":{"type":"string","description":"Optional: restrict to paths matching this pattern, e.g. *.go"},"limit":{"type":"integer","minimum":1,"maximum":50,"description":"Maximum results (default 20)"}},"required":["query"]}`,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			query, err := stringArg(args, "query")
			if err != nil {
				return "", err
			}
			glob, _ := args["glob"].(string)
			limit := searchMaxResults
			if l, ok := intArg(args, "limit"); ok && l > 0 {
				limit = l
			}

			hits, err := index.search(query, glob, limit)
			if err != nil {
				return "", err
			}
			return marshalResult(map[string]any{
				"query": query, "results": hits, "count": len(hits),
			})
		},
	}
}
