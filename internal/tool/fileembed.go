package tool

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// FileRef is a reference-only file mention: path, size, and a language hint
// derived from its extension. Used by the PLANNING phase, which announces
// intent without spending tokens on bodies (spec §4.6 file embedding policy).
type FileRef struct {
	Path         string
	SizeBytes    int64
	LanguageHint string
}

// FileBody is a fully embedded file, used by INVESTIGATING and VALIDATING.
type FileBody struct {
	Path    string
	Content string
}

var languageHints = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".rs":   "rust",
	".java": "java",
	".rb":   "ruby",
	".md":   "markdown",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
}

func languageHint(path string) string {
	if hint, ok := languageHints[filepath.Ext(path)]; ok {
		return hint
	}
	return "text"
}

// buildFileRefs stats each path without reading its content, grounded on
// the teacher's pkg/rag file-extraction flow of inspecting size before
// deciding whether/how to read a file's body.
func buildFileRefs(paths []string) []FileRef {
	refs := make([]FileRef, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		refs = append(refs, FileRef{Path: p, SizeBytes: size, LanguageHint: languageHint(p)})
	}
	return refs
}

// readFileBodies reads each path's full content, skipping files that can't
// be read (e.g. already deleted since the step referenced them) rather than
// failing the whole step.
func readFileBodies(paths []string) []FileBody {
	bodies := make([]FileBody, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		bodies = append(bodies, FileBody{Path: p, Content: string(data)})
	}
	return bodies
}

var (
	fileTokenEncOnce sync.Once
	fileTokenEnc     *tiktoken.Tiktoken
)

// countFileTokens estimates a file body's token cost using the same
// cl100k_base encoding the History Builder budgets conversation turns with
// (internal/history.Builder). Falls back to a byte/4 approximation if the
// encoding can't be loaded, rather than failing the step over it.
func countFileTokens(s string) int {
	fileTokenEncOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			fileTokenEnc = enc
		}
	})
	if fileTokenEnc == nil {
		return len(s) / 4
	}
	return len(fileTokenEnc.Encode(s, nil, nil))
}

// evictOldestFirst keeps as many bodies as fit within budget, preferring the
// newest ones and evicting the oldest first when over (spec §4.6
// INVESTIGATING "honor token budget, evict oldest first if over"). bodies is
// assumed ordered oldest to newest, matching the order callers build it in
// from relevant_files. Mirrors the newest-first accumulation/break-once-over
// pattern internal/history.Builder.BuildHistory uses for conversation turns.
func evictOldestFirst(bodies []FileBody, budget int) []FileBody {
	if budget <= 0 {
		return nil
	}

	kept := make([]FileBody, 0, len(bodies))
	used := 0
	for i := len(bodies) - 1; i >= 0; i-- {
		cost := countFileTokens(bodies[i].Content)
		if used+cost > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, bodies[i])
		used += cost
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
