package search

import "strings"

// sourceExtensions limits indexing to text source files.
var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".ts": true, ".tsx": true,
	".java": true, ".rb": true, ".rs": true, ".c": true, ".h": true,
	".cpp": true, ".hpp": true, ".cs": true, ".sh": true, ".sql": true,
	".yaml": true, ".yml": true, ".toml": true, ".json": true, ".md": true,
}

// skipDirs are never walked.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, ".idea": true, ".vscode": true,
}

// Chunk is one indexed window of a source file. Line numbers are
// 1-based and inclusive.
type Chunk struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Content   string  `json:"content"`
	Score     float64 `json:"score,omitempty"`
}

// chunkLines splits content into overlapping line windows. overlap
// must be smaller than size; the chunker clamps it rather than
// looping forever.
func chunkLines(path, content string, size, overlap int) []Chunk {
	if size <= 0 {
		size = 40
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	lines := strings.Split(content, "\n")
	if len(lines) == 0 || (len(lines) == 1 && strings.TrimSpace(lines[0]) == "") {
		return nil
	}

	step := size - overlap
	var chunks []Chunk
	for start := 0; start < len(lines); start += step {
		end := start + size
		if end > len(lines) {
			end = len(lines)
		}
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, Chunk{
				Path:      path,
				StartLine: start + 1,
				EndLine:   end,
				Content:   text,
			})
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}
