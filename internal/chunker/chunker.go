// Package chunker splits source files into bounded, self-contained chunks.
// Boundaries come from heuristic per-language strategies, not a real
// parser; identical content always yields identical chunks.
package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/codeask/codeask/pkg/models"
)

const (
	// MinTokens is the lower chunk bound; smaller adjacent declarations
	// are merged. A lone undersized declaration is kept as-is.
	MinTokens = 40

	// MaxTokens is the upper chunk bound; larger declarations are split
	// on blank-line boundaries.
	MaxTokens = 400

	// tokensPerChar is the chars-per-token estimate (~4 chars/token).
	tokensPerChar = 4

	// Sliding-window fallback for files without recognizable declarations.
	windowLines   = 60
	windowOverlap = 10

	// splitOverlap carries context lines across an oversized-split cut.
	splitOverlap = 2
)

// Chunker turns one source file into chunks for a repository.
type Chunker struct{}

func New() *Chunker {
	return &Chunker{}
}

// Chunk splits file into bounded chunks attributed to repoID.
func (c *Chunker) Chunk(repoID string, file models.SourceFile) []models.Chunk {
	lines := strings.Split(file.Content, "\n")

	var imports []string
	var decls []Declaration
	if s := strategyFor(file.Language); s != nil {
		imports = s.Imports(lines)
		decls = s.Declarations(lines)
	}
	if len(decls) == 0 {
		decls = windowDeclarations(lines)
	}

	decls = mergeUndersized(decls, lines)

	var chunks []models.Chunk
	importsContext := strings.Join(imports, "\n")
	for _, d := range decls {
		for _, piece := range splitOversized(d, lines) {
			content := strings.Join(lines[piece.LineStart-1:piece.LineEnd], "\n")
			if strings.TrimSpace(content) == "" {
				continue
			}
			chunks = append(chunks, models.Chunk{
				ID:             chunkID(repoID, file.Path, piece.LineStart, piece.LineEnd),
				Repository:     repoID,
				Path:           file.Path,
				Symbol:         piece.Symbol,
				Language:       file.Language,
				Content:        content,
				ImportsContext: importsContext,
				LineStart:      piece.LineStart,
				LineEnd:        piece.LineEnd,
				TokenCount:     estimateTokens(content),
			})
		}
	}
	return chunks
}

// estimateTokens approximates the token count of s.
func estimateTokens(s string) int {
	return len(s) / tokensPerChar
}

// declTokens estimates the token count of a declaration's span.
func declTokens(d Declaration, lines []string) int {
	n := 0
	for _, l := range lines[d.LineStart-1 : d.LineEnd] {
		n += len(l) + 1
	}
	return n / tokensPerChar
}

// mergeUndersized greedily merges adjacent undersized declarations while
// the combined span stays within MaxTokens.
func mergeUndersized(decls []Declaration, lines []string) []Declaration {
	if len(decls) < 2 {
		return decls
	}

	out := make([]Declaration, 0, len(decls))
	cur := decls[0]
	for _, next := range decls[1:] {
		curTok := declTokens(cur, lines)
		merged := Declaration{
			Symbol:    cur.Symbol,
			LineStart: cur.LineStart,
			LineEnd:   next.LineEnd,
		}
		if curTok < MinTokens && declTokens(merged, lines) <= MaxTokens {
			cur = merged
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

// splitOversized cuts a declaration exceeding MaxTokens on blank-line
// boundaries, with a small line overlap between pieces. A declaration with
// no usable blank line is cut at the hard token boundary instead.
func splitOversized(d Declaration, lines []string) []Declaration {
	if declTokens(d, lines) <= MaxTokens {
		return []Declaration{d}
	}

	var pieces []Declaration
	start := d.LineStart
	tokens := 0
	lastBlank := 0

	for ln := d.LineStart; ln <= d.LineEnd; ln++ {
		if strings.TrimSpace(lines[ln-1]) == "" {
			lastBlank = ln
		}
		tokens += (len(lines[ln-1]) + 1) / tokensPerChar

		if tokens < MaxTokens {
			continue
		}

		cut := ln
		if lastBlank > start {
			cut = lastBlank
		}
		pieces = append(pieces, Declaration{Symbol: d.Symbol, LineStart: start, LineEnd: cut})

		start = cut - splitOverlap + 1
		if start <= pieces[len(pieces)-1].LineStart {
			start = cut + 1
		}
		ln = start - 1
		tokens = 0
		lastBlank = 0
	}

	if start <= d.LineEnd {
		pieces = append(pieces, Declaration{Symbol: d.Symbol, LineStart: start, LineEnd: d.LineEnd})
	}
	return pieces
}

// windowDeclarations is the fallback for files with no recognizable
// declarations: fixed-size sliding windows with overlap.
func windowDeclarations(lines []string) []Declaration {
	if len(lines) == 0 {
		return nil
	}

	var decls []Declaration
	step := windowLines - windowOverlap
	for start := 0; start < len(lines); start += step {
		end := start + windowLines
		if end > len(lines) {
			end = len(lines)
		}
		decls = append(decls, Declaration{LineStart: start + 1, LineEnd: end})
		if end == len(lines) {
			break
		}
	}
	return decls
}

func chunkID(repoID, path string, a, b int) string {
	h := sha1.Sum([]byte(repoID + "#" + path + "#" + fmt.Sprintf("%d:%d", a, b)))
	return hex.EncodeToString(h[:])
}
