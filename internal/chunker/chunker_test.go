package chunker

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/codeask/codeask/pkg/models"
)

const goSample = `package mathutil

import (
	"errors"
)

func Add(a, b int) int {
	return a + b
}

func Subtract(a, b int) int {
	return a - b
}
`

func sourceFile(path, lang, content string) models.SourceFile {
	return models.SourceFile{Path: path, Language: lang, Content: content, Size: len(content)}
}

func TestChunkFindsTopLevelDeclarations(t *testing.T) {
	c := New()
	chunks := c.Chunk("github.com/acme/mathutil", sourceFile("mathutil.go", "go", goSample))

	var symbols []string
	for _, ch := range chunks {
		if ch.Symbol != "" {
			symbols = append(symbols, ch.Symbol)
		}
	}
	// Small declarations merge, but both symbols' code must be covered.
	joined := ""
	for _, ch := range chunks {
		joined += ch.Content + "\n"
	}
	if !strings.Contains(joined, "func Add") || !strings.Contains(joined, "func Subtract") {
		t.Fatalf("expected both declarations covered, got chunks %v", symbols)
	}
	for _, ch := range chunks {
		if ch.LineStart <= 0 || ch.LineEnd < ch.LineStart {
			t.Errorf("invalid line span %d-%d", ch.LineStart, ch.LineEnd)
		}
	}
}

func TestChunkAttachesImportsContext(t *testing.T) {
	c := New()
	chunks := c.Chunk("repo", sourceFile("mathutil.go", "go", goSample))
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
	for _, ch := range chunks {
		if !strings.Contains(ch.ImportsContext, `"errors"`) {
			t.Errorf("chunk %s missing imports context: %q", ch.ID, ch.ImportsContext)
		}
	}
}

func TestChunkDeterminism(t *testing.T) {
	c := New()
	first := c.Chunk("repo", sourceFile("a.go", "go", goSample))
	second := c.Chunk("repo", sourceFile("a.go", "go", goSample))
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical content must yield identical chunks")
	}
}

func TestChunkSplitsOversizedDeclaration(t *testing.T) {
	var b strings.Builder
	b.WriteString("func Huge() {\n")
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "\tx%d := computeSomethingRatherLongWinded(%d)\n", i, i)
		if i%20 == 19 {
			b.WriteString("\n")
		}
	}
	b.WriteString("}\n")

	c := New()
	chunks := c.Chunk("repo", sourceFile("huge.go", "go", b.String()))
	if len(chunks) < 2 {
		t.Fatalf("expected oversized declaration to split, got %d chunk(s)", len(chunks))
	}
	for _, ch := range chunks {
		if ch.TokenCount > MaxTokens+MaxTokens/10 {
			t.Errorf("chunk %d-%d still oversized: %d tokens", ch.LineStart, ch.LineEnd, ch.TokenCount)
		}
	}
	// Pieces keep the declaration's symbol.
	for _, ch := range chunks {
		if ch.Symbol != "Huge" {
			t.Errorf("split piece lost symbol, got %q", ch.Symbol)
		}
	}
}

func TestChunkMergesUndersizedDeclarations(t *testing.T) {
	src := `func A() int { return 1 }

func B() int { return 2 }

func C() int { return 3 }
`
	c := New()
	chunks := c.Chunk("repo", sourceFile("small.go", "go", src))
	if len(chunks) != 1 {
		t.Fatalf("expected tiny adjacent declarations to merge into one chunk, got %d", len(chunks))
	}
}

func TestChunkFallsBackToWindows(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&b, "line %d with some free-form text that matches no declaration\n", i)
	}

	c := New()
	chunks := c.Chunk("repo", sourceFile("notes.txt", "text", b.String()))
	if len(chunks) < 2 {
		t.Fatalf("expected sliding windows over 150 lines, got %d chunk(s)", len(chunks))
	}
	if chunks[0].LineStart != 1 {
		t.Errorf("first window starts at %d, want 1", chunks[0].LineStart)
	}
	// Windows overlap.
	if chunks[1].LineStart >= chunks[0].LineEnd {
		t.Errorf("windows do not overlap: %d-%d then %d-%d",
			chunks[0].LineStart, chunks[0].LineEnd, chunks[1].LineStart, chunks[1].LineEnd)
	}
}

func TestChunkPythonIndentation(t *testing.T) {
	src := `import os

def add(a, b):
    return a + b

def subtract(a, b):
    return a - b
`
	c := New()
	chunks := c.Chunk("repo", sourceFile("math.py", "python", src))
	if len(chunks) == 0 {
		t.Fatal("expected chunks from python file")
	}
	joined := ""
	for _, ch := range chunks {
		joined += ch.Content + "\n"
		if !strings.Contains(ch.ImportsContext, "import os") {
			t.Errorf("missing imports context: %q", ch.ImportsContext)
		}
	}
	if !strings.Contains(joined, "def add") || !strings.Contains(joined, "def subtract") {
		t.Fatal("python declarations not covered")
	}
}

func TestChunkEmptyFile(t *testing.T) {
	c := New()
	if chunks := c.Chunk("repo", sourceFile("empty.go", "go", "")); len(chunks) != 0 {
		t.Fatalf("expected no chunks from empty file, got %d", len(chunks))
	}
}

func TestChunkIDsAreStableAndDistinct(t *testing.T) {
	c := New()
	chunks := c.Chunk("repo", sourceFile("a.go", "go", goSample))
	seen := map[string]bool{}
	for _, ch := range chunks {
		if ch.ID == "" {
			t.Fatal("empty chunk id")
		}
		if seen[ch.ID] {
			t.Fatalf("duplicate chunk id %s", ch.ID)
		}
		seen[ch.ID] = true
	}

	other := c.Chunk("other-repo", sourceFile("a.go", "go", goSample))
	if len(other) > 0 && len(chunks) > 0 && other[0].ID == chunks[0].ID {
		t.Fatal("chunk ids must differ across repositories")
	}
}
