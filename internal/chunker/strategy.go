package chunker

import (
	"regexp"
	"strings"
)

// Declaration is one top-level unit located by a strategy. Lines are
// 1-based and inclusive.
type Declaration struct {
	Symbol    string
	LineStart int
	LineEnd   int
}

// Strategy locates top-level declarations and import statements in a file.
// Implementations are pure functions of the line slice, so chunk boundaries
// are deterministic for identical content. A real parser could replace any
// of them behind this interface.
type Strategy interface {
	Declarations(lines []string) []Declaration
	Imports(lines []string) []string
}

// strategyFor returns the strategy for a language, or nil when only the
// sliding-window fallback applies.
func strategyFor(language string) Strategy {
	switch language {
	case "go", "javascript", "typescript", "java", "c", "cpp", "csharp",
		"rust", "kotlin", "swift", "scala", "php":
		return &braceStrategy{language: language}
	case "python", "ruby":
		return &indentStrategy{language: language}
	default:
		return nil
	}
}

// declStarters are keyword prefixes that open a top-level declaration in
// brace-delimited languages.
var declStarters = []string{
	"func ", "type ", "var ", "const ", // go
	"function ", "class ", "interface ", "enum ", "struct ",
	"export ", "public ", "private ", "protected ", "static ",
	"abstract ", "final ", "async ", "fn ", "impl ", "trait ",
	"pub ", "def ", "object ",
}

var symbolRe = regexp.MustCompile(`(?:func|function|class|interface|enum|struct|type|fn|def|impl|trait|object)\s+(?:\([^)]*\)\s*)?([A-Za-z_][A-Za-z0-9_]*)`)

// braceStrategy finds declarations by keyword cues at column zero and
// tracks brace depth to find where each one ends.
type braceStrategy struct {
	language string
}

func (s *braceStrategy) Declarations(lines []string) []Declaration {
	var decls []Declaration
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !startsDeclaration(line) {
			i++
			continue
		}

		start := i
		depth := 0
		opened := false
		end := i
		for j := i; j < len(lines); j++ {
			depth += strings.Count(lines[j], "{") - strings.Count(lines[j], "}")
			if strings.Contains(lines[j], "{") {
				opened = true
			}
			if opened && depth <= 0 {
				end = j
				break
			}
			// Brace-less declaration: ends before the next top-level cue.
			if !opened && j > i && startsDeclaration(lines[j]) {
				end = j - 1
				break
			}
			end = j
		}

		decls = append(decls, Declaration{
			Symbol:    extractSymbol(lines[start]),
			LineStart: start + 1,
			LineEnd:   end + 1,
		})
		i = end + 1
	}
	return decls
}

func (s *braceStrategy) Imports(lines []string) []string {
	var imports []string
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
			imports = append(imports, line)
		case inBlock:
			imports = append(imports, line)
			if strings.HasPrefix(trimmed, ")") {
				inBlock = false
			}
		case strings.HasPrefix(trimmed, "import ") ||
			strings.HasPrefix(trimmed, "package ") ||
			strings.HasPrefix(trimmed, "#include ") ||
			strings.HasPrefix(trimmed, "using ") ||
			strings.HasPrefix(trimmed, "use "):
			imports = append(imports, line)
		}
	}
	return imports
}

// indentStrategy finds declarations in indentation-scoped languages: a
// top-level def/class runs until the next unindented non-blank line.
type indentStrategy struct {
	language string
}

var indentDeclRe = regexp.MustCompile(`^(def |class |async def |module |[A-Za-z_][A-Za-z0-9_]*\s*=)`)

func (s *indentStrategy) Declarations(lines []string) []Declaration {
	var decls []Declaration
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !indentDeclRe.MatchString(line) {
			i++
			continue
		}

		// Pull preceding decorators into the declaration.
		start := i
		for start > 0 && strings.HasPrefix(strings.TrimSpace(lines[start-1]), "@") {
			start--
		}

		end := i
		for j := i + 1; j < len(lines); j++ {
			t := lines[j]
			if strings.TrimSpace(t) == "" {
				continue
			}
			if !strings.HasPrefix(t, " ") && !strings.HasPrefix(t, "\t") {
				break
			}
			end = j
		}

		decls = append(decls, Declaration{
			Symbol:    extractSymbol(lines[i]),
			LineStart: start + 1,
			LineEnd:   end + 1,
		})
		i = end + 1
	}
	return decls
}

func (s *indentStrategy) Imports(lines []string) []string {
	var imports []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") ||
			strings.HasPrefix(trimmed, "from ") ||
			strings.HasPrefix(trimmed, "require ") ||
			strings.HasPrefix(trimmed, "require_relative ") {
			imports = append(imports, line)
		}
	}
	return imports
}

func startsDeclaration(line string) bool {
	if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
		return false
	}
	for _, kw := range declStarters {
		if strings.HasPrefix(line, kw) {
			return true
		}
	}
	return false
}

func extractSymbol(line string) string {
	if m := symbolRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return ""
}
