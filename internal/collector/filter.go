package collector

import (
	"path/filepath"
	"strings"
)

// sourceExtensions is the allow-list of file types worth indexing.
var sourceExtensions = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".kt":    "kotlin",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".sql":   "sql",
	".tf":    "terraform",
}

// shouldSkip returns true if the file at path should be excluded from
// collection: dependency trees, build output, editor state, and anything
// outside the source-extension allow-list.
func shouldSkip(path string) bool {
	p := strings.ToLower(filepath.ToSlash(path))
	for _, dir := range []string{
		"/vendor/", "/.git/", "/.terraform/", "/node_modules/",
		"/target/", "/build/", "/dist/", "/out/", "/bin/", "/obj/",
		"/.venv/", "/venv/", "/__pycache__/", "/.pytest_cache/",
		"/.gradle/", "/.m2/", "/.idea/", "/coverage/", "/.cache/",
	} {
		if strings.Contains("/"+p, dir) {
			return true
		}
	}
	_, ok := sourceExtensions[filepath.Ext(p)]
	return !ok
}

// guessLang maps a file path to a language name via its extension.
func guessLang(path string) string {
	if lang, ok := sourceExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
