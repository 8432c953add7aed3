// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package chunker

import (
	"regexp"
	"strings"

	"github.com/cortexlabs/cortexd/internal/domain"
)

// ASTExtractor derives structural metadata (function names, class names,
// imports, symbol kind) for a span of source text. It is the external
// AST/chunker abstraction spec.md's Non-goals name ("does not parse source
// code structurally in-process"); a real implementation would shell out to
// or bind a language-specific parser. HeuristicASTExtractor below is the
// lightweight adapter that satisfies the interface without one, in the
// spirit of the teacher's internal/parser.Parser interface dispatching by
// file extension rather than understanding any one format deeply.
type ASTExtractor interface {
	Extract(text, language string) domain.ChunkMetadata
}

// HeuristicASTExtractor regex-scans for common declaration keywords per a
// small set of language tags. It is not a real parser — it is the seam
// where one would be plugged in — so it only recognizes the handful of
// keyword shapes that cover the languages cortexd is likely to index.
type HeuristicASTExtractor struct{}

var (
	funcPatterns = map[string]*regexp.Regexp{
		"go":     regexp.MustCompile(`(?m)^\s*func\s+(?:\([^)]*\)\s*)?(\w+)`),
		"python": regexp.MustCompile(`(?m)^\s*def\s+(\w+)`),
		"js":     regexp.MustCompile(`(?m)\bfunction\s+(\w+)`),
		"ts":     regexp.MustCompile(`(?m)\bfunction\s+(\w+)`),
	}
	classPatterns = map[string]*regexp.Regexp{
		"go":     regexp.MustCompile(`(?m)^\s*type\s+(\w+)\s+struct`),
		"python": regexp.MustCompile(`(?m)^\s*class\s+(\w+)`),
		"js":     regexp.MustCompile(`(?m)\bclass\s+(\w+)`),
		"ts":     regexp.MustCompile(`(?m)\bclass\s+(\w+)`),
	}
	importPatterns = map[string]*regexp.Regexp{
		"go":     regexp.MustCompile(`(?m)^\s*"([^"]+)"`),
		"python": regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([\w.]+)`),
		"js":     regexp.MustCompile(`(?m)\bimport\b.*?['"]([^'"]+)['"]`),
		"ts":     regexp.MustCompile(`(?m)\bimport\b.*?['"]([^'"]+)['"]`),
	}
)

// Extract implements ASTExtractor.
func (HeuristicASTExtractor) Extract(text, language string) domain.ChunkMetadata {
	lang := strings.ToLower(language)
	meta := domain.ChunkMetadata{SymbolKind: domain.SymbolKindNone}

	if re, ok := funcPatterns[lang]; ok {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			meta.FunctionNames = append(meta.FunctionNames, m[1])
		}
	}
	if re, ok := classPatterns[lang]; ok {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			meta.ClassNames = append(meta.ClassNames, m[1])
		}
	}
	if re, ok := importPatterns[lang]; ok {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			meta.Imports = append(meta.Imports, m[1])
		}
	}

	switch {
	case len(meta.ClassNames) > 0:
		meta.SymbolKind = domain.SymbolKindClass
	case len(meta.FunctionNames) > 0:
		meta.SymbolKind = domain.SymbolKindFunction
	default:
		meta.SymbolKind = domain.SymbolKindModule
	}
	return meta
}

// LanguageForExtension maps a lowercased file extension (without the dot)
// to a language tag understood by ASTExtractor implementations. Grounded on
// the teacher's internal/parser/dispatcher.go extension-switch idiom,
// narrowed to source-code extensions since cortexd indexes code, not
// office documents.
func LanguageForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case "go":
		return "go"
	case "py":
		return "python"
	case "js", "jsx", "mjs", "cjs":
		return "js"
	case "ts", "tsx":
		return "ts"
	default:
		return ""
	}
}
