package chunk

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageConfig describes one supported language for structural
// chunking.
type languageConfig struct {
	name        string
	extensions  []string
	sitterLang  *sitter.Language
	symbolTypes map[string]bool // node types that define symbols
}

var languages = buildLanguages()

func buildLanguages() map[string]*languageConfig {
	configs := []*languageConfig{
		{
			name:       "go",
			extensions: []string{".go"},
			sitterLang: golang.GetLanguage(),
			symbolTypes: map[string]bool{
				"function_declaration": true,
				"method_declaration":   true,
				"type_declaration":     true,
				"const_declaration":    true,
				"var_declaration":      true,
			},
		},
		{
			name:       "javascript",
			extensions: []string{".js", ".jsx", ".mjs"},
			sitterLang: javascript.GetLanguage(),
			symbolTypes: map[string]bool{
				"function_declaration": true,
				"class_declaration":    true,
				"method_definition":    true,
				"lexical_declaration":  true,
			},
		},
		{
			name:       "typescript",
			extensions: []string{".ts"},
			sitterLang: typescript.GetLanguage(),
			symbolTypes: map[string]bool{
				"function_declaration":  true,
				"class_declaration":     true,
				"method_definition":     true,
				"interface_declaration": true,
				"type_alias_declaration": true,
				"lexical_declaration":   true,
			},
		},
		{
			name:       "tsx",
			extensions: []string{".tsx"},
			sitterLang: tsx.GetLanguage(),
			symbolTypes: map[string]bool{
				"function_declaration":  true,
				"class_declaration":     true,
				"method_definition":     true,
				"interface_declaration": true,
				"lexical_declaration":   true,
			},
		},
		{
			name:       "python",
			extensions: []string{".py"},
			sitterLang: python.GetLanguage(),
			symbolTypes: map[string]bool{
				"function_definition": true,
				"class_definition":    true,
				"decorated_definition": true,
			},
		},
	}

	byName := make(map[string]*languageConfig, len(configs))
	for _, c := range configs {
		byName[c.name] = c
	}
	return byName
}

var extToLang = buildExtMap()

func buildExtMap() map[string]string {
	m := make(map[string]string)
	for name, cfg := range languages {
		for _, ext := range cfg.extensions {
			m[ext] = name
		}
	}
	return m
}

// DetectLanguage maps a file path to a language name. Unknown
// extensions return a best-effort tag derived from the extension so
// filters still work (e.g. "md", "json").
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extToLang[ext]; ok {
		return lang
	}
	if ext != "" {
		return strings.TrimPrefix(ext, ".")
	}
	return "text"
}

// structuralSupported reports whether the language has a parser.
func structuralSupported(language string) bool {
	_, ok := languages[language]
	return ok
}
