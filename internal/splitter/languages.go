package splitter

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how to split one language syntactically.
type LanguageConfig struct {
	// Name is the canonical language tag stored on chunks.
	Name string
	// Extensions maps files to this language (leading dot, lowercase).
	Extensions []string
	// DeclarationTypes are the top-level node types treated as chunk
	// boundaries.
	DeclarationTypes map[string]struct{}
}

// LanguageRegistry maps languages and extensions to grammars.
type LanguageRegistry struct {
	mu        sync.RWMutex
	configs   map[string]*LanguageConfig
	extToLang map[string]string
	grammars  map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with the built-in grammars.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:   make(map[string]*LanguageConfig),
		extToLang: make(map[string]string),
		grammars:  make(map[string]*sitter.Language),
	}

	r.register(&LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		DeclarationTypes: declSet(
			"function_declaration",
			"method_declaration",
			"type_declaration",
			"const_declaration",
			"var_declaration",
			"import_declaration",
		),
	}, golang.GetLanguage())

	r.register(&LanguageConfig{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		DeclarationTypes: declSet(
			"function_definition",
			"decorated_definition",
			"class_definition",
			"import_statement",
			"import_from_statement",
			"expression_statement",
		),
	}, python.GetLanguage())

	jsDecls := declSet(
		"function_declaration",
		"generator_function_declaration",
		"class_declaration",
		"lexical_declaration",
		"variable_declaration",
		"export_statement",
		"import_statement",
		"expression_statement",
	)
	r.register(&LanguageConfig{
		Name:             "javascript",
		Extensions:       []string{".js", ".mjs", ".cjs"},
		DeclarationTypes: jsDecls,
	}, javascript.GetLanguage())
	r.register(&LanguageConfig{
		Name:             "jsx",
		Extensions:       []string{".jsx"},
		DeclarationTypes: jsDecls,
	}, javascript.GetLanguage())

	tsDecls := declSet(
		"function_declaration",
		"class_declaration",
		"abstract_class_declaration",
		"interface_declaration",
		"type_alias_declaration",
		"enum_declaration",
		"lexical_declaration",
		"variable_declaration",
		"export_statement",
		"import_statement",
		"module",
	)
	r.register(&LanguageConfig{
		Name:             "typescript",
		Extensions:       []string{".ts", ".mts", ".cts"},
		DeclarationTypes: tsDecls,
	}, typescript.GetLanguage())
	r.register(&LanguageConfig{
		Name:             "tsx",
		Extensions:       []string{".tsx"},
		DeclarationTypes: tsDecls,
	}, tsx.GetLanguage())

	return r
}

func declSet(types ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

func (r *LanguageRegistry) register(config *LanguageConfig, grammar *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.grammars[config.Name] = grammar
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

// LanguageForExtension returns the language tag for an extension, or "".
func (r *LanguageRegistry) LanguageForExtension(ext string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return r.extToLang[ext]
}

// Config returns the config for a language name.
func (r *LanguageRegistry) Config(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.configs[name]
	return c, ok
}

// Grammar returns the tree-sitter grammar for a language name.
func (r *LanguageRegistry) Grammar(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.grammars[name]
	return g, ok
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
