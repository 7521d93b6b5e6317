package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry maps file extensions to language configurations.
// The extension table is closed: files outside it are skipped, not errors.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig // keyed by language name
	extToLang   map[string]string          // extension -> language name
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry with all supported languages.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.registerPython()
	r.registerJavaScript()
	r.registerTypeScript()
	r.registerJava()
	r.registerGo()
	r.registerRust()
	r.registerC()
	r.registerCpp()

	return r
}

// DetectLanguage returns the language name for a file path, or "" if the
// extension is not in the table.
func (r *LanguageRegistry) DetectLanguage(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return ""
	}
	ext := strings.ToLower(path[idx:])

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.extToLang[ext]
}

// GetByName returns the language configuration by name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the tree-sitter grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions returns all supported file extensions.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang

	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

func (r *LanguageRegistry) registerPython() {
	r.registerLanguage(&LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_definition"},
		ImportTypes:   []string{"import_statement", "import_from_statement"},
	}, python.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	r.registerLanguage(&LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".jsx", ".mjs"},
		FunctionTypes: []string{
			"function_declaration",
			"function_expression",
			"arrow_function",
			"method_definition",
		},
		ClassTypes:  []string{"class_declaration"},
		ImportTypes: []string{"import_statement"},
	}, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	tsConfig := &LanguageConfig{
		Name:       "typescript",
		Extensions: []string{".ts"},
		FunctionTypes: []string{
			"function_declaration",
			"function_expression",
			"arrow_function",
			"method_definition",
		},
		ClassTypes:  []string{"class_declaration", "interface_declaration"},
		ImportTypes: []string{"import_statement"},
	}
	r.registerLanguage(tsConfig, typescript.GetLanguage())

	// TSX shares the node-type tables but uses a separate grammar.
	r.registerLanguage(&LanguageConfig{
		Name:          "tsx",
		Extensions:    []string{".tsx"},
		FunctionTypes: tsConfig.FunctionTypes,
		ClassTypes:    tsConfig.ClassTypes,
		ImportTypes:   tsConfig.ImportTypes,
	}, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJava() {
	r.registerLanguage(&LanguageConfig{
		Name:          "java",
		Extensions:    []string{".java"},
		FunctionTypes: []string{"method_declaration"},
		ClassTypes:    []string{"class_declaration", "interface_declaration"},
		ImportTypes:   []string{"import_declaration"},
	}, java.GetLanguage())
}

func (r *LanguageRegistry) registerGo() {
	r.registerLanguage(&LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration", "method_declaration"},
		ClassTypes:    []string{"type_declaration"},
		ImportTypes:   []string{"import_declaration"},
	}, golang.GetLanguage())
}

func (r *LanguageRegistry) registerRust() {
	r.registerLanguage(&LanguageConfig{
		Name:          "rust",
		Extensions:    []string{".rs"},
		FunctionTypes: []string{"function_item"},
		ClassTypes:    []string{"struct_item", "impl_item"},
		ImportTypes:   []string{"use_declaration"},
	}, rust.GetLanguage())
}

func (r *LanguageRegistry) registerC() {
	r.registerLanguage(&LanguageConfig{
		Name:          "c",
		Extensions:    []string{".c", ".h"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"struct_specifier"},
		ImportTypes:   []string{"preproc_include"},
	}, c.GetLanguage())
}

func (r *LanguageRegistry) registerCpp() {
	r.registerLanguage(&LanguageConfig{
		Name:          "cpp",
		Extensions:    []string{".cpp", ".cc", ".cxx", ".hpp"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_specifier", "struct_specifier"},
		ImportTypes:   []string{"preproc_include"},
	}, cpp.GetLanguage())
}

// defaultRegistry is the process-wide language registry.
var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the process-wide language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
