package chunk

// Chunk sizing defaults. Token counts are approximated as bytes/4.
const (
	// MinFunctionTokens drops function chunks below this approximate size.
	MinFunctionTokens = 50

	// DefaultMaxTokens truncates class chunks above this approximate size.
	DefaultMaxTokens = 1024

	// BytesPerToken is the rough chars-to-tokens conversion factor.
	BytesPerToken = 4
)

// Type classifies a chunk by the syntax construct it was cut from.
type Type string

const (
	TypeFunction Type = "function"
	TypeClass    Type = "class"
	TypeMethod   Type = "method"
	TypeModule   Type = "module"
	TypeImport   Type = "import"
)

// Chunk is a single retrievable unit of code.
type Chunk struct {
	ID           string
	CodebaseID   string
	FilePath     string
	LineStart    int // 1-indexed, inclusive
	LineEnd      int // 1-indexed, inclusive
	Content      string
	Language     string
	Type         Type
	Name         string
	Docstring    string
	Dependencies []string
	ParentClass  string
	Complexity   int
	Embedding    []float32
	Metadata     map[string]string
}

// Symbol is a function, class, or import harvested from a parse tree.
type Symbol struct {
	Name      string
	LineStart int
	LineEnd   int
	ByteStart uint32
	ByteEnd   uint32
	Text      string // imports only: the statement text
}

// ParsedFile holds the semantic units extracted from one source file.
type ParsedFile struct {
	FilePath   string
	Language   string
	Functions  []Symbol
	Classes    []Symbol
	Imports    []Symbol
	Complexity int
}

// Tree represents a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point is a position in the source code.
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds the node-type tables for a supported language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that indicate function-like declarations
	FunctionTypes []string

	// Node types that indicate class-like definitions
	ClassTypes []string

	// Node types that indicate import statements
	ImportTypes []string
}
