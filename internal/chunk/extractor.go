package chunk

import "strings"

// Extract harvests function, class, and import symbols from a parse tree.
// Complexity for the file is function_count + 2*class_count.
func Extract(tree *Tree, config *LanguageConfig, filePath string) *ParsedFile {
	parsed := &ParsedFile{
		FilePath: filePath,
		Language: config.Name,
	}

	functionTypes := toSet(config.FunctionTypes)
	classTypes := toSet(config.ClassTypes)
	importTypes := toSet(config.ImportTypes)

	tree.Root.Walk(func(n *Node) bool {
		switch {
		case functionTypes[n.Type]:
			if sym, ok := symbolFromNode(n, tree.Source); ok {
				parsed.Functions = append(parsed.Functions, sym)
			}
		case classTypes[n.Type]:
			if sym, ok := symbolFromNode(n, tree.Source); ok {
				parsed.Classes = append(parsed.Classes, sym)
			}
		case importTypes[n.Type]:
			parsed.Imports = append(parsed.Imports, Symbol{
				LineStart: int(n.StartPoint.Row) + 1,
				LineEnd:   int(n.EndPoint.Row) + 1,
				ByteStart: n.StartByte,
				ByteEnd:   n.EndByte,
				Text:      strings.TrimSpace(n.GetContent(tree.Source)),
			})
		}
		return true
	})

	parsed.Complexity = len(parsed.Functions) + 2*len(parsed.Classes)
	return parsed
}

// symbolFromNode builds a Symbol for a function or class node. Nodes with no
// discoverable name (anonymous functions, grouped declarations) are dropped.
func symbolFromNode(n *Node, source []byte) (Symbol, bool) {
	name := findName(n, source)
	if name == "" {
		return Symbol{}, false
	}

	return Symbol{
		Name:      name,
		LineStart: int(n.StartPoint.Row) + 1,
		LineEnd:   int(n.EndPoint.Row) + 1,
		ByteStart: n.StartByte,
		ByteEnd:   n.EndByte,
	}, true
}

// findName locates the declared identifier for a node. Most grammars place it
// as a direct child; C-family declarators and Go type specs nest it one level
// deeper, so a second pass descends into each child.
func findName(n *Node, source []byte) string {
	for _, child := range n.Children {
		if isIdentifierType(child.Type) {
			return child.GetContent(source)
		}
	}
	for _, child := range n.Children {
		for _, grand := range child.Children {
			if isIdentifierType(grand.Type) {
				return grand.GetContent(source)
			}
		}
	}
	return ""
}

func isIdentifierType(nodeType string) bool {
	switch nodeType {
	case "identifier", "type_identifier", "field_identifier", "property_identifier":
		return true
	default:
		return false
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
