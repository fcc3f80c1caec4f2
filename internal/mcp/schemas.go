package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// refreshIndexTool returns the tool definition for refresh_index
func refreshIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "refresh_index",
		Description: "Reconcile the symbol index with the class files and archives on disk",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// searchClassesTool returns the tool definition for search_classes
func searchClassesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_classes",
		Description: "Search classes by fully qualified name, CamelCase fragment, or abbreviation (e.g. 'RPC')",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Free-form class query; tokens split on whitespace and '.'",
				},
				"max": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// searchClassesMethodsTool returns the tool definition for search_classes_methods
func searchClassesMethodsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_classes_methods",
		Description: "Search classes and methods; whitespace-separated terms must all match",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Free-form symbol query; whitespace-separated terms are a conjunction",
				},
				"max": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"query"},
		},
	}
}

// findFqnTool returns the tool definition for find_fqn
func findFqnTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_fqn",
		Description: "Look up a symbol by its exact fully qualified name",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"fqn": map[string]interface{}{
					"type":        "string",
					"description": "Fully qualified name, e.g. 'java.lang.String'",
				},
			},
			Required: []string{"fqn"},
		},
	}
}
