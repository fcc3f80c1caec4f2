package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/adelbertc/ensime-server/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
)

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{Code: code, Message: message, Data: data}
}

// handleRefreshIndex handles the refresh_index tool invocation
func (s *Server) handleRefreshIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	deleted, indexed, err := s.service.Refresh(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"deleted": deleted,
		"indexed": indexed,
	})), nil
}

// handleSearchClasses handles the search_classes tool invocation
func (s *Server) handleSearchClasses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, max, err := queryParams(request)
	if err != nil {
		return nil, err
	}
	symbols, err := s.service.SearchClasses(ctx, query, max)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(symbolsResponse(symbols))), nil
}

// handleSearchClassesMethods handles the search_classes_methods tool invocation
func (s *Server) handleSearchClassesMethods(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, max, err := queryParams(request)
	if err != nil {
		return nil, err
	}
	symbols, err := s.service.SearchClassesFieldsMethods(ctx, query, max)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(symbolsResponse(symbols))), nil
}

// handleFindFqn handles the find_fqn tool invocation
func (s *Server) handleFindFqn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	fqn, ok := args["fqn"].(string)
	if !ok || fqn == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "fqn parameter is required", map[string]interface{}{
			"param":  "fqn",
			"reason": "missing or empty",
		})
	}

	sym, err := s.service.FindUnique(ctx, fqn)
	if errors.Is(err, types.ErrNotFound) {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"found": false,
			"fqn":   fqn,
		})), nil
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"found":  true,
		"symbol": symbolJSON(sym),
	})), nil
}

// Helper functions

func queryParams(request mcp.CallToolRequest) (string, int, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", 0, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", 0, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	max := getIntDefault(args, "max", 10)
	if max < 1 || max > 100 {
		return "", 0, newMCPError(ErrorCodeInvalidParams, "max must be between 1 and 100", map[string]interface{}{
			"param": "max",
			"value": max,
		})
	}
	return query, max, nil
}

func symbolsResponse(symbols []types.FqnSymbol) map[string]interface{} {
	out := make([]map[string]interface{}, len(symbols))
	for i := range symbols {
		out[i] = symbolJSON(&symbols[i])
	}
	return map[string]interface{}{
		"total":   len(symbols),
		"symbols": out,
	}
}

func symbolJSON(sym *types.FqnSymbol) map[string]interface{} {
	out := map[string]interface{}{
		"fqn":  sym.FQN,
		"kind": string(sym.Kind()),
		"file": sym.File,
	}
	if sym.Source != nil {
		out["source"] = *sym.Source
	}
	if sym.Line != nil {
		out["line"] = *sym.Line
	}
	if sym.Offset != nil {
		out["offset"] = *sym.Offset
	}
	return out
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	return defaultValue
}
