// internal/mcptypes/types.go
// Package mcptypes contains shared MCP tool input/output types.
// These are used by both the direct MCP server (tools) and the shim proxy.
package mcptypes

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/vectorbank/internal/types"
)

// DefaultCollection is used when a tool call names no collection
const DefaultCollection = "documents"

// UpsertInput defines the input schema for vb_upsert
type UpsertInput struct {
	Collection     string    `json:"collection,omitempty" jsonschema:"collection to write to (default: documents)"`
	ID             string    `json:"id" jsonschema:"record id; an existing record is replaced"`
	SourceID       string    `json:"source_id,omitempty" jsonschema:"id of the document or file the chunk came from"`
	Content        string    `json:"content,omitempty" jsonschema:"text the vector was computed from"`
	EmbeddingModel string    `json:"embedding_model,omitempty" jsonschema:"model that produced the vector"`
	Vector         []float32 `json:"vector" jsonschema:"embedding; its length selects the dimension bucket"`
}

// UpsertOutput defines the output schema for vb_upsert
type UpsertOutput struct {
	ID             string `json:"id"`
	Dimension      int    `json:"embedding_dimension"`
	EmbeddingModel string `json:"embedding_model"`
}

// SearchInput defines the input schema for vb_search
type SearchInput struct {
	Collection string    `json:"collection,omitempty" jsonschema:"collection to search (default: documents)"`
	Vector     []float32 `json:"vector" jsonschema:"query embedding; only records of the same length are compared"`
	Threshold  *float64  `json:"threshold,omitempty" jsonschema:"minimum cosine similarity (default: 0.7)"`
	Limit      int       `json:"limit,omitempty" jsonschema:"maximum number of results (default: 10)"`
	SourceID   string    `json:"source_id,omitempty" jsonschema:"only return records from this source"`
	Exact      bool      `json:"exact,omitempty" jsonschema:"skip the approximate index and scan every record"`
}

// SearchOutput defines the output schema for vb_search
type SearchOutput struct {
	Results []types.ScoredID `json:"results"`
}

// DeleteInput defines the input schema for vb_delete
type DeleteInput struct {
	Collection string `json:"collection,omitempty" jsonschema:"collection to delete from (default: documents)"`
	ID         string `json:"id,omitempty" jsonschema:"record id to delete"`
	SourceID   string `json:"source_id,omitempty" jsonschema:"delete every record of this source instead"`
}

// DeleteOutput defines the output schema for vb_delete
type DeleteOutput struct {
	Deleted []string `json:"deleted"`
}

// RebuildInput defines the input schema for vb_rebuild
type RebuildInput struct {
	Collection string `json:"collection,omitempty" jsonschema:"collection to rebuild (default: documents)"`
	Dimension  int    `json:"dimension,omitempty" jsonschema:"bucket to rebuild; omit to rebuild all"`
}

// BucketsInput defines the input schema for vb_buckets
type BucketsInput struct {
	Collection string `json:"collection,omitempty" jsonschema:"collection to report (default: documents)"`
}

// BucketsOutput defines the output schema for vb_buckets and vb_rebuild
type BucketsOutput struct {
	Buckets []types.BucketStatus `json:"buckets"`
}

// CollectionOrDefault returns name, or DefaultCollection if it is empty
func CollectionOrDefault(name string) string {
	if name == "" {
		return DefaultCollection
	}
	return name
}

// TextResult creates a successful MCP result with text content
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// ErrorResult creates an error MCP result
func ErrorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// Tool definitions (shared between server and shim)
var (
	UpsertTool = &mcp.Tool{
		Name:        "vb_upsert",
		Description: "Store an embedding record; the vector length picks its dimension bucket",
	}

	SearchTool = &mcp.Tool{
		Name:        "vb_search",
		Description: "Find records by cosine similarity within the query vector's dimension",
	}

	DeleteTool = &mcp.Tool{
		Name:        "vb_delete",
		Description: "Delete a record by id, or every record of a source",
	}

	RebuildTool = &mcp.Tool{
		Name:        "vb_rebuild",
		Description: "Rebuild the approximate index of one or all dimension buckets",
	}

	BucketsTool = &mcp.Tool{
		Name:        "vb_buckets",
		Description: "Report each dimension bucket's strategy, index state and record count",
	}
)
