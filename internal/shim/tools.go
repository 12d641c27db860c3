// Package shim serves the vectorbank MCP tools over stdio and forwards every
// call to a remote vectorbank API.
package shim

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/vectorbank/internal/apitypes"
	"github.com/MereWhiplash/vectorbank/internal/mcptypes"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

// APIClient is the subset of client.Client the shim needs
type APIClient interface {
	Upsert(ctx context.Context, collection string, in types.UpsertInput) (*types.EmbeddingRecord, error)
	Delete(ctx context.Context, collection, id string) error
	DeleteSource(ctx context.Context, collection, sourceID string) ([]string, error)
	Search(ctx context.Context, collection string, vector []float32, opts types.SearchOpts) (*apitypes.SearchResponse, error)
	Buckets(ctx context.Context, collection string) ([]types.BucketStatus, error)
	Rebuild(ctx context.Context, collection string, dim int) (*types.BucketStatus, error)
}

// Handler holds shim dependencies
type Handler struct {
	client APIClient
}

// NewHandler creates a new shim handler
func NewHandler(c APIClient) *Handler {
	return &Handler{client: c}
}

// Register adds all vectorbank tools to the MCP server
func Register(server *mcp.Server, h *Handler) {
	mcp.AddTool(server, mcptypes.UpsertTool, h.Upsert)
	mcp.AddTool(server, mcptypes.SearchTool, h.Search)
	mcp.AddTool(server, mcptypes.DeleteTool, h.Delete)
	mcp.AddTool(server, mcptypes.RebuildTool, h.Rebuild)
	mcp.AddTool(server, mcptypes.BucketsTool, h.Buckets)
}

func (h *Handler) Upsert(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.UpsertInput) (*mcp.CallToolResult, mcptypes.UpsertOutput, error) {
	if input.ID == "" || len(input.Vector) == 0 {
		return mcptypes.ErrorResult("id and vector are required"), mcptypes.UpsertOutput{}, nil
	}

	rec, err := h.client.Upsert(ctx, mcptypes.CollectionOrDefault(input.Collection), types.UpsertInput{
		ID:       input.ID,
		SourceID: input.SourceID,
		Content:  input.Content,
		Model:    input.EmbeddingModel,
		Vector:   input.Vector,
	})
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to store record: %v", err)), mcptypes.UpsertOutput{}, nil
	}

	msg := fmt.Sprintf("Record %s stored in the %d-dimension bucket.", rec.ID, rec.Dimension)
	return mcptypes.TextResult(msg), mcptypes.UpsertOutput{ID: rec.ID, Dimension: rec.Dimension, EmbeddingModel: rec.Model}, nil
}

func (h *Handler) Search(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.SearchInput) (*mcp.CallToolResult, mcptypes.SearchOutput, error) {
	if len(input.Vector) == 0 {
		return mcptypes.ErrorResult("vector is required"), mcptypes.SearchOutput{}, nil
	}

	resp, err := h.client.Search(ctx, mcptypes.CollectionOrDefault(input.Collection), input.Vector, types.SearchOpts{
		Threshold:  input.Threshold,
		Limit:      input.Limit,
		SourceID:   input.SourceID,
		ForceExact: input.Exact,
	})
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to search: %v", err)), mcptypes.SearchOutput{}, nil
	}

	if len(resp.Results) == 0 {
		return mcptypes.TextResult("No matching records found."), mcptypes.SearchOutput{Results: []types.ScoredID{}}, nil
	}

	result, _ := json.MarshalIndent(resp.Results, "", "  ")
	return mcptypes.TextResult(string(result)), mcptypes.SearchOutput{Results: resp.Results}, nil
}

func (h *Handler) Delete(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.DeleteInput) (*mcp.CallToolResult, mcptypes.DeleteOutput, error) {
	collection := mcptypes.CollectionOrDefault(input.Collection)

	switch {
	case input.ID != "" && input.SourceID != "":
		return mcptypes.ErrorResult("set either id or source_id, not both"), mcptypes.DeleteOutput{}, nil

	case input.ID != "":
		if err := h.client.Delete(ctx, collection, input.ID); err != nil {
			return mcptypes.ErrorResult(fmt.Sprintf("failed to delete: %v", err)), mcptypes.DeleteOutput{}, nil
		}
		msg := fmt.Sprintf("Record %s has been deleted.", input.ID)
		return mcptypes.TextResult(msg), mcptypes.DeleteOutput{Deleted: []string{input.ID}}, nil

	case input.SourceID != "":
		ids, err := h.client.DeleteSource(ctx, collection, input.SourceID)
		if err != nil {
			return mcptypes.ErrorResult(fmt.Sprintf("failed to delete source: %v", err)), mcptypes.DeleteOutput{}, nil
		}
		if ids == nil {
			ids = []string{}
		}
		msg := fmt.Sprintf("Deleted %d records of source %s.", len(ids), input.SourceID)
		return mcptypes.TextResult(msg), mcptypes.DeleteOutput{Deleted: ids}, nil

	default:
		return mcptypes.ErrorResult("id or source_id is required"), mcptypes.DeleteOutput{}, nil
	}
}

func (h *Handler) Rebuild(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.RebuildInput) (*mcp.CallToolResult, mcptypes.BucketsOutput, error) {
	collection := mcptypes.CollectionOrDefault(input.Collection)

	dims := []int{input.Dimension}
	if input.Dimension == 0 {
		buckets, err := h.client.Buckets(ctx, collection)
		if err != nil {
			return mcptypes.ErrorResult(fmt.Sprintf("failed to rebuild: %v", err)), mcptypes.BucketsOutput{}, nil
		}
		dims = dims[:0]
		for _, b := range buckets {
			if b.Strategy == types.StrategyApproximate {
				dims = append(dims, b.Dimension)
			}
		}
	}

	for _, dim := range dims {
		if _, err := h.client.Rebuild(ctx, collection, dim); err != nil {
			return mcptypes.ErrorResult(fmt.Sprintf("failed to rebuild %d: %v", dim, err)), mcptypes.BucketsOutput{}, nil
		}
	}

	return h.Buckets(ctx, req, mcptypes.BucketsInput{Collection: collection})
}

func (h *Handler) Buckets(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.BucketsInput) (*mcp.CallToolResult, mcptypes.BucketsOutput, error) {
	buckets, err := h.client.Buckets(ctx, mcptypes.CollectionOrDefault(input.Collection))
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to report buckets: %v", err)), mcptypes.BucketsOutput{}, nil
	}

	result, _ := json.MarshalIndent(buckets, "", "  ")
	return mcptypes.TextResult(string(result)), mcptypes.BucketsOutput{Buckets: buckets}, nil
}
