package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/vectorbank/internal/mcptypes"
	"github.com/MereWhiplash/vectorbank/internal/service"
	"github.com/MereWhiplash/vectorbank/internal/types"
)

// Handler holds dependencies for tool handlers
type Handler struct {
	svc *service.Service
}

// NewHandler creates a tool handler over svc
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register adds all vectorbank tools to the MCP server
func Register(server *mcp.Server, svc *service.Service) {
	h := NewHandler(svc)

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

	rec, err := h.svc.Upsert(ctx, mcptypes.CollectionOrDefault(input.Collection), types.UpsertInput{
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

	results, err := h.svc.Search(ctx, mcptypes.CollectionOrDefault(input.Collection), input.Vector, types.SearchOpts{
		Threshold:  input.Threshold,
		Limit:      input.Limit,
		SourceID:   input.SourceID,
		ForceExact: input.Exact,
	})
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to search: %v", err)), mcptypes.SearchOutput{}, nil
	}

	if len(results) == 0 {
		return mcptypes.TextResult("No matching records found."), mcptypes.SearchOutput{Results: []types.ScoredID{}}, nil
	}

	result, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to format response: %v", err)), mcptypes.SearchOutput{}, nil
	}
	return mcptypes.TextResult(string(result)), mcptypes.SearchOutput{Results: results}, nil
}

func (h *Handler) Delete(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.DeleteInput) (*mcp.CallToolResult, mcptypes.DeleteOutput, error) {
	collection := mcptypes.CollectionOrDefault(input.Collection)

	switch {
	case input.ID != "" && input.SourceID != "":
		return mcptypes.ErrorResult("set either id or source_id, not both"), mcptypes.DeleteOutput{}, nil

	case input.ID != "":
		if err := h.svc.Delete(ctx, collection, input.ID); err != nil {
			return mcptypes.ErrorResult(fmt.Sprintf("failed to delete: %v", err)), mcptypes.DeleteOutput{}, nil
		}
		msg := fmt.Sprintf("Record %s has been deleted.", input.ID)
		return mcptypes.TextResult(msg), mcptypes.DeleteOutput{Deleted: []string{input.ID}}, nil

	case input.SourceID != "":
		ids, err := h.svc.DeleteSource(ctx, collection, input.SourceID)
		if err != nil {
			return mcptypes.ErrorResult(fmt.Sprintf("failed to delete source: %v", err)), mcptypes.DeleteOutput{}, nil
		}
		msg := fmt.Sprintf("Deleted %d records of source %s.", len(ids), input.SourceID)
		return mcptypes.TextResult(msg), mcptypes.DeleteOutput{Deleted: ids}, nil

	default:
		return mcptypes.ErrorResult("id or source_id is required"), mcptypes.DeleteOutput{}, nil
	}
}

func (h *Handler) Rebuild(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.RebuildInput) (*mcp.CallToolResult, mcptypes.BucketsOutput, error) {
	collection := mcptypes.CollectionOrDefault(input.Collection)

	var err error
	if input.Dimension == 0 {
		err = h.svc.RebuildAll(ctx, collection)
	} else {
		err = h.svc.RebuildIndex(ctx, collection, input.Dimension)
	}
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to rebuild: %v", err)), mcptypes.BucketsOutput{}, nil
	}

	return h.Buckets(ctx, req, mcptypes.BucketsInput{Collection: collection})
}

func (h *Handler) Buckets(ctx context.Context, req *mcp.CallToolRequest, input mcptypes.BucketsInput) (*mcp.CallToolResult, mcptypes.BucketsOutput, error) {
	buckets, err := h.svc.Buckets(ctx, mcptypes.CollectionOrDefault(input.Collection))
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to report buckets: %v", err)), mcptypes.BucketsOutput{}, nil
	}

	result, err := json.MarshalIndent(buckets, "", "  ")
	if err != nil {
		return mcptypes.ErrorResult(fmt.Sprintf("failed to format response: %v", err)), mcptypes.BucketsOutput{}, nil
	}
	return mcptypes.TextResult(string(result)), mcptypes.BucketsOutput{Buckets: buckets}, nil
}
