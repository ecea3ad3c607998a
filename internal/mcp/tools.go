package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/service/query"
)

func (s *Server) registerTools() {
	// cce_world: the global rollup.
	s.mcpServer.AddTool(
		mcplib.NewTool("cce_world",
			mcplib.WithDescription(`Get the global world state computed at the end of the last tick.

WHEN TO USE: FIRST, to orient. Returns global tension, peak pressure, the
alert level (normal, elevated, high, critical), conflict counts, hotspots
(the highest-pressure conflicts), and a per-country status map.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleWorld,
	)

	// cce_conflicts: ranked conflicts with live state.
	s.mcpServer.AddTool(
		mcplib.NewTool("cce_conflicts",
			mcplib.WithDescription(`List conflicts with their live decayed state, ranked descending.

Each entry carries tension, momentum (signed), pressure, instability, the
rank within its theatre, the strongest recent driver events, and a short
trend note.

EXAMPLE: The five most unstable conflicts in Europe:
sort="instability", theatre="europe", limit=5`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("sort",
				mcplib.Description("Ranking metric"),
				mcplib.Enum(query.ConflictSorts...),
				mcplib.DefaultString(query.SortPressure),
			),
			mcplib.WithString("theatre",
				mcplib.Description("Optional: only conflicts in this theatre"),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of conflicts to return"),
				mcplib.Min(1),
				mcplib.Max(model.MaxListLimit),
				mcplib.DefaultNumber(10),
			),
			mcplib.WithNumber("offset",
				mcplib.Description("Number of ranked conflicts to skip"),
				mcplib.Min(0),
			),
		),
		s.handleConflicts,
	)

	// cce_theatres: theatre rollups.
	s.mcpServer.AddTool(
		mcplib.NewTool("cce_theatres",
			mcplib.WithDescription(`List theatre rollups: importance-weighted tension, momentum, heat and
velocity across every conflict in the theatre, plus dominant actors and
active fronts.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("sort",
				mcplib.Description("Ranking metric"),
				mcplib.Enum(query.TheatreSorts...),
				mcplib.DefaultString(query.SortTension),
			),
			mcplib.WithNumber("min_tension",
				mcplib.Description("Only theatres at or above this tension"),
				mcplib.Min(0),
				mcplib.Max(1),
			),
		),
		s.handleTheatres,
	)

	// cce_fronts: front lines.
	s.mcpServer.AddTool(
		mcplib.NewTool("cce_fronts",
			mcplib.WithDescription(`List front lines with per-actor control shares (summing to 1) and
decayed intensity, most intense first.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("theatre",
				mcplib.Description("Optional: only fronts in this theatre"),
			),
			mcplib.WithNumber("min_intensity",
				mcplib.Description("Only fronts at or above this intensity"),
				mcplib.Min(0),
				mcplib.Max(1),
			),
		),
		s.handleFronts,
	)

	// cce_alliances: alliance pressure.
	s.mcpServer.AddTool(
		mcplib.NewTool("cce_alliances",
			mcplib.WithDescription(`List alliances with the pressure bearing on them from their members'
conflicts, highest first. Each entry names the conflicts contributing most.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleAlliances,
	)

	// cce_relations: relation edges around one actor.
	s.mcpServer.AddTool(
		mcplib.NewTool("cce_relations",
			mcplib.WithDescription(`List the relation edges touching one actor, strongest first.

Edges are derived from conflict state each tick. A hostile edge's strength
tracks the conflict's tension; evidence lists the driving events.

EXAMPLE: Who is RUS hostile to? entity="RUS", relation_type="hostile"`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("entity",
				mcplib.Description("Actor code, e.g. USA, RUS, UKR (case-insensitive)"),
				mcplib.Required(),
			),
			mcplib.WithString("relation_type",
				mcplib.Description("Optional relation type filter"),
				mcplib.Enum(model.RelationHostile, model.RelationAllied, model.RelationNeutral),
			),
			mcplib.WithNumber("min_strength",
				mcplib.Description("Only edges at or above this strength"),
				mcplib.Min(0),
				mcplib.Max(1),
			),
		),
		s.handleRelations,
	)
}

func (s *Server) handleWorld(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	w, err := s.queries.World(ctx)
	if err != nil {
		return s.queryError("world", err), nil
	}
	return jsonResult(w)
}

func (s *Server) handleConflicts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	page, err := s.queries.Conflicts(ctx, query.ConflictQuery{
		Sort:    request.GetString("sort", ""),
		Theatre: request.GetString("theatre", ""),
		Limit:   request.GetInt("limit", 10),
		Offset:  request.GetInt("offset", 0),
	})
	if err != nil {
		return s.queryError("conflicts", err), nil
	}

	compact := make([]map[string]any, len(page.Items))
	for i, v := range page.Items {
		compact[i] = compactConflict(v)
	}
	return jsonResult(map[string]any{
		"conflicts": compact,
		"total":     page.Total,
		"has_more":  page.HasMore,
	})
}

func (s *Server) handleTheatres(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	theatres, err := s.queries.Theatres(ctx, query.TheatreQuery{
		Sort:       request.GetString("sort", ""),
		MinTension: request.GetFloat("min_tension", 0),
	})
	if err != nil {
		return s.queryError("theatres", err), nil
	}
	return jsonResult(map[string]any{
		"theatres": orEmpty(theatres),
		"total":    len(theatres),
	})
}

func (s *Server) handleFronts(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	fronts, err := s.queries.Fronts(ctx, query.FrontQuery{
		Theatre:      request.GetString("theatre", ""),
		MinIntensity: request.GetFloat("min_intensity", 0),
	})
	if err != nil {
		return s.queryError("fronts", err), nil
	}
	return jsonResult(map[string]any{
		"fronts": orEmpty(fronts),
		"total":  len(fronts),
	})
}

func (s *Server) handleAlliances(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	alliances, err := s.queries.Alliances(ctx)
	if err != nil {
		return s.queryError("alliances", err), nil
	}
	return jsonResult(map[string]any{
		"alliances": orEmpty(alliances),
		"total":     len(alliances),
	})
}

func (s *Server) handleRelations(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	entity := request.GetString("entity", "")
	if entity == "" {
		return errorResult("entity is required"), nil
	}
	edges, err := s.queries.Relations(ctx, query.RelationQuery{
		Entity:       entity,
		RelationType: request.GetString("relation_type", ""),
		MinStrength:  request.GetFloat("min_strength", 0),
	})
	if err != nil {
		return s.queryError("relations", err), nil
	}
	return jsonResult(map[string]any{
		"entity":    model.NormalizeActor(entity),
		"relations": orEmpty(edges),
		"total":     len(edges),
	})
}

// queryError maps a query failure to a tool error. Caller mistakes are
// echoed back; storage failures are logged and reported generically.
func (s *Server) queryError(op string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, query.ErrInvalidInput), errors.Is(err, query.ErrInvalidSort):
		return errorResult(err.Error())
	case errors.Is(err, cce.ErrNotFound):
		return errorResult("no update cycle has completed yet")
	}
	s.logger.Error("mcp: query failed", "tool", op, "error", err)
	return errorResult(fmt.Sprintf("%s query failed", op))
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// orEmpty keeps empty lists encoding as [] rather than null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
