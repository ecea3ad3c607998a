package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/service/query"
)

const (
	uriWorld    = "cce://world/current"
	uriHotspots = "cce://conflicts/hotspots"
	uriTheatres = "cce://theatres/current"

	actorRelationsPrefix = "cce://actor/"
	actorRelationsSuffix = "/relations"

	hotspotLimit = 10
)

func (s *Server) registerResources() {
	// cce://world/current: global rollup from the last tick.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriWorld,
			"World State",
			mcplib.WithResourceDescription("Global tension, alert level, hotspots and per-country status from the last tick"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleWorldResource,
	)

	// cce://conflicts/hotspots: highest-pressure conflicts.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriHotspots,
			"Conflict Hotspots",
			mcplib.WithResourceDescription("The highest-pressure conflicts, compacted"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleHotspotsResource,
	)

	// cce://theatres/current: every theatre rollup.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriTheatres,
			"Theatres",
			mcplib.WithResourceDescription("Theatre rollups ranked by tension"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTheatresResource,
	)

	// cce://actor/{id}/relations: relation edges around one actor.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			actorRelationsPrefix+"{id}"+actorRelationsSuffix,
			"Actor Relations",
			mcplib.WithTemplateDescription("Relation edges touching a specific actor"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleActorRelations,
	)
}

func (s *Server) handleWorldResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	w, err := s.queries.World(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: world state: %w", err)
	}
	return jsonResource(uriWorld, w)
}

func (s *Server) handleHotspotsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	page, err := s.queries.Conflicts(ctx, query.ConflictQuery{Sort: query.SortPressure, Limit: hotspotLimit})
	if err != nil {
		return nil, fmt.Errorf("mcp: hotspots: %w", err)
	}
	compact := make([]map[string]any, len(page.Items))
	for i, v := range page.Items {
		compact[i] = compactConflict(v)
	}
	return jsonResource(uriHotspots, compact)
}

func (s *Server) handleTheatresResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	theatres, err := s.queries.Theatres(ctx, query.TheatreQuery{})
	if err != nil {
		return nil, fmt.Errorf("mcp: theatres: %w", err)
	}
	return jsonResource(uriTheatres, orEmpty(theatres))
}

func (s *Server) handleActorRelations(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	actor, err := parseActorRelationsURI(uri)
	if err != nil {
		return nil, err
	}
	edges, err := s.queries.Relations(ctx, query.RelationQuery{Entity: actor})
	if err != nil {
		return nil, fmt.Errorf("mcp: actor relations: %w", err)
	}
	return jsonResource(uri, map[string]any{
		"entity":    actor,
		"relations": orEmpty(edges),
	})
}

// parseActorRelationsURI extracts the actor code from cce://actor/{id}/relations.
func parseActorRelationsURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, actorRelationsPrefix) || !strings.HasSuffix(uri, actorRelationsSuffix) {
		return "", fmt.Errorf("mcp: invalid actor relations URI: %s", uri)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(uri, actorRelationsPrefix), actorRelationsSuffix)
	if id == "" {
		return "", fmt.Errorf("mcp: empty actor id in URI: %s", uri)
	}
	if strings.Contains(id, "/") {
		return "", fmt.Errorf("mcp: invalid actor id %q in URI", id)
	}
	return model.NormalizeActor(id), nil
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
