package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/model"
)

func (s *Server) registerPrompts() {
	// situation-brief: walks the agent from the world view down to one theatre.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("situation-brief",
			mcplib.WithPromptDescription("Produce a situation brief from the current conflict state"),
			mcplib.WithArgument("theatre",
				mcplib.ArgumentDescription("Optional theatre to focus on (e.g., europe, middle_east, indo_pacific)"),
			),
		),
		s.handleSituationBriefPrompt,
	)

	// actor-brief: summarizes one actor's conflicts and relations.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("actor-brief",
			mcplib.WithPromptDescription("Summarize one actor's conflicts, alliances and relations"),
			mcplib.WithArgument("actor",
				mcplib.ArgumentDescription("Actor code, e.g. USA, RUS, CHN"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleActorBriefPrompt,
	)
}

func (s *Server) handleSituationBriefPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	theatre := strings.TrimSpace(request.Params.Arguments["theatre"])

	var b strings.Builder
	b.WriteString("Write a situation brief from the CCE's current state.\n\n")
	b.WriteString("1. CALL cce_world. Report the alert level, global tension and the hotspots.\n\n")
	if theatre != "" {
		fmt.Fprintf(&b, "2. CALL cce_theatres and find %q. Report its tension, momentum and dominant actors.\n\n", theatre)
		fmt.Fprintf(&b, "3. CALL cce_conflicts with theatre=%q, sort=\"pressure\", limit=5.\n", theatre)
		b.WriteString("   For each, give the actors, the trend note and the top driver.\n\n")
		fmt.Fprintf(&b, "4. CALL cce_fronts with theatre=%q and describe how control is shifting.\n\n", theatre)
	} else {
		b.WriteString("2. CALL cce_theatres. Name the three most tense theatres and whether each is heating or cooling.\n\n")
		b.WriteString("3. CALL cce_conflicts with sort=\"momentum\", limit=5 to find what is escalating fastest.\n\n")
		b.WriteString("4. CALL cce_alliances and note any alliance under pressure above 0.5.\n\n")
	}
	b.WriteString("Cite event ids for every claim about a specific development. Do not speculate beyond the data.")

	desc := "Situation brief across all theatres"
	if theatre != "" {
		desc = fmt.Sprintf("Situation brief for the %s theatre", theatre)
	}
	return promptResult(desc, b.String()), nil
}

func (s *Server) handleActorBriefPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	actor := model.NormalizeActor(request.Params.Arguments["actor"])
	if actor == "" {
		return nil, fmt.Errorf("actor argument is required")
	}

	text := fmt.Sprintf(`Summarize %[1]s's position in the current conflict picture.

1. CALL cce_world and read countries[%[1]q] for its pressure and status.

2. CALL cce_relations with entity=%[1]q. List hostile edges by strength,
   then any allied edges.

3. CALL cce_conflicts with sort="pressure" and keep the entries whose
   actors include %[1]s. For each, report momentum and the trend note.

4. CALL cce_alliances and name the alliances %[1]s belongs to that are
   under pressure.

Keep the summary under 200 words.`, actor)

	return promptResult(fmt.Sprintf("Brief for actor %s", actor), text), nil
}

func promptResult(desc, text string) *mcplib.GetPromptResult {
	return &mcplib.GetPromptResult{
		Description: desc,
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: text},
			},
		},
	}
}
