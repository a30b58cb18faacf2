// Package workers implements the role handlers that run inside the agent
// runtime: reporter (research, draft, revise), editor (review), and
// publisher (distribution).
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/newstown/newstown/pkg/eventlog"
	"github.com/newstown/newstown/pkg/ingestion"
	"github.com/newstown/newstown/pkg/llm"
	"github.com/newstown/newstown/pkg/memory"
	"github.com/newstown/newstown/pkg/models"
	"github.com/newstown/newstown/pkg/oversight"
)

// Reporter researches stories, writes drafts, and revises them on editor
// feedback.
type Reporter struct {
	chat      llm.ChatClient
	searcher  *ingestion.FallbackSearcher
	embedder  ingestion.Embedder
	memory    *memory.Store
	events    *eventlog.Store
	oversight *oversight.Store
}

// NewReporter creates a reporter handler.
func NewReporter(chat llm.ChatClient, searcher *ingestion.FallbackSearcher, embedder ingestion.Embedder, mem *memory.Store, events *eventlog.Store, over *oversight.Store) *Reporter {
	return &Reporter{
		chat:      chat,
		searcher:  searcher,
		embedder:  embedder,
		memory:    mem,
		events:    events,
		oversight: over,
	}
}

// HandleTask implements agent.Handler.
func (r *Reporter) HandleTask(ctx context.Context, task *models.Task) (models.Payload, error) {
	switch task.Stage {
	case models.StageResearch:
		return r.research(ctx, task)
	case models.StageDraft:
		return r.draft(ctx, task)
	case models.StageEdit:
		return r.revise(ctx, task)
	default:
		return nil, fmt.Errorf("reporter cannot handle stage %q", task.Stage)
	}
}

// research runs the two-phase strategy: a discovery search on the detection
// title, then LLM-generated investigative queries for the deep dive. Human
// supplied sources and historical memory context are folded in, and any
// human prompt attached to the task is answered from the findings.
func (r *Reporter) research(ctx context.Context, task *models.Task) (models.Payload, error) {
	detection := task.Input.GetMap("detection_data")
	title := detection.GetString("title")
	summary := detection.GetString("summary")
	originalURL := detection.GetString("url")

	log := slog.With("story_id", task.StoryID, "title", title)
	log.Info("Research started")

	entities := r.refineEntities(ctx, title, summary)
	historical := r.historicalContext(ctx, task.StoryID, title, summary)

	discovery, err := r.searcher.Search(ctx, title, 5)
	if err != nil {
		log.Warn("Discovery search failed", "error", err)
	}

	questions := r.investigativeQuestions(ctx, title, summary, entities, discovery)
	var deep []ingestion.SearchResult
	for i, q := range questions {
		if i >= 2 {
			break
		}
		results, err := r.searcher.Search(ctx, q, 2)
		if err != nil {
			log.Warn("Deep dive search failed", "query", q, "error", err)
			continue
		}
		deep = append(deep, results...)
	}

	sources := []models.Payload{{
		"url":     originalURL,
		"title":   title,
		"snippet": truncate(summary, 200),
		"type":    "original",
	}}
	seen := map[string]bool{originalURL: true}
	for _, res := range append(discovery, deep...) {
		if res.URL == "" || seen[res.URL] {
			continue
		}
		seen[res.URL] = true
		sources = append(sources, models.Payload{
			"url":               res.URL,
			"title":             res.Title,
			"snippet":           res.Snippet,
			"type":              "corroboration",
			"reliability_score": scoreReliability(res.URL),
		})
	}

	sources = append(sources, r.humanSources(ctx, task.StoryID)...)

	verified := len(sources) >= 3
	facts := []models.Payload{{
		"claim":    "Core topic: " + title,
		"source":   originalURL,
		"verified": verified,
	}}

	output := models.Payload{
		"facts":               toAnySlice(facts),
		"sources":             toAnySlice(sources),
		"entities":            entities,
		"verified":            verified,
		"investigative_leads": questions,
		"historical_context":  historical,
	}

	if question := task.Input.GetString("human_prompt_text"); question != "" {
		answer := r.answerPrompt(ctx, question, title, summary, sources)
		output["prompt_answer"] = answer
		if id := task.Input.GetInt("human_prompt_id"); id > 0 {
			if err := r.oversight.AnswerPrompt(ctx, int64(id), models.Payload{"answer": answer}); err != nil {
				log.Error("Failed to record prompt answer", "prompt_id", id, "error", err)
			}
		}
	}

	log.Info("Research complete",
		"discovery_count", len(discovery),
		"deep_dive_count", len(deep),
		"sources", len(sources),
		"verified", verified)

	return output, nil
}

func (r *Reporter) draft(ctx context.Context, task *models.Task) (models.Payload, error) {
	detection := task.Input.GetMap("detection_data")
	research := task.Input.GetMap("research_data")

	title := detection.GetString("title")
	slog.Info("Drafting article", "story_id", task.StoryID, "title", title)

	sources := research.GetMapSlice("sources")
	entities := research.GetMap("entities")
	facts := research.GetMapSlice("facts")

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "Original Summary: %s\n", detection.GetString("summary"))
	fmt.Fprintf(&b, "Source URL: %s\n\n", detection.GetString("url"))
	fmt.Fprintf(&b, "Research Findings:\n")
	fmt.Fprintf(&b, "- Verified: %t\n", research.GetBool("verified"))
	fmt.Fprintf(&b, "- Number of independent sources: %d\n", len(sources))
	fmt.Fprintf(&b, "- People: %s\n", joinOr(entities.GetStringSlice("people"), 5, "None"))
	fmt.Fprintf(&b, "- Orgs: %s\n\n", joinOr(entities.GetStringSlice("organizations"), 5, "None"))
	b.WriteString("Key facts:\n")
	for i, f := range facts {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "- %s\n", f.GetString("claim"))
	}
	b.WriteString("\nAdditional sources:\n")
	for i, s := range sources {
		if i == 0 {
			continue
		}
		if i > 3 {
			break
		}
		fmt.Fprintf(&b, "- %s: %s...\n", s.GetString("title"), truncate(s.GetString("snippet"), 100))
	}
	if hist := research.GetMapSlice("historical_context"); len(hist) > 0 {
		b.WriteString("\nHistorical Context/Related Stories:\n")
		for _, h := range hist {
			fmt.Fprintf(&b, "- %s\n", h.GetString("content"))
		}
	}
	b.WriteString("\nWrite a clear, factual news article (200-400 words).\n")
	b.WriteString("Include a headline and article body.\n")
	b.WriteString("Cite sources appropriately.\n")
	b.WriteString("If historical context is provided, mention it to add depth.\n")

	article, err := r.chat.Generate(ctx, llm.UserRequest(
		"You are a reporter writing a news article.", b.String()))
	if err != nil {
		return nil, fmt.Errorf("draft generation: %w", err)
	}

	wordCount := len(strings.Fields(article))
	agentID := agentIDOf(task)
	if _, err := r.events.Append(ctx, task.StoryID, models.EventDraftCompleted, models.Payload{
		"word_count": wordCount,
	}, agentID); err != nil {
		slog.Error("Failed to append draft event", "story_id", task.StoryID, "error", err)
	}

	return models.Payload{
		"article":    article,
		"headline":   title,
		"word_count": wordCount,
	}, nil
}

func (r *Reporter) revise(ctx context.Context, task *models.Task) (models.Payload, error) {
	draft := task.Input.GetMap("draft")
	feedback := task.Input.GetString("feedback")
	headline := draft.GetString("headline")

	slog.Info("Revising article", "story_id", task.StoryID, "headline", headline)

	prompt := fmt.Sprintf(`Original Article:
%s

Editor's Feedback:
%s

Rewrite the article to address the feedback.
Keep the same general structure unless requested otherwise.`,
		draft.GetString("article"), feedback)

	revised, err := r.chat.Generate(ctx, llm.UserRequest(
		"You are a reporter modifying an article based on feedback.", prompt))
	if err != nil {
		return nil, fmt.Errorf("revision: %w", err)
	}

	wordCount := len(strings.Fields(revised))
	agentID := agentIDOf(task)
	if _, err := r.events.Append(ctx, task.StoryID, models.EventRevisionDone, models.Payload{
		"word_count":      wordCount,
		"revision_number": task.Input.GetInt("revision_number"),
	}, agentID); err != nil {
		slog.Error("Failed to append revision event", "story_id", task.StoryID, "error", err)
	}

	return models.Payload{
		"article":     revised,
		"headline":    headline,
		"word_count":  wordCount,
		"is_revision": true,
	}, nil
}

// refineEntities asks the LLM to deduplicate and categorize entities from
// the detection text. A parse failure degrades to empty lists.
func (r *Reporter) refineEntities(ctx context.Context, title, summary string) models.Payload {
	prompt := fmt.Sprintf(`Story: %s
Context: %s

Task: Identify the entities in this story. Deduplicate and verify relevance.
Return JSON: {"people": [], "organizations": [], "locations": [], "key_events": []}`,
		title, summary)

	empty := models.Payload{
		"people": []any{}, "organizations": []any{}, "locations": []any{},
	}

	content, err := r.chat.Generate(ctx, llm.UserRequest(
		"You are a meticulous data journalist.", prompt))
	if err != nil {
		slog.Warn("Entity refinement failed", "error", err)
		return empty
	}

	var entities models.Payload
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &entities); err != nil {
		return empty
	}
	return entities
}

// historicalContext retrieves related prior coverage from memory, excluding
// the story itself.
func (r *Reporter) historicalContext(ctx context.Context, storyID uuid.UUID, title, summary string) []any {
	embedding, err := r.embedder.Embed(ctx, title+". "+summary)
	if err != nil {
		slog.Warn("Context embedding failed", "error", err)
		return nil
	}
	similar, err := r.memory.FindSimilar(ctx, embedding, 0.3, 4)
	if err != nil {
		slog.Warn("Memory lookup failed", "error", err)
		return nil
	}

	var out []any
	for _, m := range similar {
		if m.StoryID == storyID {
			continue
		}
		out = append(out, models.Payload{
			"story_id":   m.StoryID.String(),
			"content":    m.Content,
			"similarity": m.Similarity,
		})
		if len(out) >= 3 {
			break
		}
	}
	return out
}

func (r *Reporter) investigativeQuestions(ctx context.Context, title, summary string, entities models.Payload, discovery []ingestion.SearchResult) []string {
	var snippets []string
	for i, res := range discovery {
		if i >= 3 {
			break
		}
		snippets = append(snippets, res.Snippet)
	}

	prompt := fmt.Sprintf(`Story: %s
Known Context: %s
Early findings: %s
Entities: %v

Task: Generate 3 specific search queries to find missing details or corroboration for this story.
Return JSON list: ["query 1", "query 2", "query 3"]`,
		title, summary, strings.Join(snippets, "\n"), entities)

	fallback := []string{title + " official statement", title + " background"}

	content, err := r.chat.Generate(ctx, llm.UserRequest(
		"You are an investigative reporter.", prompt))
	if err != nil {
		return fallback
	}

	var queries []string
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &queries); err != nil || len(queries) == 0 {
		return fallback
	}
	return queries
}

// humanSources pulls unprocessed human-supplied sources into the research
// findings and marks them consumed.
func (r *Reporter) humanSources(ctx context.Context, storyID uuid.UUID) []models.Payload {
	srcs, err := r.oversight.ListUnprocessedSources(ctx, storyID)
	if err != nil {
		slog.Warn("Failed to load human sources", "story_id", storyID, "error", err)
		return nil
	}

	var out []models.Payload
	for _, src := range srcs {
		entry := models.Payload{"type": "human"}
		if src.URL != nil {
			entry["url"] = *src.URL
		}
		if src.Content != nil {
			entry["snippet"] = truncate(*src.Content, 300)
		}
		out = append(out, entry)
		if err := r.oversight.MarkSourceProcessed(ctx, src.ID); err != nil {
			slog.Error("Failed to mark source processed", "source_id", src.ID, "error", err)
		}
	}
	return out
}

func (r *Reporter) answerPrompt(ctx context.Context, question, title, summary string, sources []models.Payload) string {
	var lines []string
	for i, s := range sources {
		if i >= 5 {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", s.GetString("title"), truncate(s.GetString("snippet"), 150)))
	}

	prompt := fmt.Sprintf(`Story: %s
Context: %s

Question: %s

Sources:
%s

Answer the question based on the findings.`,
		title, summary, question, strings.Join(lines, "\n"))

	req := llm.UserRequest("You are a helpful research assistant.", prompt)
	req.MaxTokens = 300
	answer, err := r.chat.Generate(ctx, req)
	if err != nil {
		slog.Warn("Prompt answering failed", "error", err)
		return "Unable to answer."
	}
	return answer
}

// scoreReliability rates a source domain: institutional and wire-service
// domains high, social platforms low, everything else neutral.
func scoreReliability(rawURL string) float64 {
	high := []string{".gov", ".edu", "reuters.com", "apnews.com", "nytimes.com", "bbc.co.uk"}
	low := []string{"twitter.com", "facebook.com", "reddit.com", "blogspot.com"}
	for _, d := range high {
		if strings.Contains(rawURL, d) {
			return 0.9
		}
	}
	for _, d := range low {
		if strings.Contains(rawURL, d) {
			return 0.3
		}
	}
	return 0.5
}

func agentIDOf(task *models.Task) *uuid.UUID {
	return task.AssignedAgent
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func joinOr(items []string, limit int, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return strings.Join(items, ", ")
}

func toAnySlice(in []models.Payload) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// hostOf extracts the registrable host from a URL for diversity scoring.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
