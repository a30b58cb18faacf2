package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/newstown/newstown/pkg/articles"
	"github.com/newstown/newstown/pkg/ingestion"
	"github.com/newstown/newstown/pkg/llm"
	"github.com/newstown/newstown/pkg/models"
)

// Approval thresholds. All three must hold.
const (
	approveVerificationMin = 0.9
	approveStyleMin        = 0.8
	approveDiversityMin    = 0.5
)

// maxClaimsToVerify bounds the fact-check pass.
const maxClaimsToVerify = 7

// Editor reviews drafts: style and AP analysis, claim verification via
// search, source diversity, and the approve/reject decision.
type Editor struct {
	chat     llm.ChatClient
	searcher *ingestion.FallbackSearcher
	articles *articles.Store
}

// NewEditor creates an editor handler.
func NewEditor(chat llm.ChatClient, searcher *ingestion.FallbackSearcher, store *articles.Store) *Editor {
	return &Editor{chat: chat, searcher: searcher, articles: store}
}

// HandleTask implements agent.Handler.
func (e *Editor) HandleTask(ctx context.Context, task *models.Task) (models.Payload, error) {
	if task.Stage != models.StageReview {
		return nil, fmt.Errorf("editor cannot handle stage %q", task.Stage)
	}
	return e.review(ctx, task)
}

type textAnalysis struct {
	Claims        []string `json:"claims"`
	Tone          string   `json:"tone"`
	APViolations  []string `json:"ap_violations"`
	StyleIssues   []string `json:"style_issues"`
	GrammarIssues []string `json:"grammar_issues"`
	Score         float64  `json:"score"`
}

type claimCheck struct {
	Supported bool   `json:"supported"`
	Reason    string `json:"reason"`
}

func (e *Editor) review(ctx context.Context, task *models.Task) (models.Payload, error) {
	draft := task.Input.GetMap("draft")
	articleText := draft.GetString("article")
	headline := draft.GetString("headline")

	log := slog.With("story_id", task.StoryID, "headline", headline)
	log.Info("Review started")

	analysis := e.analyzeText(ctx, articleText)
	verification := e.verifyClaims(ctx, analysis.Claims)
	diversity := sourceDiversity(task.Input.GetMap("research_data").GetMapSlice("sources"))

	score, verificationScore, styleScore := calculateScore(analysis, verification)
	if diversity < approveDiversityMin {
		score = math.Round(score*0.8*100) / 100
		analysis.StyleIssues = append(analysis.StyleIssues,
			"Poor source diversity - story relies on too few domains.")
	}

	decision := "REJECT"
	if verificationScore >= approveVerificationMin &&
		styleScore >= approveStyleMin &&
		diversity >= approveDiversityMin {
		decision = "APPROVE"
	}

	feedback := compileFeedback(analysis, verification, score, decision)

	review := models.ArticleReview{
		StoryID:           task.StoryID,
		Score:             score,
		VerificationScore: verificationScore,
		StyleScore:        styleScore,
		Decision:          decision,
		Feedback:          feedback,
		Meta: models.Payload{
			"tone":                analysis.Tone,
			"claims_count":        len(analysis.Claims),
			"ap_style_violations": len(analysis.APViolations),
			"diversity_score":     diversity,
		},
	}
	if task.AssignedAgent != nil {
		review.EditorAgentID = *task.AssignedAgent
	}
	if _, err := e.articles.AddReview(ctx, review); err != nil {
		log.Error("Failed to persist review", "error", err)
	}

	log.Info("Review completed", "decision", decision, "score", score)

	return models.Payload{
		"decision":           decision,
		"score":              score,
		"verification_score": verificationScore,
		"style_score":        styleScore,
		"diversity_score":    diversity,
		"feedback":           feedback,
		"verification":       verification,
	}, nil
}

// analyzeText extracts claims and scores style against AP standards. A parse
// failure degrades to a neutral analysis rather than failing the review.
func (e *Editor) analyzeText(ctx context.Context, text string) textAnalysis {
	prompt := fmt.Sprintf(`Analyze the following news article draft for quality and AP Style adherence.

Article:
%s

Instructions:
1. Extract max 10 key factual claims for verification.
2. Assess tone (Objective, Biased, Sensationalist, Dry).
3. Check for AP Style violations (date formats, title capitalization, number usage, Oxford commas - AP doesn't use them).
4. Identify grammatical or structural issues.
5. Provide a style score (0.0 to 1.0) based on overall quality and AP adherence.

Return JSON format:
{
    "claims": ["claim 1", "claim 2"],
    "tone": "Objective",
    "ap_violations": ["violation 1"],
    "style_issues": ["issue 1"],
    "grammar_issues": ["issue 1"],
    "score": 0.85
}`, text)

	neutral := textAnalysis{Tone: "Unknown", Score: 0.5}

	content, err := e.chat.Generate(ctx, llm.UserRequest(
		"You are a professional news editor enforcing strict AP Style guidelines.", prompt))
	if err != nil {
		slog.Error("Text analysis failed", "error", err)
		return neutral
	}

	var analysis textAnalysis
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &analysis); err != nil {
		return neutral
	}
	return analysis
}

// verifyClaims fact-checks up to maxClaimsToVerify claims by searching and
// asking the model whether the snippets support each one. A claim that
// cannot be checked counts as unsupported.
func (e *Editor) verifyClaims(ctx context.Context, claims []string) models.Payload {
	if len(claims) > maxClaimsToVerify {
		claims = claims[:maxClaimsToVerify]
	}

	details := models.Payload{}
	verified := 0
	for _, claim := range claims {
		results, err := e.searcher.Search(ctx, claim, 3)
		if err != nil {
			slog.Warn("Claim verification search failed", "claim", claim, "error", err)
			details[claim] = models.Payload{"supported": false, "reason": "Verification failed"}
			continue
		}

		var snippets []string
		for _, res := range results {
			snippets = append(snippets, res.Snippet)
		}
		check := e.checkClaimSupport(ctx, claim, strings.Join(snippets, "\n"))
		details[claim] = models.Payload{"supported": check.Supported, "reason": check.Reason}
		if check.Supported {
			verified++
		}
	}

	return models.Payload{
		"claims_checked": len(claims),
		"verified_count": verified,
		"details":        details,
	}
}

func (e *Editor) checkClaimSupport(ctx context.Context, claim, context_ string) claimCheck {
	prompt := fmt.Sprintf(`Claim: %s

Context:
%s

Does the context support the claim? Be strict.
Return JSON: { "supported": true/false, "reason": "..." }`, claim, context_)

	req := llm.UserRequest("You are an expert fact-checker. Be pedantic and thorough.", prompt)
	req.MaxTokens = 200
	content, err := e.chat.Generate(ctx, req)
	if err != nil {
		return claimCheck{Supported: false, Reason: "LLM check failed"}
	}

	var check claimCheck
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &check); err != nil {
		return claimCheck{Supported: false, Reason: "LLM output parse error"}
	}
	return check
}

// calculateScore weights verification 70/30 over style. AP violations chip
// away at the style score.
func calculateScore(analysis textAnalysis, verification models.Payload) (total, verificationScore, styleScore float64) {
	styleScore = math.Max(0, analysis.Score-float64(len(analysis.APViolations))*0.05)

	verificationScore = 1.0
	if checked := verification.GetFloat("claims_checked"); checked > 0 {
		verificationScore = verification.GetFloat("verified_count") / checked
	}

	total = math.Round((verificationScore*0.7+styleScore*0.3)*100) / 100
	return total, verificationScore, styleScore
}

func compileFeedback(analysis textAnalysis, verification models.Payload, score float64, decision string) string {
	parts := []string{
		fmt.Sprintf("Decision: %s (Score: %.2f/1.0)", decision, score),
		fmt.Sprintf("Style/AP Score: %.2f", analysis.Score),
		fmt.Sprintf("Fact Check: %d/%d verified",
			verification.GetInt("verified_count"), verification.GetInt("claims_checked")),
		"",
		"AP Style Violations:",
	}
	for _, v := range analysis.APViolations {
		parts = append(parts, "- "+v)
	}
	parts = append(parts, "\nStyle/Grammar Issues:")
	for _, v := range analysis.StyleIssues {
		parts = append(parts, "- "+v)
	}
	for _, v := range analysis.GrammarIssues {
		parts = append(parts, "- "+v)
	}
	parts = append(parts, "\nUnverified Claims:")
	for claim, detail := range verification.GetMap("details") {
		d, ok := detail.(models.Payload)
		if !ok {
			if m, isMap := detail.(map[string]any); isMap {
				d = models.Payload(m)
			} else {
				continue
			}
		}
		if !d.GetBool("supported") {
			parts = append(parts, fmt.Sprintf("- %s: %s", claim, d.GetString("reason")))
		}
	}
	return strings.Join(parts, "\n")
}

// sourceDiversity scores how many distinct domains back the story:
// one domain scores 0, two 0.5, three or more 1.
func sourceDiversity(sources []models.Payload) float64 {
	domains := map[string]bool{}
	for _, s := range sources {
		if host := hostOf(s.GetString("url")); host != "" {
			domains[host] = true
		}
	}
	switch {
	case len(domains) <= 1:
		return 0.0
	case len(domains) == 2:
		return 0.5
	default:
		return 1.0
	}
}
