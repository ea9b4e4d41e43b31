package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

// Wire structs mirror the JSON the prompts ask the model to emit.

type classifyReply struct {
	Category           string `json:"category"`
	Reason             string `json:"reason"`
	SimpleAddress      string `json:"simple_address"`
	EstimatedPrecision string `json:"estimated_precision"`
}

type addressReply struct {
	Address       string   `json:"address"`
	Lat           *float64 `json:"lat"`
	Lon           *float64 `json:"lon"`
	Precision     string   `json:"precision"`
	Confidence    float64  `json:"confidence"`
	SourceURL     string   `json:"source_url"`
	SourceSnippet string   `json:"source_snippet"`
	IsResidence   bool     `json:"is_residence"`
	Corroboration []string `json:"corroboration"`
	Concerns      []string `json:"concerns"`
}

type searchQueryReply struct {
	Query string `json:"query"`
}

type candidatesReply struct {
	Candidates []candidateReply `json:"candidates"`
}

type candidateReply struct {
	Address   string `json:"address"`
	SourceURL string `json:"source_url"`
	Evidence  string `json:"evidence"`
}

type scoreReply struct {
	BestIndex int     `json:"best_index"`
	Score     float64 `json:"score"`
}

type summaryReply struct {
	Summary    string   `json:"summary"`
	KeyThemes  []string `json:"key_themes"`
	DateRange  string   `json:"date_range"`
	StoryCount int      `json:"story_count"`
}

// ClassifyLocation assigns a location to a resolution tier.
func (c *Client) ClassifyLocation(ctx context.Context, loc story.Location) (story.Classification, error) {
	var reply classifyReply
	err := c.complete(ctx, "classify", c.cfg.Model, classifySystemPrompt, locationPrompt(loc), &reply)
	if err != nil {
		return story.Classification{}, err
	}

	tier := story.Tier(strings.ToLower(reply.Category))
	switch tier {
	case story.TierSkip, story.TierSimple, story.TierResearch:
	default:
		return story.Classification{}, fmt.Errorf("classify: unknown category %q", reply.Category)
	}

	cls := story.Classification{
		Tier:          tier,
		Reason:        reply.Reason,
		SimpleAddress: reply.SimpleAddress,
	}
	if p := story.Precision(reply.EstimatedPrecision); p.Valid() {
		cls.EstimatedPrecision = p
	}
	return cls, nil
}

// FindPreciseAddress performs the web-search-augmented research lookup.
func (c *Client) FindPreciseAddress(ctx context.Context, loc story.Location) (story.AddressResolution, error) {
	var reply addressReply
	err := c.complete(ctx, "find_address", c.cfg.Model, findAddressSystemPrompt, locationPrompt(loc), &reply)
	if err != nil {
		return story.AddressResolution{}, err
	}
	if reply.Address == "" {
		return story.AddressResolution{}, fmt.Errorf("find_address: model returned no address")
	}

	precision := story.Precision(reply.Precision)
	if !precision.Valid() {
		precision = story.PrecisionCity
	}
	confidence := reply.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return story.AddressResolution{
		Address:       reply.Address,
		Lat:           reply.Lat,
		Lon:           reply.Lon,
		Precision:     precision,
		Confidence:    confidence,
		SourceURL:     reply.SourceURL,
		SourceSnippet: reply.SourceSnippet,
		IsResidence:   reply.IsResidence,
		Corroboration: reply.Corroboration,
		Concerns:      reply.Concerns,
	}, nil
}

// GenerateSearchQuery produces a web search query for the harvester path.
func (c *Client) GenerateSearchQuery(ctx context.Context, loc story.Location) (string, error) {
	var reply searchQueryReply
	err := c.complete(ctx, "search_query", c.cfg.Model, searchQuerySystemPrompt, locationPrompt(loc), &reply)
	if err != nil {
		return "", err
	}
	if reply.Query == "" {
		return "", fmt.Errorf("search_query: model returned empty query")
	}
	return reply.Query, nil
}

// ExtractCandidates pulls address candidates out of harvested search text.
func (c *Client) ExtractCandidates(ctx context.Context, searchText string, loc story.Location) ([]story.AddressCandidate, error) {
	user := locationPrompt(loc) + "\n\nHarvested search results:\n" + searchText
	var reply candidatesReply
	if err := c.complete(ctx, "extract_candidates", c.cfg.Model, extractCandidatesSystemPrompt, user, &reply); err != nil {
		return nil, err
	}

	candidates := make([]story.AddressCandidate, 0, len(reply.Candidates))
	for _, cand := range reply.Candidates {
		if cand.Address == "" {
			continue
		}
		candidates = append(candidates, story.AddressCandidate{
			Address:   cand.Address,
			SourceURL: cand.SourceURL,
			Evidence:  cand.Evidence,
		})
	}
	return candidates, nil
}

// ScoreCandidates picks the best candidate and an overall score.
func (c *Client) ScoreCandidates(ctx context.Context, candidates []story.AddressCandidate) (story.CandidateScore, error) {
	if len(candidates) == 0 {
		return story.CandidateScore{}, fmt.Errorf("score_candidates: no candidates to score")
	}

	var sb strings.Builder
	for i, cand := range candidates {
		fmt.Fprintf(&sb, "[%d] Address: %s\n    Source: %s\n    Evidence: %s\n", i, cand.Address, cand.SourceURL, cand.Evidence)
	}

	var reply scoreReply
	if err := c.complete(ctx, "score_candidates", c.cfg.Model, scoreCandidatesSystemPrompt, sb.String(), &reply); err != nil {
		return story.CandidateScore{}, err
	}
	if reply.BestIndex < 0 || reply.BestIndex >= len(candidates) {
		return story.CandidateScore{}, fmt.Errorf("score_candidates: best_index %d out of range", reply.BestIndex)
	}
	return story.CandidateScore{
		Best:  candidates[reply.BestIndex],
		Score: reply.Score,
	}, nil
}

// SummarizeCluster writes a narrative summary for a batch cluster.
func (c *Client) SummarizeCluster(ctx context.Context, stories []string, locationName string, zoom int) (story.ClusterSummary, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Location: %s\nZoom level: %d\nStories:\n", locationName, zoom)
	for _, s := range stories {
		sb.WriteString("- " + s + "\n")
	}

	var reply summaryReply
	if err := c.complete(ctx, "summarize_cluster", c.cfg.SummaryModel, summarizeClusterSystemPrompt, sb.String(), &reply); err != nil {
		return story.ClusterSummary{}, err
	}
	if reply.StoryCount == 0 {
		reply.StoryCount = len(stories)
	}
	return story.ClusterSummary{
		Summary:    reply.Summary,
		KeyThemes:  reply.KeyThemes,
		DateRange:  reply.DateRange,
		StoryCount: reply.StoryCount,
	}, nil
}

// locationPrompt renders a Location and its story context for prompts.
func locationPrompt(loc story.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Place name: %s\n", loc.PlaceName)
	if loc.PlaceType != "" {
		fmt.Fprintf(&sb, "Place type: %s\n", loc.PlaceType)
	}
	if loc.Note != "" {
		fmt.Fprintf(&sb, "Note: %s\n", loc.Note)
	}
	if loc.Lat != nil && loc.Lon != nil {
		fmt.Fprintf(&sb, "Approximate coordinates: %.5f, %.5f\n", *loc.Lat, *loc.Lon)
	}
	if loc.StoryTitle != "" {
		fmt.Fprintf(&sb, "Story title: %s\n", loc.StoryTitle)
	}
	if loc.StorySummary != "" {
		fmt.Fprintf(&sb, "Story summary: %s\n", loc.StorySummary)
	}
	return sb.String()
}
