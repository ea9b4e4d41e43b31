package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bookworm-labs/storyatlas/internal/story"
)

// fakeCompletionServer returns an OpenAI-shaped chat completion whose
// message content is the given JSON payload.
func fakeCompletionServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-4o",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": payload,
					},
				},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o",
	}, nil, nil)
	require.NoError(t, err)
	return c
}

func TestClassifyLocationParsesReply(t *testing.T) {
	t.Parallel()

	srv := fakeCompletionServer(t, `{
		"category": "simple",
		"reason": "well-known city",
		"simple_address": "Cupertino, CA",
		"estimated_precision": "city"
	}`)
	defer srv.Close()

	c := newTestClient(t, srv)
	cls, err := c.ClassifyLocation(context.Background(), story.Location{PlaceName: "Cupertino, California"})
	require.NoError(t, err)
	require.Equal(t, story.TierSimple, cls.Tier)
	require.Equal(t, "Cupertino, CA", cls.SimpleAddress)
	require.Equal(t, story.PrecisionCity, cls.EstimatedPrecision)
}

func TestClassifyLocationRejectsUnknownCategory(t *testing.T) {
	t.Parallel()

	srv := fakeCompletionServer(t, `{"category": "maybe", "reason": "?"}`)
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ClassifyLocation(context.Background(), story.Location{PlaceName: "anywhere"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown category")
}

func TestFindPreciseAddressClampsConfidence(t *testing.T) {
	t.Parallel()

	srv := fakeCompletionServer(t, `{
		"address": "2066 Crist Dr, Los Altos, CA 94024",
		"precision": "address",
		"confidence": 1.4,
		"source_url": "https://example.com/jobs-garage",
		"is_residence": true,
		"concerns": []
	}`)
	defer srv.Close()

	c := newTestClient(t, srv)
	res, err := c.FindPreciseAddress(context.Background(), story.Location{PlaceName: "the garage in Los Altos"})
	require.NoError(t, err)
	require.Equal(t, 1.0, res.Confidence)
	require.True(t, res.IsResidence)
	require.Equal(t, story.PrecisionAddress, res.Precision)
}

func TestFindPreciseAddressRequiresAddress(t *testing.T) {
	t.Parallel()

	srv := fakeCompletionServer(t, `{"address": "", "confidence": 0.1}`)
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.FindPreciseAddress(context.Background(), story.Location{PlaceName: "nowhere"})
	require.Error(t, err)
}

func TestScoreCandidatesValidatesIndex(t *testing.T) {
	t.Parallel()

	srv := fakeCompletionServer(t, `{"best_index": 5, "score": 0.9}`)
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.ScoreCandidates(context.Background(), []story.AddressCandidate{
		{Address: "1 Infinite Loop"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "out of range")
}

func TestSummarizeClusterDefaultsStoryCount(t *testing.T) {
	t.Parallel()

	srv := fakeCompletionServer(t, `{
		"summary": "Three stories about early manufacturing.",
		"key_themes": ["manufacturing"],
		"date_range": "1980-1984"
	}`)
	defer srv.Close()

	c := newTestClient(t, srv)
	sum, err := c.SummarizeCluster(context.Background(), []string{"a", "b", "c"}, "Fremont, CA", 10)
	require.NoError(t, err)
	require.Equal(t, 3, sum.StoryCount)
	require.Equal(t, "1980-1984", sum.DateRange)
}
