package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cinemesh/cinemesh/internal/engine"
)

// Toolkit adapts the TMDB client to the engine's tool-calling protocol.
type Toolkit struct {
	client *Client
}

// NewToolkit wraps client as an engine.Toolkit.
func NewToolkit(client *Client) *Toolkit {
	return &Toolkit{client: client}
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func numberProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// Specs implements engine.Toolkit.
func (tk *Toolkit) Specs() []engine.ToolSpec {
	return []engine.ToolSpec{
		{
			Name:        "search_tmdb",
			Description: "Universal search across movies, TV shows, and people. Returns results organized by type.",
			Parameters: objectSchema([]string{"query"}, map[string]any{
				"query": stringProp("Search query: title, name, or keywords"),
				"limit": intProp("Maximum results per type (default 20)"),
			}),
		},
		{
			Name:        "get_media_details",
			Description: "Get comprehensive details including cast, crew, recommendations, and keywords for a movie, TV show, or person.",
			Parameters: objectSchema([]string{"item_id"}, map[string]any{
				"item_id":    intProp("TMDB ID of the item"),
				"media_type": stringProp(`"movie", "tv", or "person" (default "movie")`),
			}),
		},
		{
			Name:        "get_trending_media",
			Description: "Get currently trending movies, TV shows, or people, by day or week window.",
			Parameters: objectSchema(nil, map[string]any{
				"time_window": stringProp(`"day" or "week" (default "week")`),
				"media_type":  stringProp(`"all", "movie", "tv", or "person" (default "all")`),
				"limit":       intProp("Maximum results (default 20)"),
			}),
		},
		{
			Name:        "get_popular_media",
			Description: "Get the most popular movies or TV shows right now.",
			Parameters: objectSchema(nil, map[string]any{
				"media_type": stringProp(`"movie" or "tv" (default "movie")`),
				"limit":      intProp("Maximum results (default 20)"),
			}),
		},
		{
			Name:        "get_top_rated_media",
			Description: "Get the highest-rated movies or TV shows of all time.",
			Parameters: objectSchema(nil, map[string]any{
				"media_type": stringProp(`"movie" or "tv" (default "movie")`),
				"limit":      intProp("Maximum results (default 20)"),
			}),
		},
		{
			Name:        "get_similar_media",
			Description: "Get movies or TV shows similar to a given item.",
			Parameters: objectSchema([]string{"item_id"}, map[string]any{
				"item_id":    intProp("TMDB ID of the base item"),
				"media_type": stringProp(`"movie" or "tv" (default "movie")`),
				"limit":      intProp("Maximum results (default 15)"),
			}),
		},
		{
			Name:        "discover_with_filters",
			Description: "Advanced discovery of movies or TV shows with rating range, year, genre, and sorting filters.",
			Parameters: objectSchema(nil, map[string]any{
				"media_type": stringProp(`"movie" or "tv" (default "movie")`),
				"min_rating": numberProp("Minimum vote average, 0-10"),
				"max_rating": numberProp("Maximum vote average, 0-10"),
				"year":       intProp("Release or air year"),
				"genres":     stringProp("Comma-separated TMDB genre IDs"),
				"sort_by":    stringProp(`Sort criteria, e.g. "vote_average.desc" or "popularity.desc"`),
				"limit":      intProp("Maximum results (default 20)"),
			}),
		},
	}
}

type toolArgs struct {
	Query      string  `json:"query"`
	ItemID     int64   `json:"item_id"`
	MediaType  string  `json:"media_type"`
	TimeWindow string  `json:"time_window"`
	MinRating  float64 `json:"min_rating"`
	MaxRating  float64 `json:"max_rating"`
	Year       int     `json:"year"`
	Genres     string  `json:"genres"`
	SortBy     string  `json:"sort_by"`
	Limit      int     `json:"limit"`
}

// Call implements engine.Toolkit. Results are serialized to JSON for
// the model; errors are returned for the engine to report back.
func (tk *Toolkit) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	var a toolArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
	}
	if a.MediaType == "" {
		a.MediaType = "movie"
	}

	var (
		result any
		err    error
	)
	switch name {
	case "search_tmdb":
		result, err = tk.client.Search(ctx, a.Query, a.Limit)
	case "get_media_details":
		result, err = tk.client.GetDetails(ctx, a.ItemID, a.MediaType)
	case "get_trending_media":
		mt := a.MediaType
		if len(args) == 0 || !jsonHasField(args, "media_type") {
			mt = "all"
		}
		result, err = tk.client.Trending(ctx, a.TimeWindow, mt, a.Limit)
	case "get_popular_media":
		result, err = tk.client.Popular(ctx, a.MediaType, a.Limit)
	case "get_top_rated_media":
		result, err = tk.client.TopRated(ctx, a.MediaType, a.Limit)
	case "get_similar_media":
		result, err = tk.client.Similar(ctx, a.ItemID, a.MediaType, a.Limit)
	case "discover_with_filters":
		filters := DiscoverFilters{
			MinRating: a.MinRating, MaxRating: a.MaxRating,
			Year: a.Year, Genres: a.Genres, SortBy: a.SortBy,
		}
		result, err = tk.client.Discover(ctx, a.MediaType, filters, a.Limit)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal %s result: %w", name, err)
	}
	return string(out), nil
}

func jsonHasField(raw json.RawMessage, field string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	_, ok := m[field]
	return ok
}
