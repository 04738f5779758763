package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinemesh/cinemesh/internal/log"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(ClientConfig{
		BaseURL:    srv.URL,
		APIKey:     "tmdb-key",
		MaxRetries: 2,
	}, log.NewNop())
}

func TestClient_Search_OrganizesByMediaType(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/multi", r.URL.Path)
		assert.Equal(t, "tmdb-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "inception", r.URL.Query().Get("query"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"media_type": "movie", "id": 27205, "title": "Inception", "vote_average": 8.4,
					"release_date": "2010-07-15", "overview": strings.Repeat("x", 250)},
				{"media_type": "person", "id": 525, "name": "Christopher Nolan",
					"known_for_department": "Directing"},
				{"media_type": "tv", "id": 99, "name": "Some Show", "first_air_date": "2020-01-01"},
			},
		})
	})

	res, err := client.Search(context.Background(), "inception", 20)
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalResults)
	require.Len(t, res.Movies, 1)
	require.Len(t, res.TVShows, 1)
	require.Len(t, res.People, 1)

	assert.Equal(t, "Inception", res.Movies[0].Title)
	assert.Equal(t, int64(27205), res.Movies[0].ID)
	assert.Len(t, res.Movies[0].Overview, 203, "overview should be truncated to 200 chars plus ellipsis")
	assert.Equal(t, "Christopher Nolan", res.People[0].Name)
	assert.Equal(t, "Directing", res.People[0].KnownForDepartment)
	assert.Equal(t, "2020-01-01", res.TVShows[0].FirstAirDate)
}

func TestClient_Search_NotFoundIsEmptyResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	res, err := client.Search(context.Background(), "nothing", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalResults)
	assert.Empty(t, res.Movies)
}

func TestClient_GetDetails_Movie(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/movie/550", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("append_to_response"), "credits")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": 550, "title": "Fight Club", "vote_average": 8.4, "vote_count": 26000,
			"release_date": "1999-10-15", "runtime": 139, "status": "Released",
			"genres": []map[string]any{{"name": "Drama"}},
			"credits": map[string]any{
				"cast": []map[string]any{
					{"name": "Edward Norton", "character": "The Narrator"},
					{"name": "Brad Pitt", "character": "Tyler Durden"},
				},
				"crew": []map[string]any{
					{"name": "Jim Uhls", "job": "Screenplay"},
					{"name": "David Fincher", "job": "Director"},
				},
			},
			"keywords": map[string]any{"keywords": []map[string]any{{"name": "insomnia"}}},
		})
	})

	d, err := client.GetDetails(context.Background(), 550, "movie")
	require.NoError(t, err)

	assert.Equal(t, "Fight Club", d.Title)
	assert.Equal(t, 139, d.Runtime)
	assert.Equal(t, "David Fincher", d.Director)
	assert.Equal(t, []string{"Drama"}, d.Genres)
	assert.Equal(t, []string{"insomnia"}, d.Keywords)
	require.Len(t, d.Cast, 2)
	assert.Equal(t, "Tyler Durden", d.Cast[1].Character)
}

func TestClient_GetDetails_NotFound(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.NotFound(w, r)
	})

	_, err := client.GetDetails(context.Background(), 999999, "movie")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), attempts.Load(), "404 must not be retried")
}

func TestClient_GetDetails_RejectsUnknownMediaType(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.GetDetails(context.Background(), 1, "podcast")
	assert.Error(t, err)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "upstream busy", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{
			{"id": 1, "title": "Recovered"},
		}})
	})

	res, err := client.Popular(context.Background(), "movie", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClient_Trending_BuildsEndpoint(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})

	_, err := client.Trending(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "/trending/all/week", gotPath)

	_, err = client.Trending(context.Background(), "day", "movie", 0)
	require.NoError(t, err)
	assert.Equal(t, "/trending/movie/day", gotPath)
}

func TestClient_Discover_AppliesFilters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/discover/movie", r.URL.Path)
		assert.Equal(t, "7", q.Get("vote_average.gte"))
		assert.Equal(t, "10", q.Get("vote_average.lte"))
		assert.Equal(t, "2010", q.Get("primary_release_date.year"))
		assert.Equal(t, "878", q.Get("with_genres"))
		assert.Equal(t, "vote_average.desc", q.Get("sort_by"))
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})

	_, err := client.Discover(context.Background(), "movie",
		DiscoverFilters{MinRating: 7, Year: 2010, Genres: "878"}, 10)
	require.NoError(t, err)
}

func TestToolkit_CallDispatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"media_type": "movie", "id": 1, "title": "Dune"}},
		})
	})
	tk := NewToolkit(client)

	out, err := tk.Call(context.Background(), "search_tmdb", json.RawMessage(`{"query":"dune"}`))
	require.NoError(t, err)
	assert.Contains(t, out, `"Dune"`)

	var res SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "dune", res.Query)
}

func TestToolkit_CallUnknownTool(t *testing.T) {
	tk := NewToolkit(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}))

	_, err := tk.Call(context.Background(), "launch_rocket", nil)
	assert.ErrorContains(t, err, "unknown tool")
}

func TestToolkit_SpecsAreWellFormed(t *testing.T) {
	tk := NewToolkit(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}))

	specs := tk.Specs()
	require.NotEmpty(t, specs)
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		assert.NotEmpty(t, s.Name)
		assert.NotEmpty(t, s.Description)
		assert.Equal(t, "object", s.Parameters["type"])
		assert.False(t, names[s.Name], "duplicate tool name %s", s.Name)
		names[s.Name] = true
	}
}
