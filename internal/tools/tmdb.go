package tools

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

const defaultLimit = 20

// Item is the trimmed representation of one search or list result.
// Field presence depends on Type: movies carry Title and ReleaseDate,
// TV shows carry Name and FirstAirDate, people carry Name and
// KnownForDepartment.
type Item struct {
	Type              string  `json:"type"`
	ID                int64   `json:"id"`
	Title             string  `json:"title,omitempty"`
	Name              string  `json:"name,omitempty"`
	Rating            float64 `json:"rating,omitempty"`
	ReleaseDate       string  `json:"release_date,omitempty"`
	FirstAirDate      string  `json:"first_air_date,omitempty"`
	Poster            string  `json:"poster,omitempty"`
	Overview          string  `json:"overview,omitempty"`
	Popularity        float64 `json:"popularity,omitempty"`
	KnownForDepartment string `json:"known_for_department,omitempty"`
}

// rawItem covers the union of fields TMDB returns across media types.
type rawItem struct {
	MediaType          string  `json:"media_type"`
	ID                 int64   `json:"id"`
	Title              string  `json:"title"`
	Name               string  `json:"name"`
	VoteAverage        float64 `json:"vote_average"`
	ReleaseDate        string  `json:"release_date"`
	FirstAirDate       string  `json:"first_air_date"`
	PosterPath         string  `json:"poster_path"`
	ProfilePath        string  `json:"profile_path"`
	Overview           string  `json:"overview"`
	Popularity         float64 `json:"popularity"`
	KnownForDepartment string  `json:"known_for_department"`
}

func formatItem(r rawItem, mediaType string) Item {
	if r.MediaType != "" {
		mediaType = r.MediaType
	}

	overview := r.Overview
	if len(overview) > 200 {
		overview = overview[:200] + "..."
	}

	switch mediaType {
	case "tv":
		name := r.Name
		if name == "" {
			name = r.Title
		}
		return Item{
			Type: "tv", ID: r.ID, Name: name,
			Rating: r.VoteAverage, FirstAirDate: r.FirstAirDate,
			Poster: r.PosterPath, Overview: overview, Popularity: r.Popularity,
		}
	case "person":
		return Item{
			Type: "person", ID: r.ID, Name: r.Name,
			Poster: r.ProfilePath, Popularity: r.Popularity,
			KnownForDepartment: r.KnownForDepartment,
		}
	default:
		return Item{
			Type: "movie", ID: r.ID, Title: r.Title,
			Rating: r.VoteAverage, ReleaseDate: r.ReleaseDate,
			Poster: r.PosterPath, Overview: overview, Popularity: r.Popularity,
		}
	}
}

// SearchResult groups multi-search hits by media type.
type SearchResult struct {
	Query        string `json:"query"`
	TotalResults int    `json:"total_results"`
	Movies       []Item `json:"movies"`
	TVShows      []Item `json:"tv_shows"`
	People       []Item `json:"people"`
}

// Search runs a multi search across movies, TV shows, and people.
// A 404 from TMDB yields an empty result rather than an error.
func (c *Client) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("page", "1")
	params.Set("include_adult", "false")

	var data struct {
		Results []rawItem `json:"results"`
	}
	if err := c.get(ctx, "/search/multi", params, &data); err != nil {
		if err == ErrNotFound {
			return &SearchResult{Query: query, Movies: []Item{}, TVShows: []Item{}, People: []Item{}}, nil
		}
		return nil, err
	}

	out := &SearchResult{
		Query:        query,
		TotalResults: len(data.Results),
		Movies:       []Item{},
		TVShows:      []Item{},
		People:       []Item{},
	}
	for _, r := range data.Results {
		switch r.MediaType {
		case "movie":
			if len(out.Movies) < limit {
				out.Movies = append(out.Movies, formatItem(r, "movie"))
			}
		case "tv":
			if len(out.TVShows) < limit {
				out.TVShows = append(out.TVShows, formatItem(r, "tv"))
			}
		case "person":
			if len(out.People) < limit {
				out.People = append(out.People, formatItem(r, "person"))
			}
		}
	}

	c.logger.Debug("tmdb search completed",
		"query", query, "movies", len(out.Movies), "tv", len(out.TVShows), "people", len(out.People))
	return out, nil
}

// CastMember is one credited cast entry.
type CastMember struct {
	Name      string `json:"name"`
	Character string `json:"character"`
}

// Details carries rich metadata for one movie, TV show, or person.
type Details struct {
	Type             string         `json:"type"`
	ID               int64          `json:"id"`
	Title            string         `json:"title,omitempty"`
	Name             string         `json:"name,omitempty"`
	Rating           float64        `json:"rating,omitempty"`
	VoteCount        int64          `json:"vote_count,omitempty"`
	ReleaseDate      string         `json:"release_date,omitempty"`
	FirstAirDate     string         `json:"first_air_date,omitempty"`
	LastAirDate      string         `json:"last_air_date,omitempty"`
	Runtime          int            `json:"runtime,omitempty"`
	Status           string         `json:"status,omitempty"`
	Seasons          int            `json:"number_of_seasons,omitempty"`
	Episodes         int            `json:"number_of_episodes,omitempty"`
	Overview         string         `json:"overview,omitempty"`
	Biography        string         `json:"biography,omitempty"`
	Birthday         string         `json:"birthday,omitempty"`
	Genres           []string       `json:"genres,omitempty"`
	Networks         []string       `json:"networks,omitempty"`
	Cast             []CastMember   `json:"cast,omitempty"`
	Director         string         `json:"director,omitempty"`
	Keywords         []string       `json:"keywords,omitempty"`
	Recommendations  []Item         `json:"recommendations,omitempty"`
	ExternalIDs      map[string]any `json:"external_ids,omitempty"`
	KnownFor         []Item         `json:"known_for,omitempty"`
}

type named struct {
	Name string `json:"name"`
	Job  string `json:"job"`
}

type rawDetails struct {
	rawItem
	VoteCount    int64   `json:"vote_count"`
	LastAirDate  string  `json:"last_air_date"`
	Runtime      int     `json:"runtime"`
	Status       string  `json:"status"`
	Seasons      int     `json:"number_of_seasons"`
	Episodes     int     `json:"number_of_episodes"`
	Biography    string  `json:"biography"`
	Birthday     string  `json:"birthday"`
	Genres       []named `json:"genres"`
	Networks     []named `json:"networks"`
	Credits      struct {
		Cast []struct {
			Name      string `json:"name"`
			Character string `json:"character"`
		} `json:"cast"`
		Crew []named `json:"crew"`
	} `json:"credits"`
	Keywords struct {
		Keywords []named `json:"keywords"`
		Results  []named `json:"results"`
	} `json:"keywords"`
	Recommendations struct {
		Results []rawItem `json:"results"`
	} `json:"recommendations"`
	ExternalIDs map[string]any `json:"external_ids"`
	KnownFor    []rawItem      `json:"known_for"`
}

// GetDetails fetches rich metadata for one item. mediaType is "movie",
// "tv", or "person". Unknown IDs return ErrNotFound.
func (c *Client) GetDetails(ctx context.Context, id int64, mediaType string) (*Details, error) {
	switch mediaType {
	case "movie", "tv", "person":
	default:
		return nil, fmt.Errorf("unsupported media type %q", mediaType)
	}

	params := url.Values{}
	params.Set("append_to_response", "credits,recommendations,external_ids,keywords")

	var raw rawDetails
	if err := c.get(ctx, fmt.Sprintf("/%s/%d", mediaType, id), params, &raw); err != nil {
		return nil, err
	}

	d := &Details{
		Type:        mediaType,
		ID:          raw.ID,
		Rating:      raw.VoteAverage,
		VoteCount:   raw.VoteCount,
		Status:      raw.Status,
		Overview:    raw.Overview,
		ExternalIDs: raw.ExternalIDs,
	}
	for _, g := range raw.Genres {
		d.Genres = append(d.Genres, g.Name)
	}
	for i, m := range raw.Credits.Cast {
		if i == 5 {
			break
		}
		d.Cast = append(d.Cast, CastMember{Name: m.Name, Character: m.Character})
	}
	for i, r := range raw.Recommendations.Results {
		if i == 5 {
			break
		}
		d.Recommendations = append(d.Recommendations, formatItem(r, mediaType))
	}

	switch mediaType {
	case "movie":
		d.Title = raw.Title
		d.ReleaseDate = raw.ReleaseDate
		d.Runtime = raw.Runtime
		for _, m := range raw.Credits.Crew {
			if m.Job == "Director" {
				d.Director = m.Name
				break
			}
		}
		for i, k := range raw.Keywords.Keywords {
			if i == 5 {
				break
			}
			d.Keywords = append(d.Keywords, k.Name)
		}
	case "tv":
		d.Name = raw.Name
		d.FirstAirDate = raw.FirstAirDate
		d.LastAirDate = raw.LastAirDate
		d.Seasons = raw.Seasons
		d.Episodes = raw.Episodes
		for _, n := range raw.Networks {
			d.Networks = append(d.Networks, n.Name)
		}
		// TV keywords come back under "results", not "keywords".
		for i, k := range raw.Keywords.Results {
			if i == 5 {
				break
			}
			d.Keywords = append(d.Keywords, k.Name)
		}
	case "person":
		d.Name = raw.Name
		d.Birthday = raw.Birthday
		bio := raw.Biography
		if len(bio) > 500 {
			bio = bio[:500] + "..."
		}
		d.Biography = bio
		for i, k := range raw.KnownFor {
			if i == 5 {
				break
			}
			d.KnownFor = append(d.KnownFor, formatItem(k, "movie"))
		}
	}

	return d, nil
}

// ListResult is a flat, typed list of items from a trending, popular,
// top-rated, similar, or discover call.
type ListResult struct {
	MediaType  string `json:"media_type,omitempty"`
	Category   string `json:"category,omitempty"`
	TimeWindow string `json:"time_window,omitempty"`
	Total      int    `json:"total"`
	Items      []Item `json:"items"`
}

func (c *Client) list(ctx context.Context, endpoint, mediaType string, params url.Values, limit int) ([]Item, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("page", "1")
	if limit <= 0 {
		limit = defaultLimit
	}

	var data struct {
		Results []rawItem `json:"results"`
	}
	if err := c.get(ctx, endpoint, params, &data); err != nil {
		return nil, err
	}

	items := make([]Item, 0, min(limit, len(data.Results)))
	for i, r := range data.Results {
		if i == limit {
			break
		}
		items = append(items, formatItem(r, mediaType))
	}
	return items, nil
}

// Trending returns currently trending content. timeWindow is "day" or
// "week"; mediaType is "all", "movie", "tv", or "person".
func (c *Client) Trending(ctx context.Context, timeWindow, mediaType string, limit int) (*ListResult, error) {
	if timeWindow == "" {
		timeWindow = "week"
	}
	if mediaType == "" {
		mediaType = "all"
	}

	items, err := c.list(ctx, fmt.Sprintf("/trending/%s/%s", mediaType, timeWindow), mediaType, nil, limit)
	if err != nil {
		return nil, err
	}
	return &ListResult{MediaType: mediaType, TimeWindow: timeWindow, Total: len(items), Items: items}, nil
}

// Popular returns the most popular movies or TV shows.
func (c *Client) Popular(ctx context.Context, mediaType string, limit int) (*ListResult, error) {
	items, err := c.list(ctx, fmt.Sprintf("/%s/popular", mediaType), mediaType, nil, limit)
	if err != nil {
		return nil, err
	}
	return &ListResult{MediaType: mediaType, Category: "popular", Total: len(items), Items: items}, nil
}

// TopRated returns the highest-rated movies or TV shows.
func (c *Client) TopRated(ctx context.Context, mediaType string, limit int) (*ListResult, error) {
	items, err := c.list(ctx, fmt.Sprintf("/%s/top_rated", mediaType), mediaType, nil, limit)
	if err != nil {
		return nil, err
	}
	return &ListResult{MediaType: mediaType, Category: "top_rated", Total: len(items), Items: items}, nil
}

// Similar returns titles similar to the given movie or TV show.
func (c *Client) Similar(ctx context.Context, id int64, mediaType string, limit int) (*ListResult, error) {
	items, err := c.list(ctx, fmt.Sprintf("/%s/%d/similar", mediaType, id), mediaType, nil, limit)
	if err != nil {
		return nil, err
	}
	return &ListResult{MediaType: mediaType, Category: "similar", Total: len(items), Items: items}, nil
}

// DiscoverFilters are the optional constraints for Discover.
type DiscoverFilters struct {
	MinRating float64 `json:"min_rating,omitempty"`
	MaxRating float64 `json:"max_rating,omitempty"`
	Year      int     `json:"year,omitempty"`
	Genres    string  `json:"genres,omitempty"`
	SortBy    string  `json:"sort_by,omitempty"`
}

// Discover runs a filtered discovery query for movies or TV shows.
func (c *Client) Discover(ctx context.Context, mediaType string, f DiscoverFilters, limit int) (*ListResult, error) {
	if f.MaxRating == 0 {
		f.MaxRating = 10
	}
	if f.SortBy == "" {
		f.SortBy = "vote_average.desc"
	}

	params := url.Values{}
	params.Set("vote_average.gte", strconv.FormatFloat(f.MinRating, 'f', -1, 64))
	params.Set("vote_average.lte", strconv.FormatFloat(f.MaxRating, 'f', -1, 64))
	params.Set("sort_by", f.SortBy)
	if f.Year > 0 {
		key := "primary_release_date.year"
		if mediaType == "tv" {
			key = "primary_air_date.year"
		}
		params.Set(key, strconv.Itoa(f.Year))
	}
	if f.Genres != "" {
		params.Set("with_genres", f.Genres)
	}

	items, err := c.list(ctx, "/discover/"+mediaType, mediaType, params, limit)
	if err != nil {
		return nil, err
	}
	return &ListResult{MediaType: mediaType, Category: "discover", Total: len(items), Items: items}, nil
}
