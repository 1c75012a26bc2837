package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"github.com/rs/zerolog"

	"github.com/mediashift/mediashift/internal/fileutil"
)

// DefaultMatchThreshold is the minimum fuzzy score (0-100) for a library
// title to count as a match.
const DefaultMatchThreshold = 65

// ArrConfig holds configuration for an *arr service client.
type ArrConfig struct {
	URL         string
	APIKey      string
	ArchiveRoot string
	HTTPTimeout time.Duration
}

// arrClient implements Service for *arr applications (Sonarr, Radarr).
// It is private and only exposed via the Service interface.
type arrClient struct {
	appType        string
	itemResource   string
	episodic       bool
	baseURL        string
	apiKey         string
	archiveRoot    string
	matchThreshold float64
	httpClient     *http.Client
	logger         zerolog.Logger
}

// arrItem represents a library entry from the *arr API. Only the fields the
// relocation flow reads are decoded; updates round-trip the raw payload.
type arrItem struct {
	ID              int         `json:"id"`
	Title           string      `json:"title"`
	OriginalTitle   string      `json:"originalTitle"`
	Path            string      `json:"path"`
	AlternateTitles []arrTitle  `json:"alternateTitles"`
	Seasons         []arrSeason `json:"seasons"`
}

// arrTitle represents an alternate title entry.
type arrTitle struct {
	Title string `json:"title"`
}

// arrSeason represents a season entry in a Sonarr series payload.
type arrSeason struct {
	SeasonNumber int  `json:"seasonNumber"`
	Monitored    bool `json:"monitored"`
	Statistics   struct {
		EpisodeFileCount int `json:"episodeFileCount"`
	} `json:"statistics"`
}

// arrSystemStatus represents the response from the system/status endpoint.
type arrSystemStatus struct {
	Version string `json:"version"`
	AppName string `json:"appName"`
}

// setLogger implements configurable for shared options.
func (c *arrClient) setLogger(logger zerolog.Logger) {
	c.logger = logger
}

// setMatchThreshold implements configurable for shared options.
func (c *arrClient) setMatchThreshold(threshold float64) {
	c.matchThreshold = threshold
}

// newArrClient creates a new *arr client.
func newArrClient(appType, itemResource string, episodic bool, cfg ArrConfig, opts ...Option) Service {
	c := &arrClient{
		appType:        appType,
		itemResource:   itemResource,
		episodic:       episodic,
		baseURL:        strings.TrimSuffix(cfg.URL, "/"),
		apiKey:         cfg.APIKey,
		archiveRoot:    cfg.ArchiveRoot,
		matchThreshold: DefaultMatchThreshold,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewSonarr creates a new Sonarr client and returns it as Service.
func NewSonarr(cfg ArrConfig, opts ...Option) Service {
	return newArrClient("sonarr", "series", true, cfg, opts...)
}

// NewRadarr creates a new Radarr client and returns it as Service.
func NewRadarr(cfg ArrConfig, opts ...Option) Service {
	return newArrClient("radarr", "movie", false, cfg, opts...)
}

// Type returns the type of service.
func (c *arrClient) Type() string {
	return c.appType
}

// Episodic reports whether the service tracks seasons.
func (c *arrClient) Episodic() bool {
	return c.episodic
}

// FindIDByTitle fuzzy-matches title against every library entry's title,
// original title, and alternate titles, returning the best match at or above
// the threshold.
func (c *arrClient) FindIDByTitle(ctx context.Context, title string) (int, error) {
	var items []arrItem
	if err := c.getJSON(ctx, "/api/v3/"+c.itemResource, &items); err != nil {
		return 0, err
	}

	if len(items) == 0 {
		return 0, fmt.Errorf("%s library is empty", c.appType)
	}

	bestID := 0
	bestScore := -1.0

	for _, item := range items {
		score := titleScore(title, item.Title)
		if item.OriginalTitle != "" {
			if s := titleScore(title, item.OriginalTitle); s > score {
				score = s
			}
		}
		for _, alt := range item.AlternateTitles {
			if s := titleScore(title, alt.Title); s > score {
				score = s
			}
		}

		if score > bestScore && score >= c.matchThreshold {
			bestScore = score
			bestID = item.ID
		}
	}

	if bestID == 0 {
		return 0, &TitleNotFoundError{Title: title, App: c.appType}
	}

	c.logger.Debug().
		Str("title", title).
		Int("id", bestID).
		Float64("score", bestScore).
		Msgf("best %s match", c.appType)

	return bestID, nil
}

// GetPath returns the library path of an entry.
func (c *arrClient) GetPath(ctx context.Context, id int) (string, error) {
	item, err := c.getItem(ctx, id)
	if err != nil {
		return "", err
	}
	if item.Path == "" {
		return "", fmt.Errorf("%s entry %d has no path set", c.appType, id)
	}
	return item.Path, nil
}

// GetSeasons returns season details for an episodic entry.
func (c *arrClient) GetSeasons(ctx context.Context, id int) ([]Season, error) {
	if !c.episodic {
		return nil, ErrNotEpisodic
	}

	item, err := c.getItem(ctx, id)
	if err != nil {
		return nil, err
	}

	seasons := make([]Season, 0, len(item.Seasons))
	for _, s := range item.Seasons {
		seasons = append(seasons, Season{
			Number:           s.SeasonNumber,
			Monitored:        s.Monitored,
			EpisodeFileCount: s.Statistics.EpisodeFileCount,
		})
	}

	return seasons, nil
}

// UpdatePath points an entry at newRoot, keeping its current basename.
func (c *arrClient) UpdatePath(ctx context.Context, id int, newRoot string) (bool, error) {
	resource := fmt.Sprintf("/api/v3/%s/%d", c.itemResource, id)

	// The update endpoint expects the full entry payload back, so carry the
	// raw document and rewrite only the path.
	var raw map[string]any
	if err := c.getJSON(ctx, resource, &raw); err != nil {
		return false, err
	}

	currentPath, _ := raw["path"].(string)
	if currentPath == "" {
		return false, fmt.Errorf("%s entry %d has no path set", c.appType, id)
	}

	if fileutil.DescendsFrom(currentPath, c.archiveRoot) {
		c.logger.Warn().
			Int("id", id).
			Str("path", currentPath).
			Msg("entry already lives under the archive root, refusing to update")
		return false, nil
	}

	newPath := filepath.Join(newRoot, filepath.Base(currentPath))
	raw["path"] = newPath

	body, err := json.Marshal(raw)
	if err != nil {
		return false, fmt.Errorf("failed to marshal %s entry: %w", c.appType, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+resource, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to update %s entry %d: %w", c.appType, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("%s returned status %d: %s", c.appType, resp.StatusCode, string(respBody))
	}

	c.logger.Info().
		Int("id", id).
		Str("path", newPath).
		Msgf("updated %s library path", c.appType)

	return true, nil
}

// TestConnection tests the connection to the service.
func (c *arrClient) TestConnection(ctx context.Context) error {
	var status arrSystemStatus
	if err := c.getJSON(ctx, "/api/v3/system/status", &status); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.appType, err)
	}

	c.logger.Debug().
		Str("version", status.Version).
		Str("app", status.AppName).
		Msgf("%s connection test successful", c.appType)

	return nil
}

func (c *arrClient) getItem(ctx context.Context, id int) (arrItem, error) {
	var item arrItem
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v3/%s/%d", c.itemResource, id), &item); err != nil {
		return arrItem{}, err
	}
	return item, nil
}

func (c *arrClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s at %s: %w", c.appType, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", c.appType, resp.StatusCode)
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.appType, err)
	}

	return nil
}

// titleScore returns a 0-100 similarity between two titles, case-insensitive.
func titleScore(a, b string) float64 {
	return levenshtein.Similarity(strings.ToLower(a), strings.ToLower(b), nil) * 100
}
