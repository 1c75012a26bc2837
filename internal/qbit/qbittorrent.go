package qbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds connection settings for a qBittorrent instance.
type Config struct {
	URL         string
	Username    string
	Password    string
	HTTPTimeout time.Duration
}

// qbittorrentClient implements Client against the qBittorrent Web API v2.
// It is private and only exposed via the Client interface.
type qbittorrentClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// apiTorrent represents a torrent from the qBittorrent API.
type apiTorrent struct {
	Hash         string  `json:"hash"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Tags         string  `json:"tags"`
	State        string  `json:"state"`
	SavePath     string  `json:"save_path"`
	ContentPath  string  `json:"content_path"`
	Progress     float64 `json:"progress"`
	AddedOn      int64   `json:"added_on"`
	CompletionOn int64   `json:"completion_on"`
}

// setLogger implements configurable for shared options.
func (c *qbittorrentClient) setLogger(logger zerolog.Logger) {
	c.logger = logger
}

// NewClient creates a new qBittorrent client and returns it as Client.
func NewClient(cfg Config, opts ...Option) Client {
	jar, _ := cookiejar.New(nil)

	c := &qbittorrentClient{
		baseURL:  strings.TrimSuffix(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: cfg.HTTPTimeout,
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect establishes an authenticated session with the qBittorrent API.
func (c *qbittorrentClient) Connect(ctx context.Context) error {
	if err := c.login(ctx); err != nil {
		return fmt.Errorf("qbittorrent login failed: %w", err)
	}

	c.logger.Info().Str("url", c.baseURL).Msg("connected to qbittorrent")
	return nil
}

// Close ends the session.
func (c *qbittorrentClient) Close() error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.baseURL+"/api/v2/auth/logout", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

func (c *qbittorrentClient) login(ctx context.Context) error {
	// qBittorrent may be configured without auth
	if c.username == "" && c.password == "" {
		c.logger.Debug().Msg("no credentials provided, skipping authentication")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/app/version", nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusForbidden {
			return errors.New("authentication required but no credentials provided")
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to connect: status %d", resp.StatusCode)
		}

		return nil
	}

	data := url.Values{
		"username": {c.username},
		"password": {c.password},
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.baseURL+"/api/v2/auth/login",
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "Ok." {
		return fmt.Errorf("login failed: %s", string(body))
	}

	return nil
}

// List returns all torrents matching the given category, sorted by completion
// time ascending (oldest finished first).
func (c *qbittorrentClient) List(ctx context.Context, category string) ([]Record, error) {
	params := url.Values{}
	if category != "" {
		params.Set("category", category)
	}

	torrents, err := c.torrentsInfo(ctx, params)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(torrents))
	for _, t := range torrents {
		records = append(records, c.toRecord(t))
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CompletedOn.Before(records[j].CompletedOn)
	})

	return records, nil
}

// Get returns the single torrent matching hash.
func (c *qbittorrentClient) Get(ctx context.Context, hash string) (Record, error) {
	params := url.Values{
		"hashes": {hash},
	}

	torrents, err := c.torrentsInfo(ctx, params)
	if err != nil {
		return Record{}, err
	}

	if len(torrents) == 0 {
		return Record{}, &RecordNotFoundError{Hash: hash}
	}
	if len(torrents) > 1 {
		return Record{}, &AmbiguousHashError{Hash: hash, Count: len(torrents)}
	}

	return c.toRecord(torrents[0]), nil
}

// SetLocation asks qBittorrent to move a torrent's data to newPath.
func (c *qbittorrentClient) SetLocation(ctx context.Context, hash, newPath string) error {
	data := url.Values{
		"hashes":   {hash},
		"location": {newPath},
	}

	if err := c.postForm(ctx, "/api/v2/torrents/setLocation", data); err != nil {
		return fmt.Errorf("set location for %s: %w", hash, err)
	}

	c.logger.Info().Str("hash", hash).Str("location", newPath).Msg("requested torrent move")
	return nil
}

// Recheck asks qBittorrent to re-verify a torrent's data on disk.
func (c *qbittorrentClient) Recheck(ctx context.Context, hash string) error {
	data := url.Values{
		"hashes": {hash},
	}

	if err := c.postForm(ctx, "/api/v2/torrents/recheck", data); err != nil {
		return fmt.Errorf("recheck %s: %w", hash, err)
	}

	c.logger.Info().Str("hash", hash).Msg("requested torrent recheck")
	return nil
}

func (c *qbittorrentClient) torrentsInfo(ctx context.Context, params url.Values) ([]apiTorrent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/torrents/info?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qbittorrent at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qbittorrent at %s: status %d", c.baseURL, resp.StatusCode)
	}

	var torrents []apiTorrent
	if err = json.NewDecoder(resp.Body).Decode(&torrents); err != nil {
		return nil, err
	}

	return torrents, nil
}

func (c *qbittorrentClient) postForm(ctx context.Context, path string, data url.Values) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.baseURL+path,
		strings.NewReader(data.Encode()),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qbittorrent at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func (c *qbittorrentClient) toRecord(t apiTorrent) Record {
	var tags []string
	for tag := range strings.SplitSeq(t.Tags, ",") {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			tags = append(tags, tag)
		}
	}

	var addedOn, completedOn time.Time
	if t.AddedOn > 0 {
		addedOn = time.Unix(t.AddedOn, 0)
	}
	if t.CompletionOn > 0 {
		completedOn = time.Unix(t.CompletionOn, 0)
	}

	return Record{
		Hash:        t.Hash,
		Name:        t.Name,
		Category:    t.Category,
		Tags:        tags,
		State:       t.State,
		SavePath:    t.SavePath,
		ContentPath: t.ContentPath,
		AddedOn:     addedOn,
		CompletedOn: completedOn,
	}
}
