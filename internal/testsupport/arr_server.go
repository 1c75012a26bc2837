package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
)

// FakeSeason represents one season of an episodic entry.
type FakeSeason struct {
	SeasonNumber     int  `json:"seasonNumber"`
	Monitored        bool `json:"monitored"`
	EpisodeFileCount int  `json:"-"`
}

// FakeItem represents a library entry in the fake *arr server.
type FakeItem struct {
	ID              int
	Title           string
	OriginalTitle   string
	AlternateTitles []string
	Path            string
	Seasons         []FakeSeason
}

// PathUpdate records one PUT that changed an entry's path.
type PathUpdate struct {
	ID   int
	Path string
}

// ArrServer is a fake Sonarr/Radarr API server for testing.
type ArrServer struct {
	*httptest.Server

	mu       sync.RWMutex
	appName  string
	resource string
	items    map[int]*FakeItem
	updates  []PathUpdate
}

// NewSonarrServer creates a fake Sonarr serving the series resource.
func NewSonarrServer() *ArrServer {
	return newArrServer("Sonarr", "series")
}

// NewRadarrServer creates a fake Radarr serving the movie resource.
func NewRadarrServer() *ArrServer {
	return newArrServer("Radarr", "movie")
}

func newArrServer(appName, resource string) *ArrServer {
	s := &ArrServer{
		appName:  appName,
		resource: resource,
		items:    make(map[int]*FakeItem),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/system/status", s.handleSystemStatus)
	mux.HandleFunc("GET /api/v3/"+resource, s.handleList)
	mux.HandleFunc("GET /api/v3/"+resource+"/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/v3/"+resource+"/{id}", s.handlePut)

	s.Server = httptest.NewServer(mux)
	return s
}

// AddItem adds a library entry to the fake server.
func (s *ArrServer) AddItem(item *FakeItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = item
}

// GetItem returns a library entry by ID.
func (s *ArrServer) GetItem(id int) *FakeItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.items[id]
}

// Updates returns all recorded path updates in order.
func (s *ArrServer) Updates() []PathUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]PathUpdate, len(s.updates))
	copy(result, s.updates)
	return result
}

// Reset clears all items and recorded updates.
func (s *ArrServer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[int]*FakeItem)
	s.updates = nil
}

func (s *ArrServer) encode(item *FakeItem) map[string]any {
	alternates := make([]map[string]any, 0, len(item.AlternateTitles))
	for _, title := range item.AlternateTitles {
		alternates = append(alternates, map[string]any{"title": title})
	}

	seasons := make([]map[string]any, 0, len(item.Seasons))
	for _, season := range item.Seasons {
		seasons = append(seasons, map[string]any{
			"seasonNumber": season.SeasonNumber,
			"monitored":    season.Monitored,
			"statistics":   map[string]any{"episodeFileCount": season.EpisodeFileCount},
		})
	}

	return map[string]any{
		"id":              item.ID,
		"title":           item.Title,
		"originalTitle":   item.OriginalTitle,
		"alternateTitles": alternates,
		"path":            item.Path,
		"seasons":         seasons,
	}
}

// handleSystemStatus handles GET /api/v3/system/status.
func (s *ArrServer) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"version": "4.0.0.0",
		"appName": s.appName,
	})
}

// handleList handles GET /api/v3/{resource}.
func (s *ArrServer) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]map[string]any, 0, len(s.items))
	for _, item := range s.items {
		result = append(result, s.encode(item))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// handleGet handles GET /api/v3/{resource}/{id}.
func (s *ArrServer) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item := s.itemFromPath(r)
	if item == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.encode(item))
}

// handlePut handles PUT /api/v3/{resource}/{id}, recording path changes.
func (s *ArrServer) handlePut(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.itemFromPath(r)
	if item == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if path, ok := payload["path"].(string); ok {
		item.Path = path
		s.updates = append(s.updates, PathUpdate{ID: item.ID, Path: path})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.encode(item))
}

func (s *ArrServer) itemFromPath(r *http.Request) *FakeItem {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return nil
	}

	return s.items[id]
}
