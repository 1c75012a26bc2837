// Package testsupport provides fake qBittorrent and *arr API servers for
// tests.
package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
)

// FakeTorrent represents a torrent in the fake qBittorrent server.
type FakeTorrent struct {
	Hash        string
	Name        string
	Category    string
	Tags        string // comma-separated, as the API reports them
	State       string // "uploading", "moving", "checkingUP", etc.
	SavePath    string
	ContentPath string
	AddedOn     int64 // Unix timestamp
	CompletedOn int64 // Unix timestamp (0 if not complete)

	// TransitionPolls is how many info queries report the torrent still in a
	// transitioning state after a setLocation or recheck request. Zero means
	// operations settle immediately.
	TransitionPolls int

	remaining int
}

// QBittorrentServer is a fake qBittorrent API server for testing.
type QBittorrentServer struct {
	*httptest.Server

	mu        sync.RWMutex
	torrents  map[string]*FakeTorrent
	moves     []MoveRequest
	rechecked []string
}

// MoveRequest records one setLocation call.
type MoveRequest struct {
	Hash     string
	Location string
}

// NewQBittorrentServer creates a new fake qBittorrent server.
func NewQBittorrentServer() *QBittorrentServer {
	s := &QBittorrentServer{
		torrents: make(map[string]*FakeTorrent),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/v2/app/version", s.handleVersion)
	mux.HandleFunc("GET /api/v2/torrents/info", s.handleTorrentsInfo)
	mux.HandleFunc("POST /api/v2/torrents/setLocation", s.handleSetLocation)
	mux.HandleFunc("POST /api/v2/torrents/recheck", s.handleRecheck)

	s.Server = httptest.NewServer(mux)
	return s
}

// AddTorrent adds a torrent to the fake server.
func (s *QBittorrentServer) AddTorrent(t *FakeTorrent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.torrents[t.Hash] = t
}

// GetTorrent returns a torrent by hash.
func (s *QBittorrentServer) GetTorrent(hash string) *FakeTorrent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.torrents[hash]
}

// Moves returns all recorded setLocation requests in order.
func (s *QBittorrentServer) Moves() []MoveRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]MoveRequest, len(s.moves))
	copy(result, s.moves)
	return result
}

// Rechecked returns the hashes rechecked, in order.
func (s *QBittorrentServer) Rechecked() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, len(s.rechecked))
	copy(result, s.rechecked)
	return result
}

// Reset clears all torrents and recorded requests.
func (s *QBittorrentServer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.torrents = make(map[string]*FakeTorrent)
	s.moves = nil
	s.rechecked = nil
}

// handleLogin handles POST /api/v2/auth/login.
func (s *QBittorrentServer) handleLogin(w http.ResponseWriter, _ *http.Request) {
	// Always succeed - we don't care about auth in tests
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok."))
}

// handleVersion handles GET /api/v2/app/version.
func (s *QBittorrentServer) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("v4.6.0"))
}

// qbAPITorrent matches the qBittorrent API response format.
type qbAPITorrent struct {
	Hash        string `json:"hash"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Tags        string `json:"tags"`
	State       string `json:"state"`
	SavePath    string `json:"save_path"`
	ContentPath string `json:"content_path"`
	AddedOn     int64  `json:"added_on"`
	CompletedOn int64  `json:"completion_on"`
}

// handleTorrentsInfo handles GET /api/v2/torrents/info. Each query counts
// down a transitioning torrent's remaining polls so settle loops terminate.
func (s *QBittorrentServer) handleTorrentsInfo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category := r.URL.Query().Get("category")
	hashes := r.URL.Query().Get("hashes")

	var hashFilter map[string]bool
	if hashes != "" {
		hashFilter = make(map[string]bool)
		for h := range strings.SplitSeq(hashes, "|") {
			hashFilter[h] = true
		}
	}

	var result []qbAPITorrent
	for _, t := range s.torrents {
		if category != "" && t.Category != category {
			continue
		}
		if hashFilter != nil && !hashFilter[t.Hash] {
			continue
		}

		result = append(result, qbAPITorrent{
			Hash:        t.Hash,
			Name:        t.Name,
			Category:    t.Category,
			Tags:        t.Tags,
			State:       t.State,
			SavePath:    t.SavePath,
			ContentPath: t.ContentPath,
			AddedOn:     t.AddedOn,
			CompletedOn: t.CompletedOn,
		})

		if t.remaining > 0 {
			t.remaining--
			if t.remaining == 0 {
				t.State = "uploading"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// handleSetLocation handles POST /api/v2/torrents/setLocation. The torrent's
// paths are updated as if the move finished, and the state transitions
// through "moving" for TransitionPolls info queries.
func (s *QBittorrentServer) handleSetLocation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	location := r.PostFormValue("location")

	s.mu.Lock()
	defer s.mu.Unlock()

	for hash := range strings.SplitSeq(r.PostFormValue("hashes"), "|") {
		t, ok := s.torrents[hash]
		if !ok {
			http.Error(w, "torrent not found", http.StatusNotFound)
			return
		}

		s.moves = append(s.moves, MoveRequest{Hash: hash, Location: location})

		t.SavePath = location
		t.ContentPath = filepath.Join(location, filepath.Base(t.ContentPath))
		if t.TransitionPolls > 0 {
			t.State = "moving"
			t.remaining = t.TransitionPolls
		}
	}

	w.WriteHeader(http.StatusOK)
}

// handleRecheck handles POST /api/v2/torrents/recheck.
func (s *QBittorrentServer) handleRecheck(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for hash := range strings.SplitSeq(r.PostFormValue("hashes"), "|") {
		t, ok := s.torrents[hash]
		if !ok {
			http.Error(w, "torrent not found", http.StatusNotFound)
			return
		}

		s.rechecked = append(s.rechecked, hash)
		if t.TransitionPolls > 0 {
			t.State = "checkingUP"
			t.remaining = t.TransitionPolls
		}
	}

	w.WriteHeader(http.StatusOK)
}
