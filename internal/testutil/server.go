// Package testutil provides an in-memory FileSender server for integration
// tests: transfers are registered, chunks assembled at their offsets, and
// completed transfers served back through the ranged download endpoint.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// ServerFile is one file held by the fake server.
type ServerFile struct {
	ID       int64
	Name     string
	Size     int64
	Data     []byte
	Complete bool
}

// ServerTransfer is one transfer held by the fake server.
type ServerTransfer struct {
	ID       int64
	Files    map[int64]*ServerFile
	Token    string
	Complete bool
	Closed   bool
}

// Server is a fake FileSender server backed by httptest.
type Server struct {
	HTTP *httptest.Server

	// UploadChunkSize is advertised through the info endpoint
	UploadChunkSize int64

	// RequireSignature makes signed endpoints reject requests missing the
	// signature parameter
	RequireSignature bool

	mu         sync.Mutex
	transfers  map[int64]*ServerTransfer
	tokens     map[string]int64
	nextID     int64
	nextFileID int64
}

// NewServer starts a fake server. Callers own the returned server and must
// Close it.
func NewServer() *Server {
	s := &Server{
		UploadChunkSize: 1 << 20,
		transfers:       make(map[int64]*ServerTransfer),
		tokens:          make(map[string]int64),
		nextID:          1000,
		nextFileID:      5000,
	}
	s.HTTP = httptest.NewServer(http.HandlerFunc(s.route))
	return s
}

// URL returns the bare base URL of the fake server.
func (s *Server) URL() string {
	return s.HTTP.URL
}

// Close shuts the fake server down.
func (s *Server) Close() {
	s.HTTP.Close()
}

// Transfer returns the stored transfer, or nil.
func (s *Server) Transfer(id int64) *ServerTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers[id]
}

// SeedDownload stores a completed transfer reachable through token, with the
// given file names and contents, and returns it.
func (s *Server) SeedDownload(token string, files map[string][]byte) *ServerTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	transfer := &ServerTransfer{
		ID:       s.nextID,
		Files:    make(map[int64]*ServerFile),
		Token:    token,
		Complete: true,
	}
	for name, data := range files {
		s.nextFileID++
		transfer.Files[s.nextFileID] = &ServerFile{
			ID:       s.nextFileID,
			Name:     name,
			Size:     int64(len(data)),
			Data:     append([]byte(nil), data...),
			Complete: true,
		}
	}
	s.transfers[transfer.ID] = transfer
	s.tokens[token] = transfer.ID
	return transfer
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/download.php":
		s.handleRawDownload(w, r)
	case strings.HasPrefix(path, "/rest.php/"):
		s.routeREST(w, r, strings.TrimPrefix(path, "/rest.php"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) routeREST(w http.ResponseWriter, r *http.Request, endpoint string) {
	if s.RequireSignature && r.URL.Query().Get("signature") == "" {
		http.Error(w, "missing signature", http.StatusForbidden)
		return
	}

	switch {
	case endpoint == "/info" && r.Method == http.MethodGet:
		s.writeJSON(w, map[string]any{"upload_chunk_size": s.UploadChunkSize})
	case endpoint == "/transfer" && r.Method == http.MethodPost:
		s.handleCreateTransfer(w, r)
	case strings.HasPrefix(endpoint, "/transfer/") && r.Method == http.MethodPut:
		s.handleUpdateTransfer(w, r, strings.TrimPrefix(endpoint, "/transfer/"))
	case strings.HasPrefix(endpoint, "/file/") && strings.Contains(endpoint, "/chunk/") && r.Method == http.MethodPut:
		s.handleChunk(w, r, strings.TrimPrefix(endpoint, "/file/"))
	case strings.HasPrefix(endpoint, "/file/") && r.Method == http.MethodPut:
		s.handleUpdateFile(w, r, strings.TrimPrefix(endpoint, "/file/"))
	case endpoint == "/guest" && r.Method == http.MethodPost:
		s.handleCreateGuest(w, r)
	case strings.HasPrefix(endpoint, "/download/") && r.Method == http.MethodGet:
		s.handleResolveDownload(w, strings.TrimPrefix(endpoint, "/download/"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From  string `json:"from"`
		Files []struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
			CID  string `json:"cid"`
		} `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	transfer := &ServerTransfer{
		ID:    s.nextID,
		Files: make(map[int64]*ServerFile),
		Token: fmt.Sprintf("token-%d", s.nextID),
	}
	s.transfers[transfer.ID] = transfer
	s.tokens[transfer.Token] = transfer.ID

	files := make([]map[string]any, 0, len(req.Files))
	for _, f := range req.Files {
		s.nextFileID++
		transfer.Files[s.nextFileID] = &ServerFile{
			ID:   s.nextFileID,
			Name: f.Name,
			Size: f.Size,
			Data: make([]byte, 0, f.Size),
		}
		files = append(files, map[string]any{
			"id":          s.nextFileID,
			"transfer_id": transfer.ID,
			"name":        f.Name,
			"size":        f.Size,
			"cid":         f.CID,
		})
	}

	s.writeJSON(w, map[string]any{
		"id":    transfer.ID,
		"files": files,
		"recipients": []map[string]any{
			{"id": 1, "transfer_id": transfer.ID, "token": transfer.Token},
		},
	})
}

func (s *Server) handleUpdateTransfer(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		http.Error(w, "bad transfer id", http.StatusBadRequest)
		return
	}

	var req struct {
		Complete bool `json:"complete"`
		Closed   bool `json:"closed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	transfer, ok := s.transfers[id]
	if !ok {
		http.Error(w, "no such transfer", http.StatusNotFound)
		return
	}
	for _, f := range transfer.Files {
		if req.Complete && !f.Complete {
			http.Error(w, fmt.Sprintf("file %d not complete", f.ID), http.StatusBadRequest)
			return
		}
	}
	transfer.Complete = req.Complete
	transfer.Closed = req.Closed
	s.writeJSON(w, map[string]any{"id": transfer.ID})
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.SplitN(rest, "/chunk/", 2)
	if len(parts) != 2 {
		http.Error(w, "bad chunk path", http.StatusBadRequest)
		return
	}
	fileID, err1 := strconv.ParseInt(parts[0], 10, 64)
	offset, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "bad chunk path", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.findFile(fileID)
	if file == nil {
		http.Error(w, "no such file", http.StatusNotFound)
		return
	}

	// Chunks must arrive in order: the offset is the bytes stored so far.
	if offset != int64(len(file.Data)) {
		http.Error(w, fmt.Sprintf("chunk offset %d, expected %d", offset, len(file.Data)), http.StatusBadRequest)
		return
	}
	if declared := r.Header.Get("X-Filesender-Chunk-Size"); declared != strconv.Itoa(len(data)) {
		http.Error(w, "chunk size header does not match body", http.StatusBadRequest)
		return
	}
	if int64(len(data)) > s.UploadChunkSize {
		http.Error(w, "chunk exceeds advertised upload_chunk_size", http.StatusBadRequest)
		return
	}
	file.Data = append(file.Data, data...)
	s.writeJSON(w, map[string]any{})
}

func (s *Server) handleUpdateFile(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		http.Error(w, "bad file id", http.StatusBadRequest)
		return
	}

	var req struct {
		Complete bool `json:"complete"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.findFile(id)
	if file == nil {
		http.Error(w, "no such file", http.StatusNotFound)
		return
	}
	if req.Complete && int64(len(file.Data)) != file.Size {
		http.Error(w, fmt.Sprintf("file has %d of %d bytes", len(file.Data), file.Size), http.StatusBadRequest)
		return
	}
	file.Complete = req.Complete
	s.writeJSON(w, map[string]any{})
}

func (s *Server) handleCreateGuest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient string `json:"recipient"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.writeJSON(w, map[string]any{
		"id":    s.nextID,
		"token": fmt.Sprintf("voucher-%d", s.nextID),
		"email": req.Recipient,
	})
}

func (s *Server) handleResolveDownload(w http.ResponseWriter, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transfer := s.transferByToken(token)
	if transfer == nil {
		http.Error(w, "unknown token", http.StatusForbidden)
		return
	}

	files := make([]map[string]any, 0, len(transfer.Files))
	for _, f := range transfer.Files {
		files = append(files, map[string]any{
			"id":          f.ID,
			"transfer_id": transfer.ID,
			"name":        f.Name,
			"size":        f.Size,
		})
	}
	s.writeJSON(w, map[string]any{"files": files})
}

func (s *Server) handleRawDownload(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	fileID, err := strconv.ParseInt(r.URL.Query().Get("files_ids"), 10, 64)
	if err != nil {
		http.Error(w, "bad files_ids", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	transfer := s.transferByToken(token)
	var file *ServerFile
	if transfer != nil {
		file = transfer.Files[fileID]
	}
	var data []byte
	if file != nil {
		data = append([]byte(nil), file.Data...)
	}
	s.mu.Unlock()

	if file == nil {
		http.Error(w, "unknown token or file", http.StatusForbidden)
		return
	}

	start, end, ok := parseRange(r.Header.Get("Range"), int64(len(data)))
	if !ok {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data[start : end+1])
}

// parseRange reads a single "bytes=start-end" range against the given size.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	rangeSpec, found := strings.CutPrefix(header, "bytes=")
	if !found {
		return 0, 0, false
	}
	bounds := strings.SplitN(rangeSpec, "-", 2)
	if len(bounds) != 2 {
		return 0, 0, false
	}
	start, err1 := strconv.ParseInt(bounds[0], 10, 64)
	end, err2 := strconv.ParseInt(bounds[1], 10, 64)
	if err1 != nil || err2 != nil || start < 0 || end < start || end >= size {
		return 0, 0, false
	}
	return start, end, true
}

// findFile looks a file up across transfers. Callers hold s.mu.
func (s *Server) findFile(id int64) *ServerFile {
	for _, t := range s.transfers {
		if f, ok := t.Files[id]; ok {
			return f
		}
	}
	return nil
}

// transferByToken resolves a recipient token. Callers hold s.mu.
func (s *Server) transferByToken(token string) *ServerTransfer {
	id, ok := s.tokens[token]
	if !ok {
		return nil
	}
	return s.transfers[id]
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
