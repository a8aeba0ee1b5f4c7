// internal/api/handlers.go
package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"

	"quire/internal/config"
	"quire/internal/errors"
	"quire/internal/revision"
)

const (
	DefaultAuthorName  = "Anonymous"
	DefaultAuthorEmail = ""
	defaultLimit       = 100
)

// PageStore is the page surface served over HTTP. *store.Store and
// *client.Client both satisfy it.
type PageStore interface {
	Load(path, rev string) (string, error)
	Save(path, content string, author revision.Signature, message string) (string, error)
	Delete(path string, author revision.Signature, message string) (string, error)
	Rename(from, to string, author revision.Signature, message string) (string, error)
	ListPages() ([]string, error)
	PageHistory(path string, limit int) ([]revision.Entry, error)
	Changelog(limit int) ([]revision.ChangelogEntry, error)
	Metadata(path, rev string) (*revision.Entry, error)
	Diff(from, to string) (string, error)
	Revert(rev string, author revision.Signature, message string) (string, error)
	Blame(path, rev string) ([]revision.BlameLine, error)
}

type PageResponse struct {
	Path     string `json:"path"`
	Revision string `json:"revision,omitempty"`
	Content  string `json:"content"`
}

type WriteRequest struct {
	Content     string `json:"content,omitempty"`
	To          string `json:"to,omitempty"`
	Message     string `json:"message"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email"`
}

type RevisionResponse struct {
	Revision string `json:"revision"`
}

type ListResponse struct {
	Pages []string `json:"pages"`
}

type ErrorResponse struct {
	Error *errors.Error `json:"error"`
}

type PageHandler struct {
	store PageStore
	mode  config.CommitMessageMode
}

func NewPageHandler(store PageStore, mode config.CommitMessageMode) *PageHandler {
	if mode == "" {
		mode = config.CommitMessageOptional
	}
	return &PageHandler{store: store, mode: mode}
}

// Routes registers every page endpoint on mux.
func (h *PageHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", healthCheck)
	mux.HandleFunc("GET /api/pages", h.List)
	mux.HandleFunc("GET /api/pages/{path...}", h.Get)
	mux.HandleFunc("PUT /api/pages/{path...}", h.Put)
	mux.HandleFunc("DELETE /api/pages/{path...}", h.Delete)
	mux.HandleFunc("POST /api/rename/{path...}", h.Rename)
	mux.HandleFunc("GET /api/history/{path...}", h.History)
	mux.HandleFunc("GET /api/meta/{path...}", h.Metadata)
	mux.HandleFunc("GET /api/changelog", h.Changelog)
	mux.HandleFunc("GET /api/diff", h.Diff)
	mux.HandleFunc("POST /api/revert/{rev}", h.Revert)
	mux.HandleFunc("GET /api/blame/{path...}", h.Blame)
}

func (h *PageHandler) List(w http.ResponseWriter, r *http.Request) {
	pages, err := h.store.ListPages()
	if err != nil {
		writeError(w, err)
		return
	}
	if pages == nil {
		pages = []string{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Pages: pages})
}

func (h *PageHandler) Get(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	rev := r.URL.Query().Get("rev")

	content, err := h.store.Load(path, rev)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PageResponse{Path: path, Revision: rev, Content: content})
}

func (h *PageHandler) Put(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	req, ok := h.decode(w, r, path)
	if !ok {
		return
	}

	rev, err := h.store.Save(path, req.Content, req.author(), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RevisionResponse{Revision: rev})
}

func (h *PageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	req, ok := h.decode(w, r, path)
	if !ok {
		return
	}

	rev, err := h.store.Delete(path, req.author(), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RevisionResponse{Revision: rev})
}

func (h *PageHandler) Rename(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	req, ok := h.decode(w, r, path)
	if !ok {
		return
	}
	if req.To == "" {
		writeError(w, errors.Validation("rename", path, "destination is required"))
		return
	}

	rev, err := h.store.Rename(path, req.To, req.author(), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RevisionResponse{Revision: rev})
}

func (h *PageHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.store.PageHistory(r.PathValue("path"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []revision.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *PageHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.Metadata(r.PathValue("path"), r.URL.Query().Get("rev"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *PageHandler) Changelog(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.store.Changelog(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []revision.ChangelogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *PageHandler) Diff(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, errors.Validation("diff", "", "from and to are required"))
		return
	}

	patch, err := h.store.Diff(from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, patch)
}

func (h *PageHandler) Revert(w http.ResponseWriter, r *http.Request) {
	rev := r.PathValue("rev")
	req, ok := h.decode(w, r, "")
	if !ok {
		return
	}

	newRev, err := h.store.Revert(rev, req.author(), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RevisionResponse{Revision: newRev})
}

func (h *PageHandler) Blame(w http.ResponseWriter, r *http.Request) {
	lines, err := h.store.Blame(r.PathValue("path"), r.URL.Query().Get("rev"))
	if err != nil {
		writeError(w, err)
		return
	}
	if lines == nil {
		lines = []revision.BlameLine{}
	}
	writeJSON(w, http.StatusOK, lines)
}

// decode reads the write body and applies the commit message mode. An
// empty body is a request with every field unset.
func (h *PageHandler) decode(w http.ResponseWriter, r *http.Request, path string) (*WriteRequest, bool) {
	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !stderrors.Is(err, io.EOF) {
		writeError(w, errors.Validation("decode", path, "invalid request body"))
		return nil, false
	}

	switch h.mode {
	case config.CommitMessageRequired:
		if req.Message == "" {
			writeError(w, errors.Validation("commit", path, "commit message is required"))
			return nil, false
		}
	case config.CommitMessageDisabled:
		req.Message = ""
	}
	return &req, true
}

func (req *WriteRequest) author() revision.Signature {
	if req.AuthorName == "" {
		return revision.Signature{Name: DefaultAuthorName, Email: DefaultAuthorEmail}
	}
	return revision.Signature{Name: req.AuthorName, Email: req.AuthorEmail}
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Validation("limit", "", "limit must be an integer")
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		e = errors.Repository("", err)
	}
	body := &errors.Error{Kind: e.Kind, Op: e.Op, Path: e.Path, Message: e.Message}
	if e.Err != nil {
		body.Message = e.Message + ": " + e.Err.Error()
	}
	writeJSON(w, errors.HTTPStatus(e.Kind), ErrorResponse{Error: body})
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy"}`))
}
