package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"quire/internal/config"
	"quire/internal/errors"
	"quire/internal/revision"
	"quire/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T, mode config.CommitMessageMode) (*httptest.Server, *store.Store) {
	s, err := store.Open(t.TempDir(), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mux := http.NewServeMux()
	NewPageHandler(s, mode).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, s
}

func do(t *testing.T, method, url string, body any) *http.Response {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestPageLifecycle(t *testing.T) {
	srv, _ := setupTestServer(t, config.CommitMessageOptional)

	resp := do(t, http.MethodPut, srv.URL+"/api/pages/home.md", WriteRequest{
		Content: "# Home", Message: "init", AuthorName: "Bot", AuthorEmail: "bot@x",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	r1 := decode[RevisionResponse](t, resp).Revision
	assert.Len(t, r1, 40)

	resp = do(t, http.MethodPut, srv.URL+"/api/pages/home.md", WriteRequest{
		Content: "# Home v2", Message: "update", AuthorName: "Bot", AuthorEmail: "bot@x",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	r2 := decode[RevisionResponse](t, resp).Revision

	resp = do(t, http.MethodGet, srv.URL+"/api/pages/home.md?rev="+r1, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[PageResponse](t, resp)
	assert.Equal(t, "# Home", page.Content)
	assert.Equal(t, r1, page.Revision)

	resp = do(t, http.MethodGet, srv.URL+"/api/pages/home.md", nil)
	assert.Equal(t, "# Home v2", decode[PageResponse](t, resp).Content)

	resp = do(t, http.MethodGet, srv.URL+"/api/history/home.md?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decode[[]revision.Entry](t, resp)
	require.Len(t, history, 2)
	assert.Equal(t, r2, history[0].Revision)
	assert.Equal(t, r1, history[1].Revision)
	assert.Equal(t, "Bot", history[0].AuthorName)

	resp = do(t, http.MethodGet, srv.URL+"/api/pages", nil)
	assert.Equal(t, []string{"home.md"}, decode[ListResponse](t, resp).Pages)

	resp = do(t, http.MethodGet, srv.URL+"/api/meta/home.md", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, r2, decode[revision.Entry](t, resp).Revision)

	resp = do(t, http.MethodGet, srv.URL+"/api/diff?from="+r1+"&to="+r2, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	patch, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(patch), "+# Home v2")
}

func TestNestedPathsAndRename(t *testing.T) {
	srv, s := setupTestServer(t, config.CommitMessageOptional)

	resp := do(t, http.MethodPut, srv.URL+"/api/pages/docs/guide.md", WriteRequest{Content: "guide"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/rename/docs/guide.md", WriteRequest{To: "docs/manual.md"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, s.Exists("docs/guide.md"))
	assert.True(t, s.Exists("docs/manual.md"))

	resp = do(t, http.MethodPost, srv.URL+"/api/rename/docs/manual.md", WriteRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/rename/docs/missing.md", WriteRequest{To: "x.md"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	meta, err := s.Metadata("docs/manual.md", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultAuthorName, meta.AuthorName)
}

func TestDelete(t *testing.T) {
	srv, s := setupTestServer(t, config.CommitMessageOptional)
	_, err := s.Save("gone.md", "x", revision.Signature{Name: "Bot"}, "add")
	require.NoError(t, err)

	resp := do(t, http.MethodDelete, srv.URL+"/api/pages/gone.md", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/api/pages/gone.md", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[ErrorResponse](t, resp)
	assert.Equal(t, errors.KindNotFound, body.Error.Kind)
	assert.Equal(t, "gone.md", body.Error.Path)

	log, err := s.Changelog(1)
	require.NoError(t, err)
	assert.Equal(t, "Deleted gone.md.", log[0].Message)
}

func TestErrorStatus(t *testing.T) {
	srv, _ := setupTestServer(t, config.CommitMessageOptional)

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
	}{
		{"nested git dir", http.MethodPut, "/api/pages/docs/.git/hooks.md", WriteRequest{Content: "x"}, http.StatusBadRequest},
		{"git dir", http.MethodGet, "/api/pages/.git/config", nil, http.StatusBadRequest},
		{"missing page", http.MethodGet, "/api/pages/nope.md", nil, http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/changelog?limit=many", nil, http.StatusBadRequest},
		{"diff without revisions", http.MethodGet, "/api/diff", nil, http.StatusBadRequest},
		{"unknown revision", http.MethodGet, "/api/pages/nope.md?rev=deadbeef", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestMalformedBody(t *testing.T) {
	srv, _ := setupTestServer(t, config.CommitMessageOptional)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/pages/home.md", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommitMessageModes(t *testing.T) {
	t.Run("required", func(t *testing.T) {
		srv, _ := setupTestServer(t, config.CommitMessageRequired)

		resp := do(t, http.MethodPut, srv.URL+"/api/pages/home.md", WriteRequest{Content: "x"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = do(t, http.MethodPut, srv.URL+"/api/pages/home.md", WriteRequest{Content: "x", Message: "why"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("disabled", func(t *testing.T) {
		srv, s := setupTestServer(t, config.CommitMessageDisabled)

		resp := do(t, http.MethodPut, srv.URL+"/api/pages/home.md", WriteRequest{Content: "x", Message: "ignored"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		log, err := s.Changelog(1)
		require.NoError(t, err)
		assert.Empty(t, log[0].Message)
	})
}

func TestChangelog(t *testing.T) {
	srv, s := setupTestServer(t, config.CommitMessageOptional)

	resp := do(t, http.MethodGet, srv.URL+"/api/changelog", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]revision.ChangelogEntry](t, resp))

	for _, p := range []string{"a.md", "b.md", "c.md"} {
		_, err := s.Save(p, p, revision.Signature{Name: "Bot"}, "add "+p)
		require.NoError(t, err)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/changelog?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	log := decode[[]revision.ChangelogEntry](t, resp)
	require.Len(t, log, 2)
	assert.Equal(t, "add c.md", log[0].Message)
	assert.ElementsMatch(t, []string{"a.md", "b.md", "c.md"}, log[0].Files)
	assert.Equal(t, []string{"c.md"}, log[0].Changed)
}

func TestHealth(t *testing.T) {
	srv, _ := setupTestServer(t, "")
	resp := do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRevertAndBlame(t *testing.T) {
	srv, s := setupTestServer(t, config.CommitMessageOptional)
	r1, err := s.Save("docs/page.md", "one\n", revision.Signature{Name: "Bot"}, "init")
	require.NoError(t, err)
	r2, err := s.Save("docs/page.md", "one\ntwo\n", revision.Signature{Name: "Ada"}, "more")
	require.NoError(t, err)

	resp := do(t, http.MethodGet, srv.URL+"/api/blame/docs/page.md", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lines := decode[[]revision.BlameLine](t, resp)
	require.Len(t, lines, 2)
	assert.Equal(t, r1, lines[0].Revision)
	assert.Equal(t, r2, lines[1].Revision)
	assert.Equal(t, "Ada", lines[1].AuthorName)

	resp = do(t, http.MethodGet, srv.URL+"/api/blame/docs/missing.md", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/revert/"+r1, WriteRequest{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/api/revert/"+r2, WriteRequest{Message: "undo", AuthorName: "Ada"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rev := decode[RevisionResponse](t, resp).Revision

	content, err := s.Load("docs/page.md", "")
	require.NoError(t, err)
	assert.Equal(t, "one\n", content)

	meta, err := s.Metadata("docs/page.md", "")
	require.NoError(t, err)
	assert.Equal(t, rev, meta.Revision)
	assert.Equal(t, "undo", meta.Message)
}
