// Package client talks to a quire server over its JSON API. A *Client can
// stand in for a local store wherever the page surface is all that is needed.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quire/internal/api"
	"quire/internal/errors"
	"quire/internal/revision"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

func (c *Client) Load(path, rev string) (string, error) {
	q := url.Values{}
	if rev != "" {
		q.Set("rev", rev)
	}

	var page api.PageResponse
	if err := c.do(http.MethodGet, c.endpoint("/api/pages/", path, q), nil, &page); err != nil {
		return "", err
	}
	return page.Content, nil
}

func (c *Client) Save(path, content string, author revision.Signature, message string) (string, error) {
	return c.write(http.MethodPut, c.endpoint("/api/pages/", path, nil), api.WriteRequest{
		Content:     content,
		Message:     message,
		AuthorName:  author.Name,
		AuthorEmail: author.Email,
	})
}

func (c *Client) Delete(path string, author revision.Signature, message string) (string, error) {
	return c.write(http.MethodDelete, c.endpoint("/api/pages/", path, nil), api.WriteRequest{
		Message:     message,
		AuthorName:  author.Name,
		AuthorEmail: author.Email,
	})
}

func (c *Client) Rename(from, to string, author revision.Signature, message string) (string, error) {
	return c.write(http.MethodPost, c.endpoint("/api/rename/", from, nil), api.WriteRequest{
		To:          to,
		Message:     message,
		AuthorName:  author.Name,
		AuthorEmail: author.Email,
	})
}

func (c *Client) ListPages() ([]string, error) {
	var list api.ListResponse
	if err := c.do(http.MethodGet, c.baseURL+"/api/pages", nil, &list); err != nil {
		return nil, err
	}
	return list.Pages, nil
}

func (c *Client) PageHistory(path string, limit int) ([]revision.Entry, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}

	var entries []revision.Entry
	if err := c.do(http.MethodGet, c.endpoint("/api/history/", path, q), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) Changelog(limit int) ([]revision.ChangelogEntry, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}

	var entries []revision.ChangelogEntry
	if err := c.do(http.MethodGet, c.baseURL+"/api/changelog?"+q.Encode(), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) Metadata(path, rev string) (*revision.Entry, error) {
	q := url.Values{}
	if rev != "" {
		q.Set("rev", rev)
	}

	var entry revision.Entry
	if err := c.do(http.MethodGet, c.endpoint("/api/meta/", path, q), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) Diff(from, to string) (string, error) {
	q := url.Values{"from": {from}, "to": {to}}

	resp, err := c.httpClient.Get(c.baseURL + "/api/diff?" + q.Encode())
	if err != nil {
		return "", errors.IO("diff", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}
	patch, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.IO("diff", "", err)
	}
	return string(patch), nil
}

func (c *Client) Revert(rev string, author revision.Signature, message string) (string, error) {
	return c.write(http.MethodPost, c.baseURL+"/api/revert/"+url.PathEscape(rev), api.WriteRequest{
		Message:     message,
		AuthorName:  author.Name,
		AuthorEmail: author.Email,
	})
}

func (c *Client) Blame(path, rev string) ([]revision.BlameLine, error) {
	q := url.Values{}
	if rev != "" {
		q.Set("rev", rev)
	}

	var lines []revision.BlameLine
	if err := c.do(http.MethodGet, c.endpoint("/api/blame/", path, q), nil, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (c *Client) write(method, target string, req api.WriteRequest) (string, error) {
	var result api.RevisionResponse
	if err := c.do(method, target, req, &result); err != nil {
		return "", err
	}
	return result.Revision, nil
}

func (c *Client) do(method, target string, body any, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, target, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.IO(strings.ToLower(method), target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// endpoint escapes each segment of a slash-separated document path.
func (c *Client) endpoint(prefix, path string, q url.Values) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	target := c.baseURL + prefix + strings.Join(parts, "/")
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	return target
}

// decodeError rebuilds the server's *errors.Error so callers can keep
// classifying with errors.KindOf.
func decodeError(resp *http.Response) error {
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == nil {
		return errors.Repository("request", fmt.Errorf("unexpected status: %s", resp.Status))
	}
	return body.Error
}
