// Package remote implements the client for the remote memo service's
// cursor-paginated list API.
package remote

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/memomirror/internal/errors"
	"github.com/kimhsiao/memomirror/internal/htmltext"
	"github.com/kimhsiao/memomirror/internal/models"
)

const (
	// DefaultPageSize is the page size requested from the list API. A page
	// shorter than this usually means the stream is exhausted, but the
	// caller must not rely on that alone.
	DefaultPageSize = 200

	defaultBaseURL = "https://flomoapp.com"
	defaultTimeout = 30 * time.Second

	listPath    = "/api/v1/memo/updated/"
	deepLinkFmt = "https://v.flomoapp.com/mine/?memo_id=%s"

	// signSalt matches the web client's request-signing salt.
	signSalt = "dbbc3dd73364b4084c3a69346e0ce2b2"
)

// Client talks to the remote memo service. It is safe for use by a single
// sync run at a time; the engine serializes its calls.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	pageSize   int
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the service base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithPageSize overrides the requested page size.
func WithPageSize(n int) Option {
	return func(c *Client) { c.pageSize = n }
}

// WithTimeout overrides the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a Client for the given access token. A missing
// "Bearer " prefix is added.
func NewClient(token string, opts ...Option) *Client {
	if !strings.HasPrefix(token, "Bearer ") {
		token = "Bearer " + token
	}
	c := &Client{
		httpClient: &http.Client{},
		baseURL:    defaultBaseURL,
		token:      token,
		pageSize:   DefaultPageSize,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageSize returns the page size the client requests from the service.
func (c *Client) PageSize() int {
	return c.pageSize
}

// apiMemo is the wire shape of one memo record.
type apiMemo struct {
	Slug      string   `json:"slug"`
	Content   string   `json:"content"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	Tags      []string `json:"tags"`
}

// apiResponse is the wire shape of a list response.
type apiResponse struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Data    []apiMemo `json:"data"`
}

// signedParams builds the query parameters for one page request, including
// the MD5 signature over the sorted parameter string.
func (c *Client) signedParams(cursor models.Cursor) url.Values {
	params := map[string]string{
		"limit":       strconv.Itoa(c.pageSize),
		"tz":          "8:0",
		"timestamp":   strconv.FormatInt(time.Now().Unix(), 10),
		"api_key":     "flomo_web",
		"app_version": "5.25.64",
		"platform":    "mac",
		"webp":        "1",
	}
	// The slug is sent even when the timestamp could not be derived.
	if cursor.Slug != "" {
		params["latest_slug"] = cursor.Slug
	}
	if cursor.UpdatedAt != 0 {
		params["latest_updated_at"] = strconv.FormatInt(cursor.UpdatedAt, 10)
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := md5.Sum([]byte(strings.Join(pairs, "&") + signSalt))
	params["sign"] = fmt.Sprintf("%x", sum)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return values
}

// FetchPage requests one page of memos after the given cursor. A zero
// cursor requests the beginning of the stream.
//
// Network failures are classified as transport errors; undecodable bodies
// and non-zero application codes as protocol errors.
func (c *Client) FetchPage(ctx context.Context, cursor models.Cursor) ([]models.Memo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+listPath, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.URL.RawQuery = c.signedParams(cursor).Encode()
	req.Header.Set("Authorization", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport, "failed to read response", err)
	}

	var decoded apiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrProtocol,
			fmt.Sprintf("failed to decode response: %s", snippet(body)), err)
	}
	if decoded.Code != 0 {
		msg := fmt.Sprintf("API error: code %d", decoded.Code)
		if decoded.Message != "" {
			msg += ": " + decoded.Message
		}
		return nil, apperrors.New(apperrors.ErrProtocol, msg)
	}

	memos := make([]models.Memo, 0, len(decoded.Data))
	for _, record := range decoded.Data {
		memos = append(memos, models.Memo{
			Slug:      record.Slug,
			Content:   htmltext.Flatten(record.Content),
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
			Tags:      record.Tags,
			URL:       fmt.Sprintf(deepLinkFmt, record.Slug),
		})
	}
	return memos, nil
}

// snippet truncates a response body for error messages.
func snippet(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
