package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"conductor-ai/internal/domain"
)

const (
	githubDefaultBaseURL = "https://api.github.com"
	githubAPIVersion     = "2022-11-28"
	githubDefaultTimeout = 15 * time.Second
	githubMaxBody        = 4 * 1024 * 1024 // 4 MB
)

// RESTGitHubBackend talks to the GitHub REST API. Selected when
// tools.github_backend is "rest"; requires tools.github_token.
type RESTGitHubBackend struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewRESTGitHubBackend creates a REST backend. Empty baseURL defaults to
// api.github.com, timeout <= 0 to 15s.
func NewRESTGitHubBackend(baseURL, token string, timeout time.Duration, logger *slog.Logger) *RESTGitHubBackend {
	if baseURL == "" {
		baseURL = githubDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = githubDefaultTimeout
	}
	return &RESTGitHubBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Wire types for the GitHub API (subset of fields we surface).

type ghRepo struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
	HTMLURL     string `json:"html_url"`
	Language    string `json:"language"`
	Stars       int    `json:"stargazers_count"`
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghIssue struct {
	Number  int       `json:"number"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	State   string    `json:"state"`
	HTMLURL string    `json:"html_url"`
	Labels  []ghLabel `json:"labels"`

	// Present only when the "issue" is actually a pull request.
	PullRequest json.RawMessage `json:"pull_request,omitempty"`
}

type ghBranch struct {
	Ref string `json:"ref"`
}

type ghPR struct {
	Number  int      `json:"number"`
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	State   string   `json:"state"`
	HTMLURL string   `json:"html_url"`
	Head    ghBranch `json:"head"`
	Base    ghBranch `json:"base"`
}

type ghCodeSearch struct {
	Items []struct {
		Path       string `json:"path"`
		HTMLURL    string `json:"html_url"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	} `json:"items"`
}

func (b *RESTGitHubBackend) ListRepos(ctx context.Context, opts ListReposOpts) ([]GitHubRepo, error) {
	q := url.Values{"sort": {"updated"}}
	addPagination(q, opts.Page, opts.PerPage)

	var wire []ghRepo
	if err := b.get(ctx, "/user/repos", q, &wire); err != nil {
		return nil, err
	}
	repos := make([]GitHubRepo, 0, len(wire))
	for _, r := range wire {
		repos = append(repos, GitHubRepo{
			FullName:    r.FullName,
			Description: r.Description,
			Private:     r.Private,
			HTMLURL:     r.HTMLURL,
			Language:    r.Language,
			Stars:       r.Stars,
		})
	}
	return repos, nil
}

func (b *RESTGitHubBackend) ListIssues(ctx context.Context, owner, repo string, opts ListIssuesOpts) ([]GitHubIssue, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	addPagination(q, opts.Page, opts.PerPage)

	var wire []ghIssue
	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(repo))
	if err := b.get(ctx, path, q, &wire); err != nil {
		return nil, err
	}
	issues := make([]GitHubIssue, 0, len(wire))
	for _, i := range wire {
		// The issues endpoint also returns pull requests; skip them.
		if len(i.PullRequest) > 0 {
			continue
		}
		issues = append(issues, fromGHIssue(i))
	}
	return issues, nil
}

func (b *RESTGitHubBackend) GetIssue(ctx context.Context, owner, repo string, number int) (*GitHubIssue, error) {
	var wire ghIssue
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", url.PathEscape(owner), url.PathEscape(repo), number)
	if err := b.get(ctx, path, nil, &wire); err != nil {
		return nil, err
	}
	iss := fromGHIssue(wire)
	return &iss, nil
}

func (b *RESTGitHubBackend) CreateIssue(ctx context.Context, owner, repo, title, body string, labels []string) (*GitHubIssue, error) {
	payload := map[string]any{"title": title}
	if body != "" {
		payload["body"] = body
	}
	if len(labels) > 0 {
		payload["labels"] = labels
	}

	var wire ghIssue
	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(repo))
	if err := b.do(ctx, http.MethodPost, path, nil, payload, &wire); err != nil {
		return nil, err
	}
	iss := fromGHIssue(wire)
	return &iss, nil
}

func (b *RESTGitHubBackend) ListPRs(ctx context.Context, owner, repo string, opts ListPRsOpts) ([]GitHubPR, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	addPagination(q, opts.Page, opts.PerPage)

	var wire []ghPR
	path := fmt.Sprintf("/repos/%s/%s/pulls", url.PathEscape(owner), url.PathEscape(repo))
	if err := b.get(ctx, path, q, &wire); err != nil {
		return nil, err
	}
	prs := make([]GitHubPR, 0, len(wire))
	for _, p := range wire {
		prs = append(prs, fromGHPR(p))
	}
	return prs, nil
}

func (b *RESTGitHubBackend) GetPR(ctx context.Context, owner, repo string, number int) (*GitHubPR, error) {
	var wire ghPR
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", url.PathEscape(owner), url.PathEscape(repo), number)
	if err := b.get(ctx, path, nil, &wire); err != nil {
		return nil, err
	}
	pr := fromGHPR(wire)
	return &pr, nil
}

func (b *RESTGitHubBackend) SearchCode(ctx context.Context, query string, opts SearchCodeOpts) ([]GitHubCodeResult, error) {
	q := url.Values{"q": {query}}
	addPagination(q, opts.Page, opts.PerPage)

	var wire ghCodeSearch
	if err := b.get(ctx, "/search/code", q, &wire); err != nil {
		return nil, err
	}
	results := make([]GitHubCodeResult, 0, len(wire.Items))
	for _, item := range wire.Items {
		results = append(results, GitHubCodeResult{
			Repository: item.Repository.FullName,
			Path:       item.Path,
			HTMLURL:    item.HTMLURL,
		})
	}
	return results, nil
}

func fromGHIssue(w ghIssue) GitHubIssue {
	var labels []string
	for _, l := range w.Labels {
		labels = append(labels, l.Name)
	}
	return GitHubIssue{
		Number:  w.Number,
		Title:   w.Title,
		Body:    w.Body,
		State:   w.State,
		HTMLURL: w.HTMLURL,
		Labels:  labels,
	}
}

func fromGHPR(w ghPR) GitHubPR {
	return GitHubPR{
		Number:  w.Number,
		Title:   w.Title,
		Body:    w.Body,
		State:   w.State,
		HTMLURL: w.HTMLURL,
		Head:    w.Head.Ref,
		Base:    w.Base.Ref,
	}
}

func addPagination(q url.Values, page, perPage int) {
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}
}

// get performs a GET request and decodes the JSON response into out.
func (b *RESTGitHubBackend) get(ctx context.Context, path string, query url.Values, out any) error {
	return b.do(ctx, http.MethodGet, path, query, nil, out)
}

func (b *RESTGitHubBackend) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, githubMaxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mapGitHubError(resp.StatusCode, resp.Header, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// mapGitHubError converts an API error status to a domain error. A 403
// with an exhausted rate-limit header is a rate limit, not an auth
// failure.
func mapGitHubError(statusCode int, header http.Header, body []byte) error {
	detail := fmt.Sprintf("github API error %d: %s", statusCode, truncate(string(body), 512))

	switch {
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, detail)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusForbidden && header.Get("X-RateLimit-Remaining") == "0":
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, detail)
	case statusCode >= 500:
		return fmt.Errorf("%w: %s", domain.ErrUpstreamFailure, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}
