package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"vigil/internal/escalation"
)

const defaultGitHubAPI = "https://api.github.com"

type GitHubConfig struct {
	Token  string
	Repo   string // "owner/name"
	Labels []string
	APIURL string
}

// GitHub opens an issue per episode.
type GitHub struct {
	cfg    GitHubConfig
	client *resty.Client
}

type githubIssueRequest struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

type githubIssue struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

type githubError struct {
	Message string `json:"message"`
}

func NewGitHub(cfg GitHubConfig) (*GitHub, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("github token is empty")
	}
	if owner, name, ok := strings.Cut(cfg.Repo, "/"); !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("github repo must be owner/name, got %q", cfg.Repo)
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = []string{"emergency"}
	}
	api := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if api == "" {
		api = defaultGitHubAPI
	}
	client := resty.New().
		SetBaseURL(api).
		SetTimeout(30*time.Second).
		SetAuthScheme("Bearer").
		SetAuthToken(cfg.Token).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28").
		SetHeader("User-Agent", "vigil-notifier")
	return &GitHub{cfg: cfg, client: client}, nil
}

func (g *GitHub) Name() string { return "github" }

func (g *GitHub) Deliver(ctx context.Context, r escalation.Report) error {
	var (
		issue  githubIssue
		apiErr githubError
	)
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(githubIssueRequest{Title: r.Title(), Body: r.Markdown(), Labels: g.cfg.Labels}).
		SetResult(&issue).
		SetError(&apiErr).
		Post("/repos/" + g.cfg.Repo + "/issues")
	if err != nil {
		return fmt.Errorf("github: %w", err)
	}
	if resp.StatusCode() != 201 {
		if apiErr.Message != "" {
			return fmt.Errorf("github: status %d: %s", resp.StatusCode(), apiErr.Message)
		}
		return fmt.Errorf("github: status %d", resp.StatusCode())
	}
	return nil
}
