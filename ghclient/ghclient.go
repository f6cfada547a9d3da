/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package ghclient is the GitHub transport: repository content reads for
// context assembly and comment writes for publishing. All calls retry
// boundedly on transient API failures.
package ghclient

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"

	"chainguard.dev/pullrider/assemble"
	"chainguard.dev/pullrider/retry"
	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"golang.org/x/oauth2"
)

const perPage = 100

// Client wraps the GitHub API for the operations the agent performs. It
// satisfies assemble.ContentProvider and rules.ContentFetcher.
type Client struct {
	gh          *github.Client
	botLogin    string
	retryConfig retry.Config
}

// New wraps an already-constructed GitHub client. Comments authored by
// botLogin are the agent's own and are surfaced by ListBotComments.
func New(gh *github.Client, botLogin string) *Client {
	return &Client{
		gh:          gh,
		botLogin:    botLogin,
		retryConfig: retry.DefaultConfig(),
	}
}

// NewTokenClient creates a Client authenticated with a personal access token.
func NewTokenClient(ctx context.Context, token, botLogin string) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return New(github.NewClient(oauth2.NewClient(ctx, ts)), botLogin)
}

// NewAppClient creates a Client authenticated as a GitHub App installation.
// The private key is read from privateKeyPath.
func NewAppClient(appID, installationID int64, privateKeyPath, botLogin string) (*Client, error) {
	itr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, appID, installationID, privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("creating installation transport: %w", err)
	}
	return New(github.NewClient(&http.Client{Transport: itr}), botLogin), nil
}

// ListChangedFiles returns every file touched by the pull request, following
// pagination.
func (c *Client) ListChangedFiles(ctx context.Context, owner, repo string, number int) ([]assemble.ChangedFile, error) {
	var out []assemble.ChangedFile
	opts := &github.ListOptions{PerPage: perPage}
	for {
		files, resp, err := listChangedFilesPage(ctx, c, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing changed files for %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, f := range files {
			out = append(out, assemble.ChangedFile{
				Path:   f.GetFilename(),
				Status: f.GetStatus(),
				Patch:  f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func listChangedFilesPage(ctx context.Context, c *Client, owner, repo string, number int, opts *github.ListOptions) ([]*github.CommitFile, *github.Response, error) {
	type page struct {
		files []*github.CommitFile
		resp  *github.Response
	}
	p, err := retry.Do(ctx, c.retryConfig, "list_changed_files", isRetryableGitHubError,
		func(ctx context.Context) (page, error) {
			files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
			return page{files: files, resp: resp}, err
		})
	return p.files, p.resp, err
}

// GetFileContent returns the decoded content of path at ref. A missing file
// is reported by wrapping fs.ErrNotExist so callers can distinguish absence
// from failure with errors.Is.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	fc, err := retry.Do(ctx, c.retryConfig, "get_file_content", isRetryableGitHubError,
		func(ctx context.Context) (*github.RepositoryContent, error) {
			fc, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path,
				&github.RepositoryContentGetOptions{Ref: ref})
			if err != nil {
				if resp != nil && resp.StatusCode == http.StatusNotFound {
					return nil, fmt.Errorf("%s/%s:%s@%s: %w", owner, repo, path, ref, fs.ErrNotExist)
				}
				return nil, err
			}
			if fc == nil {
				// Path resolved to a directory.
				return nil, fmt.Errorf("%s/%s:%s@%s is not a file: %w", owner, repo, path, ref, fs.ErrNotExist)
			}
			return fc, nil
		})
	if err != nil {
		return nil, err
	}
	content, err := fc.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s/%s:%s: %w", owner, repo, path, err)
	}
	return []byte(content), nil
}

// ListBotComments returns the bodies of the agent's own prior comments on the
// subject, oldest first, following pagination.
func (c *Client) ListBotComments(ctx context.Context, owner, repo string, number int) ([]string, error) {
	var out []string
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		comments, resp, err := listCommentsPage(ctx, c, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing comments for %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, comment := range comments {
			if comment.GetUser().GetLogin() == c.botLogin {
				out = append(out, comment.GetBody())
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func listCommentsPage(ctx context.Context, c *Client, owner, repo string, number int, opts *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error) {
	type page struct {
		comments []*github.IssueComment
		resp     *github.Response
	}
	p, err := retry.Do(ctx, c.retryConfig, "list_comments", isRetryableGitHubError,
		func(ctx context.Context) (page, error) {
			comments, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
			return page{comments: comments, resp: resp}, err
		})
	return p.comments, p.resp, err
}

// GetPullRequest fetches the current pull request, used to re-read head SHA
// and draft status at processing time rather than trusting a stale payload.
func (c *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	pr, err := retry.Do(ctx, c.retryConfig, "get_pull_request", isRetryableGitHubError,
		func(ctx context.Context) (*github.PullRequest, error) {
			pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
			return pr, err
		})
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s#%d: %w", owner, repo, number, err)
	}
	return pr, nil
}

// PostComment posts a single comment on the issue or pull request.
func (c *Client) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	log := clog.FromContext(ctx).With("owner", owner, "repo", repo, "number", number)
	_, err := retry.Do(ctx, c.retryConfig, "post_comment", isRetryableGitHubError,
		func(ctx context.Context) (*github.IssueComment, error) {
			comment, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
				Body: github.Ptr(body),
			})
			return comment, err
		})
	if err != nil {
		return fmt.Errorf("posting comment on %s/%s#%d: %w", owner, repo, number, err)
	}
	log.With("comment_length", len(body)).Info("Posted comment")
	return nil
}

// CloseSubject closes the issue or pull request.
func (c *Client) CloseSubject(ctx context.Context, owner, repo string, number int) error {
	_, err := retry.Do(ctx, c.retryConfig, "close_subject", isRetryableGitHubError,
		func(ctx context.Context) (*github.Issue, error) {
			issue, _, err := c.gh.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{
				State: github.Ptr("closed"),
			})
			return issue, err
		})
	if err != nil {
		return fmt.Errorf("closing %s/%s#%d: %w", owner, repo, number, err)
	}
	clog.FromContext(ctx).With("owner", owner, "repo", repo, "number", number).Info("Closed subject")
	return nil
}

// isRetryableGitHubError reports whether an error is a transient GitHub API
// error. Returns true for primary and secondary rate limits and server errors.
func isRetryableGitHubError(err error) bool {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}
