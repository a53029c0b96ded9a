package toolbox

import (
	"context"
	"fmt"

	"github.com/google/go-github/v74/github"
)

// GitHubAPITool issues a narrow set of read-mostly GitHub REST calls using
// the per-user credential pulled from ctx (set by the KB service before
// invoking the agent). It never receives a token as a model-supplied
// argument — only via ctx — so the model cannot smuggle an arbitrary
// token into outbound calls.
type GitHubAPITool struct{}

func (GitHubAPITool) Name() string        { return "github_api" }
func (GitHubAPITool) Description() string { return "Query the GitHub API (e.g. get_repo, list_issues, create_issue) using the user's configured token" }
func (GitHubAPITool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{"get_repo", "list_issues", "create_issue"},
			},
			"owner": map[string]interface{}{"type": "string"},
			"repo":  map[string]interface{}{"type": "string"},
			"title": map[string]interface{}{"type": "string"},
			"body":  map[string]interface{}{"type": "string"},
		},
		"required": []string{"operation", "owner", "repo"},
	}
}

func (GitHubAPITool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	token := GitTokenFromCtx(ctx)
	if token == "" {
		return Err("no GitHub credential is configured; use /creds set first")
	}
	operation := argString(args, "operation")
	owner := argString(args, "owner")
	repo := argString(args, "repo")
	if operation == "" || owner == "" || repo == "" {
		return Err("operation, owner, and repo are required")
	}

	client := github.NewClient(nil).WithAuthToken(token)

	switch operation {
	case "get_repo":
		r, _, err := client.Repositories.Get(ctx, owner, repo)
		if err != nil {
			return Err(fmt.Sprintf("github get_repo failed: %v", err))
		}
		return Ok(fmt.Sprintf("%s: %s (stars: %d, open issues: %d)", r.GetFullName(), r.GetDescription(), r.GetStargazersCount(), r.GetOpenIssuesCount()))

	case "list_issues":
		issues, _, err := client.Issues.ListByRepo(ctx, owner, repo, &github.IssueListByRepoOptions{
			ListOptions: github.ListOptions{PerPage: 20},
		})
		if err != nil {
			return Err(fmt.Sprintf("github list_issues failed: %v", err))
		}
		out := ""
		for _, iss := range issues {
			out += fmt.Sprintf("#%d %s\n", iss.GetNumber(), iss.GetTitle())
		}
		if out == "" {
			out = "no open issues"
		}
		return Ok(out)

	case "create_issue":
		title := argString(args, "title")
		if title == "" {
			return Err("title is required for create_issue")
		}
		body := argString(args, "body")
		iss, _, err := client.Issues.Create(ctx, owner, repo, &github.IssueRequest{
			Title: &title,
			Body:  &body,
		})
		if err != nil {
			return Err(fmt.Sprintf("github create_issue failed: %v", err))
		}
		return Ok(fmt.Sprintf("created issue #%d: %s", iss.GetNumber(), iss.GetHTMLURL()))

	default:
		return Err(fmt.Sprintf("unknown operation %q", operation))
	}
}
