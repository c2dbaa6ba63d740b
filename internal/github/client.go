package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v60/github"
)

// ErrNoDeployment is returned when no deployment, or no successful status
// with an environment URL, exists for the requested environment.
var ErrNoDeployment = errors.New("no deployment found")

// statuses inspected per deployment; GitHub returns them newest first
const statusPageSize = 30

// Client wraps the GitHub API for deployment lookups.
type Client struct {
	gh           *gh.Client
	defaultOwner string
}

// New creates a GitHub client. An empty token makes unauthenticated requests,
// which only works for public repositories.
func New(token, defaultOwner string) *Client {
	ghClient := gh.NewClient(&http.Client{})
	if token != "" {
		ghClient = ghClient.WithAuthToken(token)
	}
	return &Client{gh: ghClient, defaultOwner: defaultOwner}
}

// newWithClient creates a Client around an injected GitHub client (for testing).
func newWithClient(ghClient *gh.Client, defaultOwner string) *Client {
	return &Client{gh: ghClient, defaultOwner: defaultOwner}
}

// SplitRepo splits "owner/repo" into its parts. A bare "repo" returns an empty owner.
func SplitRepo(ref string) (owner, repo string, err error) {
	parts := strings.Split(ref, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return "", parts[0], nil
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("invalid repository %q: want owner/repo or repo", ref)
}

// DeploymentURL returns the environment URL of the newest deployment to
// environment, taken from that deployment's newest successful status.
func (c *Client) DeploymentURL(ctx context.Context, owner, repo, environment string) (string, error) {
	if owner == "" {
		owner = c.defaultOwner
	}
	if owner == "" {
		return "", fmt.Errorf("no owner for repository %q; pass owner/repo or set github.owner", repo)
	}

	deployments, _, err := c.gh.Repositories.ListDeployments(ctx, owner, repo, &gh.DeploymentsListOptions{
		Environment: environment,
		ListOptions: gh.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", fmt.Errorf("listing deployments for %s/%s: %w", owner, repo, err)
	}
	if len(deployments) == 0 {
		return "", fmt.Errorf("%w for %s/%s in environment %q", ErrNoDeployment, owner, repo, environment)
	}
	deployment := deployments[0]

	statuses, _, err := c.gh.Repositories.ListDeploymentStatuses(ctx, owner, repo, deployment.GetID(), &gh.ListOptions{PerPage: statusPageSize})
	if err != nil {
		return "", fmt.Errorf("listing statuses for deployment %d: %w", deployment.GetID(), err)
	}
	for _, st := range statuses {
		if st.GetState() == "success" && st.GetEnvironmentURL() != "" {
			return st.GetEnvironmentURL(), nil
		}
	}

	return "", fmt.Errorf("%w: deployment %d of %s/%s (%s) has no successful status with an environment URL",
		ErrNoDeployment, deployment.GetID(), owner, repo, deployment.GetSHA())
}
