// Package proofcollect pulls CI and deployment signal from GitHub and
// submits it to the Proof Ledger as build_output, deployment_log, and
// smoke_test artifacts, so gates that require those proof types can be
// satisfied from the project's actual pipeline state instead of manual
// upload.
package proofcollect

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	gogithub "github.com/google/go-github/v82/github"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/proof"
)

// Collector pulls GitHub Actions run conclusions and deployment statuses
// into proof submissions.
type Collector struct {
	client *gogithub.Client
	owner  string
	repo   string
	ledger *proof.Ledger
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+t.token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// New constructs a Collector for owner/repo, authenticating with token
// (pass "" to read GITHUB_TOKEN from the environment).
func New(ledger *proof.Ledger, owner, repo, token string) *Collector {
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	httpClient := &http.Client{Transport: &bearerTransport{token: token}}
	return &Collector{client: gogithub.NewClient(httpClient), owner: owner, repo: repo, ledger: ledger}
}

// CollectWorkflowRun reads the conclusion of a completed GitHub Actions
// run and submits it as a build_output proof artifact. The run's HTML URL
// stands in for filePath and passFail is derived from the run's
// conclusion ("success" → pass, anything else → fail).
func (c *Collector) CollectWorkflowRun(ctx context.Context, projectID, gate string, runID int64) (string, error) {
	run, _, err := c.client.Actions.GetWorkflowRunByID(ctx, c.owner, c.repo, runID)
	if err != nil {
		return "", cerrors.UpstreamFailure("fetch github workflow run", err)
	}
	passFail := proof.Fail
	if run.GetConclusion() == "success" {
		passFail = proof.Pass
	}
	summary := fmt.Sprintf("workflow %q run %d concluded %q", run.GetName(), runID, run.GetConclusion())
	return c.submitFromURL(ctx, projectID, gate, "build_output", run.GetHTMLURL(), summary, passFail)
}

// CollectDeploymentStatus reads the latest status of a GitHub deployment
// and submits it as a deployment_log proof artifact.
func (c *Collector) CollectDeploymentStatus(ctx context.Context, projectID, gate string, deploymentID int64) (string, error) {
	statuses, _, err := c.client.Repositories.ListDeploymentStatuses(ctx, c.owner, c.repo, deploymentID, nil)
	if err != nil {
		return "", cerrors.UpstreamFailure("fetch github deployment statuses", err)
	}
	if len(statuses) == 0 {
		return "", cerrors.NotFound("deployment status", fmt.Sprintf("%d", deploymentID))
	}
	latest := statuses[0]
	passFail := proof.Fail
	if strings.EqualFold(latest.GetState(), "success") {
		passFail = proof.Pass
	}
	summary := fmt.Sprintf("deployment %d status %q", deploymentID, latest.GetState())
	return c.submitFromURL(ctx, projectID, gate, "deployment_log", latest.GetTargetURL(), summary, passFail)
}

// CollectSmokeTestCheckRun reads a check run (e.g. a post-deploy smoke
// test job) and submits it as a smoke_test proof artifact.
func (c *Collector) CollectSmokeTestCheckRun(ctx context.Context, projectID, gate string, checkRunID int64) (string, error) {
	check, _, err := c.client.Checks.GetCheckRun(ctx, c.owner, c.repo, checkRunID)
	if err != nil {
		return "", cerrors.UpstreamFailure("fetch github check run", err)
	}
	passFail := proof.Fail
	if check.GetConclusion() == "success" {
		passFail = proof.Pass
	}
	summary := fmt.Sprintf("check run %q concluded %q", check.GetName(), check.GetConclusion())
	return c.submitFromURL(ctx, projectID, gate, "smoke_test", check.GetHTMLURL(), summary, passFail)
}

// submitFromURL downloads nothing from url — it is recorded as the proof's
// reference location, and a small synthetic file carrying the summary is
// what actually gets hashed, since CI artifacts aren't fetched inline here.
func (c *Collector) submitFromURL(ctx context.Context, projectID, gate, proofType, url, summary string, passFail proof.PassFail) (string, error) {
	path, err := writeSyntheticProofFile(summary, url)
	if err != nil {
		return "", err
	}
	return c.ledger.Submit(ctx, projectID, gate, proofType, path, summary, passFail, "github-proofcollect")
}

func writeSyntheticProofFile(summary, url string) (string, error) {
	f, err := os.CreateTemp("", "castellan-proof-*.txt")
	if err != nil {
		return "", cerrors.UpstreamFailure("create proof staging file", err)
	}
	defer f.Close()
	if _, err := f.WriteString(summary + "\n" + url + "\n"); err != nil {
		return "", cerrors.UpstreamFailure("write proof staging file", err)
	}
	return f.Name(), nil
}
