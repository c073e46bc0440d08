package proofcollect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/relaygate/castellan/internal/proof"
	"github.com/relaygate/castellan/internal/truth"
	"github.com/relaygate/castellan/internal/truth/driver"
)

func newTestCollector(t *testing.T, handler http.HandlerFunc) (*Collector, *truth.Store) {
	t.Helper()
	store, err := truth.Open(driver.DialectSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	ev, _ := truth.NewEvent(truth.EventProjectCreated, "p1", "owner", map[string]string{"name": "Demo", "owner": "owner"})
	if _, err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	ledger := proof.New(store)
	c := New(ledger, "acme", "widgets", "test-token")
	base, _ := url.Parse(server.URL + "/")
	c.client.BaseURL = base
	return c, store
}

func TestCollectWorkflowRunSubmitsPassOnSuccess(t *testing.T) {
	c, store := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": 42, "name": "ci", "conclusion": "success", "html_url": "https://github.com/acme/widgets/actions/runs/42",
		})
	})

	artifactID, err := c.CollectWorkflowRun(context.Background(), "p1", "G5", 42)
	if err != nil {
		t.Fatalf("collect workflow run: %v", err)
	}
	artifact, err := store.GetProof(context.Background(), "p1", artifactID)
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if artifact.PassFail != string(proof.Pass) {
		t.Errorf("expected pass, got %s", artifact.PassFail)
	}
	if artifact.ProofType != "build_output" {
		t.Errorf("expected build_output, got %s", artifact.ProofType)
	}
}

func TestCollectWorkflowRunSubmitsFailOnFailure(t *testing.T) {
	c, store := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": 43, "name": "ci", "conclusion": "failure", "html_url": "https://github.com/acme/widgets/actions/runs/43",
		})
	})

	artifactID, err := c.CollectWorkflowRun(context.Background(), "p1", "G5", 43)
	if err != nil {
		t.Fatalf("collect workflow run: %v", err)
	}
	artifact, err := store.GetProof(context.Background(), "p1", artifactID)
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if artifact.PassFail != string(proof.Fail) {
		t.Errorf("expected fail, got %s", artifact.PassFail)
	}
}

func TestCollectDeploymentStatusSubmitsDeploymentLog(t *testing.T) {
	c, store := newTestCollector(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 1, "state": "success", "target_url": "https://example.com/deploy/1"},
		})
	})

	artifactID, err := c.CollectDeploymentStatus(context.Background(), "p1", "G9", 7)
	if err != nil {
		t.Fatalf("collect deployment status: %v", err)
	}
	artifact, err := store.GetProof(context.Background(), "p1", artifactID)
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if artifact.ProofType != "deployment_log" || artifact.PassFail != string(proof.Pass) {
		t.Errorf("expected passing deployment_log, got %+v", artifact)
	}
}
