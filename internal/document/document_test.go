package document

import "testing"

func TestRegisterThenReviseIncrementsVersion(t *testing.T) {
	s := New(t.TempDir())

	doc, err := s.Register("p1", "G2", "prd", "# PRD v1\n\ninitial draft")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if doc.Version != 1 {
		t.Fatalf("expected version 1, got %d", doc.Version)
	}

	revised, err := s.Revise("p1", "G2", "prd", "# PRD v2\n\nincorporates feedback")
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if revised.Version != 2 {
		t.Fatalf("expected version 2, got %d", revised.Version)
	}

	latest, err := s.Latest("p1", "G2", "prd")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 2 || latest.Content != "# PRD v2\n\nincorporates feedback" {
		t.Fatalf("unexpected latest document: %+v", latest)
	}
}

func TestReviseWithoutPriorVersionFails(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Revise("p1", "G2", "prd", "content"); err == nil {
		t.Fatal("expected error revising a document with no prior version")
	}
}

func TestLatestOnUnknownDocumentReturnsNotFound(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Latest("p1", "G2", "prd"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestVersionsListsAllVersionsAscending(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Register("p1", "G3", "spec", "v1 content"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Revise("p1", "G3", "spec", "v2 content"); err != nil {
		t.Fatalf("revise: %v", err)
	}
	if _, err := s.Revise("p1", "G3", "spec", "v3 content"); err != nil {
		t.Fatalf("revise: %v", err)
	}

	versions, err := s.Versions("p1", "G3", "spec")
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 3 || versions[0] != 1 || versions[2] != 3 {
		t.Fatalf("unexpected versions: %v", versions)
	}
}
