// Package revision implements the Feedback-Driven Revision Loop: when a
// message received during a gate's review state classifies as feedback,
// the gate's primary agent is re-run with a revision prompt built from the
// most recent document of that gate's document type, and the result is
// stored as a new version.
package revision

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaygate/castellan/internal/document"
	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/feedback"
	"github.com/relaygate/castellan/internal/gatefsm"
	"github.com/relaygate/castellan/internal/spawn"
	"github.com/relaygate/castellan/internal/streambridge"
	"github.com/relaygate/castellan/internal/truth"
)

const (
	defaultModel     = "claude-agent-default"
	defaultMaxTokens = 8000
	feedbackTruncate = 280
)

// GateDocumentType maps each gate to the document type its primary agent
// produces and, on feedback, revises.
var GateDocumentType = map[gatefsm.GateType]string{
	gatefsm.G2: "prd",
	gatefsm.G3: "spec",
	gatefsm.G4: "design",
	gatefsm.G5: "implementation_notes",
	gatefsm.G6: "qa_report",
	gatefsm.G7: "security_review",
	gatefsm.G8: "deployment_plan",
	gatefsm.G9: "launch_report",
}

// Outcome describes what the loop did with a message.
type Outcome struct {
	Classification feedback.Classification
	Triggered      bool
	Version        int
	Content        string
}

// Loop wires the Feedback Classifier, Document store, Agent Spawn
// Enforcer, and Streaming Execution Bridge together.
type Loop struct {
	store    *truth.Store
	docs     *document.Store
	bridge   *streambridge.Bridge
	enforcer *spawn.Enforcer
}

// New constructs a Loop.
func New(store *truth.Store, docs *document.Store, bridge *streambridge.Bridge, enforcer *spawn.Enforcer) *Loop {
	return &Loop{store: store, docs: docs, bridge: bridge, enforcer: enforcer}
}

// HandleMessage classifies message and, if it is feedback, runs a
// revision pass. A non-feedback message is a no-op: Outcome.Triggered is
// false and no error is returned.
func (l *Loop) HandleMessage(ctx context.Context, projectID string, gate gatefsm.GateType, message string) (Outcome, error) {
	classification := feedback.Classify(message)
	outcome := Outcome{Classification: classification}
	if !classification.IsFeedback {
		return outcome, nil
	}

	agents := spawn.RequiredAgents[gate]
	if len(agents) == 0 {
		return outcome, cerrors.PreconditionFailed(fmt.Sprintf("no primary agent configured for gate %s", gate))
	}
	primary := agents[0]

	documentType := GateDocumentType[gate]
	if documentType == "" {
		return outcome, cerrors.PreconditionFailed(fmt.Sprintf("no document type configured for gate %s", gate))
	}

	doc, err := l.docs.Latest(projectID, string(gate), documentType)
	if err != nil {
		return outcome, err
	}

	var spawnID string
	if l.enforcer != nil {
		spawnID, err = l.enforcer.RecordSpawn(ctx, projectID, primary, string(gate), "revise "+documentType+" for feedback")
		if err != nil {
			return outcome, err
		}
	}

	systemPrompt := fmt.Sprintf("You are the %s agent for gate %s. Revise the %s document to address the feedback below. Output the complete revised document, not a diff.", primary, gate, documentType)
	userPrompt := buildRevisionPrompt(doc.Content, classification, message)

	_, events, err := l.bridge.Execute(ctx, systemPrompt, userPrompt, defaultModel, defaultMaxTokens)
	if err != nil {
		l.completeSpawn(ctx, projectID, spawnID, spawn.StatusFailed, err.Error(), streambridge.Usage{})
		return outcome, err
	}

	var revisedContent string
	var usage streambridge.Usage
	for ev := range events {
		switch ev.Kind {
		case streambridge.KindComplete:
			revisedContent = ev.Content
			usage = ev.Usage
		case streambridge.KindFail:
			l.completeSpawn(ctx, projectID, spawnID, spawn.StatusFailed, ev.Err.Error(), usage)
			return outcome, cerrors.UpstreamFailure("revise document", ev.Err)
		}
	}
	if revisedContent == "" {
		err := cerrors.UpstreamFailure("revise document", fmt.Errorf("agent runtime produced no content"))
		l.completeSpawn(ctx, projectID, spawnID, spawn.StatusFailed, "no content returned", usage)
		return outcome, err
	}

	revised, err := l.docs.Revise(projectID, string(gate), documentType, revisedContent)
	if err != nil {
		l.completeSpawn(ctx, projectID, spawnID, spawn.StatusFailed, err.Error(), usage)
		return outcome, err
	}

	ev, err := truth.NewEvent(truth.EventDocumentRevised, projectID, primary, truth.DocumentRevisedPayload{
		Gate: string(gate), DocumentType: documentType, Version: revised.Version,
		TruncatedFeedback: truncate(message, feedbackTruncate),
	})
	if err != nil {
		return outcome, cerrors.InvalidInput("build document_revised event", "check revision fields")
	}
	if _, err := l.store.AppendEvent(ctx, ev); err != nil {
		return outcome, err
	}

	l.completeSpawn(ctx, projectID, spawnID, spawn.StatusCompleted, fmt.Sprintf("revised %s to v%d", documentType, revised.Version), usage)

	outcome.Triggered = true
	outcome.Version = revised.Version
	outcome.Content = revisedContent
	return outcome, nil
}

func (l *Loop) completeSpawn(ctx context.Context, projectID, spawnID string, status spawn.Status, summary string, usage streambridge.Usage) {
	if l.enforcer == nil || spawnID == "" {
		return
	}
	tokens := &spawn.TokenUsage{InputTokens: usage.InputTokens, OutputTokens: usage.OutputTokens}
	_ = l.enforcer.CompleteSpawn(ctx, projectID, spawnID, status, summary, nil, tokens)
}

func buildRevisionPrompt(current string, classification feedback.Classification, message string) string {
	var b strings.Builder
	b.WriteString("## Current Document\n\n")
	b.WriteString(current)
	b.WriteString("\n\n## Feedback Received\n\n")
	fmt.Fprintf(&b, "Type: %s, Sentiment: %s\n\n", classification.Type, classification.Sentiment)
	b.WriteString(message)
	b.WriteString("\n\nProduce the full revised document incorporating this feedback.")
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
