// Package deliverable implements deliverable tracking: the tracked-output
// registry consulted by the Gate State Machine's completeness check before
// a gate is allowed to transition.
package deliverable

import (
	"context"

	"github.com/google/uuid"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/truth"
)

// Status is a deliverable's lifecycle state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusBlocked    Status = "blocked"
	StatusComplete   Status = "complete"
	StatusApproved   Status = "approved"
)

// Tracker is the Deliverable tracking component, backed by the Truth
// Store's deliverables projection.
type Tracker struct {
	store *truth.Store
}

// New constructs a Tracker backed by store.
func New(store *truth.Store) *Tracker {
	return &Tracker{store: store}
}

// Register appends a deliverable_registered event for a new tracked
// output, starting in StatusNotStarted.
func (t *Tracker) Register(ctx context.Context, projectID, gateID, deliverableType, name string) (string, error) {
	id := uuid.New().String()
	ev, err := truth.NewEvent(truth.EventDeliverableRegistered, projectID, "system", truth.DeliverablePayload{
		DeliverableID: id, GateID: gateID, Type: deliverableType, Name: name, Status: string(StatusNotStarted),
	})
	if err != nil {
		return "", cerrors.InvalidInput("build deliverable_registered event", "check deliverable fields")
	}
	if _, err := t.store.AppendEvent(ctx, ev); err != nil {
		return "", err
	}
	return id, nil
}

// ChangeStatus appends a deliverable_status_changed event.
func (t *Tracker) ChangeStatus(ctx context.Context, projectID, deliverableID string, status Status) error {
	if _, err := t.get(ctx, projectID, deliverableID); err != nil {
		return err
	}
	ev, err := truth.NewEvent(truth.EventDeliverableChanged, projectID, "system", truth.DeliverablePayload{
		DeliverableID: deliverableID, Status: string(status),
	})
	if err != nil {
		return cerrors.InvalidInput("build deliverable_status_changed event", "check deliverable fields")
	}
	_, err = t.store.AppendEvent(ctx, ev)
	return err
}

func (t *Tracker) get(ctx context.Context, projectID, deliverableID string) (truth.Deliverable, error) {
	all, err := t.store.ListDeliverables(ctx, projectID)
	if err != nil {
		return truth.Deliverable{}, err
	}
	for _, d := range all {
		if d.ID == deliverableID {
			return d, nil
		}
	}
	return truth.Deliverable{}, cerrors.NotFound("deliverable", deliverableID)
}

// ListForGate returns every deliverable registered against gateID.
func (t *Tracker) ListForGate(ctx context.Context, projectID, gateID string) ([]truth.Deliverable, error) {
	all, err := t.store.ListDeliverables(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var out []truth.Deliverable
	for _, d := range all {
		if d.GateID == gateID {
			out = append(out, d)
		}
	}
	return out, nil
}

// AllComplete reports whether every deliverable registered against gateID
// is in StatusComplete. The Gate State Machine's CanTransition does not call
// this: its completeness check covers every deliverable of the project,
// whatever its gate. A gate with no registered deliverables is vacuously
// complete — deliverable tracking is opt-in per gate. Note this is distinct from StatusApproved,
// which marks a deliverable's own downstream review outcome and plays no
// part in gate transition eligibility.
func (t *Tracker) AllComplete(ctx context.Context, projectID, gateID string) (bool, error) {
	deliverables, err := t.ListForGate(ctx, projectID, gateID)
	if err != nil {
		return false, err
	}
	for _, d := range deliverables {
		if d.Status != string(StatusComplete) {
			return false, nil
		}
	}
	return true, nil
}
