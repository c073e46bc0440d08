// Package specs implements spec registration and the fail-closed lock
// enforced after G3 approval: once a spec type is locked, further writes
// to it are rejected rather than silently accepted.
package specs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/truth"
)

// Registry is the Spec Registration & lock component, backed by the Truth
// Store's spec_registrations projection.
type Registry struct {
	store *truth.Store
}

// New constructs a Registry backed by store.
func New(store *truth.Store) *Registry {
	return &Registry{store: store}
}

// RegisterSpec reads filePath, computes its checksum, and appends a
// spec_registered event. Re-registering a locked spec type is rejected.
func (r *Registry) RegisterSpec(ctx context.Context, projectID, specType, filePath string) (string, error) {
	locked, err := r.IsLocked(ctx, projectID, specType)
	if err != nil && !isNotFound(err) {
		return "", err
	}
	if locked {
		return "", cerrors.Conflict("spec type " + specType + " is locked and cannot be re-registered")
	}

	checksum, err := checksumFile(filePath)
	if err != nil {
		return "", err
	}

	version := 1
	existing, err := r.store.GetSpecRegistration(ctx, projectID, specType)
	if err == nil {
		version = existing.Version + 1
	}

	ev, err := truth.NewEvent(truth.EventSpecRegistered, projectID, "system", truth.SpecRegisteredPayload{
		SpecType: specType, Path: filePath, Checksum: checksum, Version: version,
	})
	if err != nil {
		return "", cerrors.InvalidInput("build spec_registered event", "check spec fields")
	}
	if _, err := r.store.AppendEvent(ctx, ev); err != nil {
		return "", err
	}
	return checksum, nil
}

// LockSpecs locks every registered spec type for a project, called when a
// gate requiring the lock (G3) is approved. Already-locked specs are
// skipped rather than re-locked.
func (r *Registry) LockSpecs(ctx context.Context, projectID, gate, lockedBy string) error {
	regs, err := r.store.ListSpecRegistrations(ctx, projectID)
	if err != nil {
		return err
	}
	for _, reg := range regs {
		if reg.Locked {
			continue
		}
		ev, err := truth.NewEvent(truth.EventSpecLocked, projectID, lockedBy, truth.SpecLockedPayload{
			SpecType: reg.SpecType, LockedBy: lockedBy, Gate: gate,
		})
		if err != nil {
			return cerrors.InvalidInput("build spec_locked event", "check lock fields")
		}
		if _, err := r.store.AppendEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// IsLocked reports whether a spec type is locked for a project.
func (r *Registry) IsLocked(ctx context.Context, projectID, specType string) (bool, error) {
	reg, err := r.store.GetSpecRegistration(ctx, projectID, specType)
	if err != nil {
		return false, err
	}
	return reg.Locked, nil
}

func isNotFound(err error) bool {
	ce, ok := err.(*cerrors.CastellanError)
	return ok && ce.Code == cerrors.CodeNotFound
}

func checksumFile(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", cerrors.UpstreamFailure("read spec file", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
