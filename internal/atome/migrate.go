package atome

import (
	"context"
	"log"
)

// MigrationResult counts atomes moved per backend.
type MigrationResult struct {
	PrimaryMoved   int64  `json:"primaryMoved"`
	SecondaryMoved int64  `json:"secondaryMoved"`
	SecondaryError string `json:"secondaryError,omitempty"`
}

// Migrate reassigns every atome owned by fromOwner to toOwner on both
// backends. It runs when an anonymous session authenticates so work done
// before login follows the user. The primary must succeed; the secondary
// is best effort.
func (s *Service) Migrate(ctx context.Context, fromOwner, toOwner string) (*MigrationResult, error) {
	result := &MigrationResult{}

	moved, err := s.primary.ReassignOwner(ctx, fromOwner, toOwner)
	if err != nil {
		return nil, err
	}
	result.PrimaryMoved = moved
	log.Printf("[MIGRATE] %d atomes moved from %s to %s on %s", moved, fromOwner, toOwner, s.primary.Name())

	if s.secondary == nil || !s.localFirst {
		return result, nil
	}
	mctx, cancel := context.WithTimeout(ctx, s.mirrorTimeout)
	defer cancel()
	if !s.secondary.Available(mctx) {
		result.SecondaryError = reasonUnavailable
		return result, nil
	}
	secondaryMoved, err := s.secondary.ReassignOwner(mctx, fromOwner, toOwner)
	if err != nil {
		result.SecondaryError = err.Error()
		log.Printf("[MIGRATE] secondary reassign failed: %v", err)
		return result, nil
	}
	result.SecondaryMoved = secondaryMoved
	return result, nil
}
