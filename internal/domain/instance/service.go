package instance

import (
	"context"
	"fmt"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/core/tx"
	"storesync/pkg/logger"
)

// Service provides business logic for the instance registry.
type Service struct {
	repo      Repository
	txManager tx.Manager
}

// NewService creates a new instance service.
func NewService(repo Repository, txManager tx.Manager) *Service {
	return &Service{repo: repo, txManager: txManager}
}

// Create validates and persists a new instance.
func (s *Service) Create(ctx context.Context, inst *Instance) error {
	if err := inst.Validate(ctx); err != nil {
		return err
	}
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, inst); err != nil {
			return fmt.Errorf("create instance: %w", err)
		}
		return nil
	})
}

// GetByID retrieves an instance by ID.
func (s *Service) GetByID(ctx context.Context, instID id.ID) (*Instance, error) {
	return s.repo.GetByID(ctx, instID)
}

// Update validates and persists changes to an instance.
func (s *Service) Update(ctx context.Context, inst *Instance) error {
	if err := inst.Validate(ctx); err != nil {
		return err
	}
	inst.Touch()
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.Update(ctx, inst)
	})
}

// Delete removes an instance and, via cascade, everything it owns.
// The cascade is a hard invariant of the schema, not best-effort cleanup.
func (s *Service) Delete(ctx context.Context, instID id.ID) error {
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetByID(ctx, instID); err != nil {
			return err
		}
		return s.repo.Delete(ctx, instID)
	})
	if err != nil {
		if apperror.IsNotFound(err) {
			return err
		}
		return fmt.Errorf("delete instance %s: %w", instID, err)
	}
	logger.Info(ctx, "instance deleted with cascading ledger, webhook and task rows",
		"instance_id", instID.String())
	return nil
}

// ListActive retrieves all active instances.
func (s *Service) ListActive(ctx context.Context) ([]*Instance, error) {
	return s.repo.ListActive(ctx)
}

// List retrieves all instances.
func (s *Service) List(ctx context.Context) ([]*Instance, error) {
	return s.repo.List(ctx)
}
