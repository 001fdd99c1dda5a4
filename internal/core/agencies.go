package core

import (
	"context"

	"tracecore/pkg/domain"
)

const (
	opRegisterAgency = "register_agency"
	opUpdateAgency   = "update_agency"
	opRemoveAgency   = "remove_agency"
)

// RegisterAgency adds a regulatory agency and indexes its actor. Owner or
// administrator. Fails with AlreadyExists when the id is taken or the actor is
// already bound to another agency.
func (s *Service) RegisterAgency(ctx context.Context, caller Caller, agency domain.Agency) (domain.Agency, error) {
	var created domain.Agency
	_, err := s.mutate(ctx, opRegisterAgency, caller, agency.ID, func(tx Transaction) error {
		if err := authorize(opRegisterAgency, caller, ownerOrAdmin(tx, caller)); err != nil {
			return err
		}
		if err := agency.Validate(opRegisterAgency); err != nil {
			return err
		}
		if _, exists := tx.FindAgency(agency.ID); exists {
			return domain.AlreadyExists(opRegisterAgency, agency.ID)
		}
		var err error
		if created, err = tx.CreateAgency(agency); err != nil {
			return err
		}
		_, err = tx.AppendEvent(domain.EventAgencyRegistered, agency.ID, caller.Principal)
		return err
	})
	if err != nil {
		return domain.Agency{}, err
	}
	return created, nil
}

// UpdateAgency overwrites an agency's attributes. Owner or administrator.
// Moving the agency to a new actor replaces the reverse index entry in the
// same transaction.
func (s *Service) UpdateAgency(ctx context.Context, caller Caller, agency domain.Agency) (domain.Agency, error) {
	var updated domain.Agency
	_, err := s.mutate(ctx, opUpdateAgency, caller, agency.ID, func(tx Transaction) error {
		if err := authorize(opUpdateAgency, caller, ownerOrAdmin(tx, caller)); err != nil {
			return err
		}
		if err := agency.Validate(opUpdateAgency); err != nil {
			return err
		}
		if _, exists := tx.FindAgency(agency.ID); !exists {
			return domain.DoesNotExist(opUpdateAgency, agency.ID)
		}
		var err error
		updated, err = tx.UpdateAgency(agency.ID, func(a *domain.Agency) error {
			*a = agency
			return nil
		})
		if err != nil {
			return err
		}
		_, err = tx.AppendEvent(domain.EventAgencyUpdated, agency.ID, caller.Principal)
		return err
	})
	if err != nil {
		return domain.Agency{}, err
	}
	return updated, nil
}

// RemoveAgency deletes an agency and its reverse index entry. Owner or
// administrator. Thresholds the agency set are left untouched.
func (s *Service) RemoveAgency(ctx context.Context, caller Caller, id string) (domain.Agency, error) {
	var removed domain.Agency
	_, err := s.mutate(ctx, opRemoveAgency, caller, id, func(tx Transaction) error {
		if err := authorize(opRemoveAgency, caller, ownerOrAdmin(tx, caller)); err != nil {
			return err
		}
		if _, exists := tx.FindAgency(id); !exists {
			return domain.DoesNotExist(opRemoveAgency, id)
		}
		var err error
		if removed, err = tx.DeleteAgency(id); err != nil {
			return err
		}
		_, err = tx.AppendEvent(domain.EventAgencyRemoved, id, caller.Principal)
		return err
	})
	if err != nil {
		return domain.Agency{}, err
	}
	return removed, nil
}

// GetAgency returns the agency with id.
func (s *Service) GetAgency(ctx context.Context, id string) (domain.Agency, bool) {
	var (
		a  domain.Agency
		ok bool
	)
	s.view(ctx, func(v TransactionView) { a, ok = v.FindAgency(id) })
	return a, ok
}

// AgencyByActor resolves the agency bound to actor in constant time.
func (s *Service) AgencyByActor(ctx context.Context, actor ActorID) (domain.Agency, bool) {
	var (
		a  domain.Agency
		ok bool
	)
	s.view(ctx, func(v TransactionView) {
		var id string
		if id, ok = v.AgencyIDForActor(actor); ok {
			a, ok = v.FindAgency(id)
		}
	})
	return a, ok
}

// ListAgencies returns every agency ordered by id.
func (s *Service) ListAgencies(ctx context.Context) []domain.Agency {
	var out []domain.Agency
	s.view(ctx, func(v TransactionView) { out = v.ListAgencies() })
	return out
}
