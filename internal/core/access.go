package core

import (
	"context"

	"tracecore/pkg/domain"
)

const (
	opTransferOwnership     = "transfer_ownership"
	opAddAdministrator      = "add_administrator"
	opRemoveAdministrator   = "remove_administrator"
	opWhitelistCaller       = "whitelist_caller"
	opRemoveCallerWhitelist = "remove_caller_whitelist"
	opUpdateSystemStatus    = "update_system_status"
	opUpdateSystemVersion   = "update_system_version"
)

// Owner, administrator and agency checks use the principal. The
// authorized-caller check uses the immediate calling component.

func isOwner(v TransactionView, c Caller) bool {
	return c.Principal != "" && v.Config().Owner == c.Principal
}

func isAdministrator(v TransactionView, c Caller) bool {
	return v.IsAdministrator(c.Principal)
}

func isAuthorizedCaller(v TransactionView, c Caller) bool {
	return v.IsAuthorizedCaller(c.Immediate())
}

func isRegulatoryAgency(v TransactionView, c Caller) bool {
	_, ok := v.AgencyIDForActor(c.Principal)
	return ok
}

func authorize(op string, c Caller, allowed bool) error {
	if !allowed {
		return domain.NotAuthorized(op, c.Principal)
	}
	return nil
}

// TransferOwnership hands the owner role to newOwner. Owner only.
func (s *Service) TransferOwnership(ctx context.Context, caller Caller, newOwner ActorID) (Result, error) {
	return s.mutate(ctx, opTransferOwnership, caller, string(newOwner), func(tx Transaction) error {
		if err := authorize(opTransferOwnership, caller, isOwner(tx, caller)); err != nil {
			return err
		}
		if err := domain.CheckActor(opTransferOwnership, "new_owner", newOwner); err != nil {
			return err
		}
		tx.SetOwner(newOwner)
		_, err := tx.AppendEvent(domain.EventOwnershipTransferred, string(newOwner), caller.Principal)
		return err
	})
}

// AddAdministrator grants the administrator role. Owner only.
func (s *Service) AddAdministrator(ctx context.Context, caller Caller, actor ActorID) (Result, error) {
	return s.setMembership(ctx, opAddAdministrator, caller, actor, true, ownerOnly, Transaction.SetAdministrator, domain.EventAdminAdded)
}

// RemoveAdministrator revokes the administrator role. Owner only. Removing an
// actor that is not an administrator succeeds.
func (s *Service) RemoveAdministrator(ctx context.Context, caller Caller, actor ActorID) (Result, error) {
	return s.setMembership(ctx, opRemoveAdministrator, caller, actor, false, ownerOnly, Transaction.SetAdministrator, domain.EventAdminRemoved)
}

// WhitelistCaller lets a collaborating component record events. Owner or administrator.
func (s *Service) WhitelistCaller(ctx context.Context, caller Caller, actor ActorID) (Result, error) {
	return s.setMembership(ctx, opWhitelistCaller, caller, actor, true, ownerOrAdmin, Transaction.SetAuthorizedCaller, domain.EventCallerWhitelisted)
}

// RemoveCallerWhitelist revokes a component's whitelist entry. Owner or administrator.
func (s *Service) RemoveCallerWhitelist(ctx context.Context, caller Caller, actor ActorID) (Result, error) {
	return s.setMembership(ctx, opRemoveCallerWhitelist, caller, actor, false, ownerOrAdmin, Transaction.SetAuthorizedCaller, domain.EventCallerRemoved)
}

func ownerOnly(v TransactionView, c Caller) bool { return isOwner(v, c) }

func ownerOrAdmin(v TransactionView, c Caller) bool { return isOwner(v, c) || isAdministrator(v, c) }

func (s *Service) setMembership(
	ctx context.Context,
	op string,
	caller Caller,
	actor ActorID,
	present bool,
	allowed func(TransactionView, Caller) bool,
	set func(Transaction, ActorID, bool),
	eventType string,
) (Result, error) {
	return s.mutate(ctx, op, caller, string(actor), func(tx Transaction) error {
		if err := authorize(op, caller, allowed(tx, caller)); err != nil {
			return err
		}
		if err := domain.CheckActor(op, "actor", actor); err != nil {
			return err
		}
		set(tx, actor, present)
		_, err := tx.AppendEvent(eventType, string(actor), caller.Principal)
		return err
	})
}

// UpdateSystemStatus replaces the operational status. Owner or administrator.
func (s *Service) UpdateSystemStatus(ctx context.Context, caller Caller, status string) (Result, error) {
	return s.mutate(ctx, opUpdateSystemStatus, caller, "status", func(tx Transaction) error {
		if err := authorize(opUpdateSystemStatus, caller, ownerOrAdmin(tx, caller)); err != nil {
			return err
		}
		if err := domain.CheckLength(opUpdateSystemStatus, "status", status, domain.MaxStatusLen); err != nil {
			return err
		}
		tx.SetStatus(status)
		_, err := tx.AppendEvent(domain.EventStatusChange, status, caller.Principal)
		return err
	})
}

// UpdateSystemVersion replaces the system version. Owner only.
func (s *Service) UpdateSystemVersion(ctx context.Context, caller Caller, version string) (Result, error) {
	return s.mutate(ctx, opUpdateSystemVersion, caller, "version", func(tx Transaction) error {
		if err := authorize(opUpdateSystemVersion, caller, isOwner(tx, caller)); err != nil {
			return err
		}
		if err := domain.CheckLength(opUpdateSystemVersion, "version", version, domain.MaxVersionLen); err != nil {
			return err
		}
		tx.SetVersion(version)
		_, err := tx.AppendEvent(domain.EventVersionUpdate, version, caller.Principal)
		return err
	})
}

// SystemConfig returns the owner, status, version and schema version.
func (s *Service) SystemConfig(ctx context.Context) domain.SystemConfig {
	var cfg domain.SystemConfig
	s.view(ctx, func(v TransactionView) { cfg = v.Config() })
	return cfg
}

// SystemStatus returns the operational status.
func (s *Service) SystemStatus(ctx context.Context) string { return s.SystemConfig(ctx).Status }

// SystemVersion returns the system version.
func (s *Service) SystemVersion(ctx context.Context) string { return s.SystemConfig(ctx).Version }

// Owner returns the current owner.
func (s *Service) Owner(ctx context.Context) ActorID { return s.SystemConfig(ctx).Owner }

// Administrators lists the administrator set in identity order.
func (s *Service) Administrators(ctx context.Context) []ActorID {
	var out []ActorID
	s.view(ctx, func(v TransactionView) { out = v.Administrators() })
	return out
}

// AuthorizedCallers lists the whitelisted components in identity order.
func (s *Service) AuthorizedCallers(ctx context.Context) []ActorID {
	var out []ActorID
	s.view(ctx, func(v TransactionView) { out = v.AuthorizedCallers() })
	return out
}

// IsOwner reports whether actor is the owner.
func (s *Service) IsOwner(ctx context.Context, actor ActorID) bool {
	return s.Roles(ctx, domain.Direct(actor)).Owner
}

// IsAdministrator reports whether actor holds the administrator role.
func (s *Service) IsAdministrator(ctx context.Context, actor ActorID) bool {
	return s.Roles(ctx, domain.Direct(actor)).Administrator
}

// IsAuthorizedCaller reports whether component is whitelisted.
func (s *Service) IsAuthorizedCaller(ctx context.Context, component ActorID) bool {
	return s.Roles(ctx, domain.Direct(component)).AuthorizedCaller
}

// IsRegulatoryAgency reports whether actor is bound to a registered agency.
func (s *Service) IsRegulatoryAgency(ctx context.Context, actor ActorID) bool {
	return s.Roles(ctx, domain.Direct(actor)).RegulatoryAgency
}

// Roles holds the predicates that hold for a caller, read from one snapshot.
type Roles struct {
	Owner            bool   `json:"owner"`
	Administrator    bool   `json:"administrator"`
	AuthorizedCaller bool   `json:"authorized_caller"`
	RegulatoryAgency bool   `json:"regulatory_agency"`
	AgencyID         string `json:"agency_id,omitempty"`
}

// Roles returns the predicates that hold for caller.
func (s *Service) Roles(ctx context.Context, caller Caller) Roles {
	var r Roles
	s.view(ctx, func(v TransactionView) {
		r.Owner = isOwner(v, caller)
		r.Administrator = isAdministrator(v, caller)
		r.AuthorizedCaller = isAuthorizedCaller(v, caller)
		r.RegulatoryAgency = isRegulatoryAgency(v, caller)
		if r.RegulatoryAgency {
			r.AgencyID, _ = v.AgencyIDForActor(caller.Principal)
		}
	})
	return r
}
