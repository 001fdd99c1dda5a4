package core

import (
	"context"

	"tracecore/pkg/domain"
)

const opSetThreshold = "set_threshold"

// SetThreshold creates or replaces the threshold for a parameter. Owner,
// administrator or a registered regulatory agency. No ordering is enforced
// between min, max and critical.
func (s *Service) SetThreshold(ctx context.Context, caller Caller, threshold domain.Threshold) (domain.Threshold, error) {
	_, err := s.mutate(ctx, opSetThreshold, caller, threshold.ParameterID, func(tx Transaction) error {
		allowed := isOwner(tx, caller) || isAdministrator(tx, caller) || isRegulatoryAgency(tx, caller)
		if err := authorize(opSetThreshold, caller, allowed); err != nil {
			return err
		}
		if err := threshold.Validate(opSetThreshold); err != nil {
			return err
		}
		tx.PutThreshold(threshold)
		_, err := tx.AppendEvent(domain.EventThresholdSet, threshold.ParameterID, caller.Principal)
		return err
	})
	if err != nil {
		return domain.Threshold{}, err
	}
	return threshold, nil
}

// GetThreshold returns the threshold for parameterID.
func (s *Service) GetThreshold(ctx context.Context, parameterID string) (domain.Threshold, bool) {
	var (
		t  domain.Threshold
		ok bool
	)
	s.view(ctx, func(v TransactionView) { t, ok = v.FindThreshold(parameterID) })
	return t, ok
}

// ListThresholds returns every threshold ordered by parameter id.
func (s *Service) ListThresholds(ctx context.Context) []domain.Threshold {
	var out []domain.Threshold
	s.view(ctx, func(v TransactionView) { out = v.ListThresholds() })
	return out
}

// IsWithinThreshold reports min <= value <= max. An unset parameter is never within.
func (s *Service) IsWithinThreshold(ctx context.Context, parameterID string, value int64) bool {
	t, ok := s.GetThreshold(ctx, parameterID)
	return ok && t.Within(value)
}

// IsCriticalViolation reports value >= critical. An unset parameter never
// violates. The comparison does not change for parameters whose danger lies
// below the critical level.
func (s *Service) IsCriticalViolation(ctx context.Context, parameterID string, value int64) bool {
	t, ok := s.GetThreshold(ctx, parameterID)
	return ok && t.IsCritical(value)
}

// Evaluate classifies value against the parameter's threshold in one read.
func (s *Service) Evaluate(ctx context.Context, parameterID string, value int64) domain.ThresholdStatus {
	t, ok := s.GetThreshold(ctx, parameterID)
	if !ok {
		return domain.ThresholdUnset
	}
	return t.Classify(value)
}
