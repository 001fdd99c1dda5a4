package domain

import (
	"fmt"
	"unicode/utf8"
)

// Field length limits in bytes.
const (
	MaxAgencyIDLen     = 32
	MaxAgencyNameLen   = 64
	MaxJurisdictionLen = 32
	MaxParameterIDLen  = 32
	MaxUnitLen         = 16
	MaxEventTypeLen    = 32
	MaxEventPayloadLen = 256
	MaxStatusLen       = 20
	MaxVersionLen      = 10
)

// CheckIdentifier rejects empty values and values longer than limit.
func CheckIdentifier(op, field, value string, limit int) error {
	if value == "" {
		return InvalidParameter(op, field, "must not be empty")
	}
	return CheckLength(op, field, value, limit)
}

// CheckLength rejects values longer than limit bytes and values that are not
// valid UTF-8. JSON encoding would otherwise rewrite invalid bytes as U+FFFD,
// so the stored record and its hash would no longer match what was written.
func CheckLength(op, field, value string, limit int) error {
	if len(value) > limit {
		return InvalidParameter(op, field, fmt.Sprintf("length %d exceeds %d", len(value), limit))
	}
	if !utf8.ValidString(value) {
		return InvalidParameter(op, field, "must be valid UTF-8")
	}
	return nil
}

// CheckActor rejects the empty identity and identities that are not valid
// UTF-8.
func CheckActor(op, field string, actor ActorID) error {
	if actor == "" {
		return InvalidParameter(op, field, "actor identity must not be empty")
	}
	if !utf8.ValidString(string(actor)) {
		return InvalidParameter(op, field, "actor identity must be valid UTF-8")
	}
	return nil
}

// Validate checks the agency's field limits.
func (a Agency) Validate(op string) error {
	if err := CheckIdentifier(op, "agency_id", a.ID, MaxAgencyIDLen); err != nil {
		return err
	}
	if err := CheckActor(op, "actor", a.Actor); err != nil {
		return err
	}
	if err := CheckLength(op, "name", a.Name, MaxAgencyNameLen); err != nil {
		return err
	}
	return CheckLength(op, "jurisdiction", a.Jurisdiction, MaxJurisdictionLen)
}

// Validate checks the threshold's field limits.
func (t Threshold) Validate(op string) error {
	if err := CheckIdentifier(op, "parameter_id", t.ParameterID, MaxParameterIDLen); err != nil {
		return err
	}
	return CheckLength(op, "unit", t.Unit, MaxUnitLen)
}
