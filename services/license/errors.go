package license

import (
	"errors"
	"fmt"

	"marinedesk-portal/pkg/errutil"
)

// QuotaExceededError is the caller-facing denial from TryReserve. Resource
// handlers must treat it as a hard stop and surface it to the operator;
// retrying cannot succeed until capacity is freed or the plan is upgraded.
type QuotaExceededError struct {
	Kind    ResourceKind
	Limit   int64
	Current int64
}

func (e QuotaExceededError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d of %d in use", e.Kind, e.Current, e.Limit)
}

func (e QuotaExceededError) Status() errutil.CoreStatus {
	return errutil.StatusTooManyRequests
}

// NoEffectiveLicenseError blocks all quota-governed creation for an
// organization without an active, unexpired license.
type NoEffectiveLicenseError struct {
	OrganizationID string
}

func (e NoEffectiveLicenseError) Error() string {
	return fmt.Sprintf("no effective license for organization %s", e.OrganizationID)
}

func (e NoEffectiveLicenseError) Status() errutil.CoreStatus {
	return errutil.StatusForbidden
}

// DuplicateLicenseKeyError signals a generated key collided with an existing
// one. It is recovered internally by regenerating the key; it never reaches
// API callers.
type DuplicateLicenseKeyError struct {
	LicenseKey string
}

func (e DuplicateLicenseKeyError) Error() string {
	return fmt.Sprintf("license key already exists: %s", e.LicenseKey)
}

// IsQuotaExceeded reports whether err is a quota denial.
func IsQuotaExceeded(err error) bool {
	var qe QuotaExceededError
	return errors.As(err, &qe)
}

// IsNoEffectiveLicense reports whether err is a missing/invalid license denial.
func IsNoEffectiveLicense(err error) bool {
	var ne NoEffectiveLicenseError
	return errors.As(err, &ne)
}
