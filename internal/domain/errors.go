package domain

import "errors"

// Validation and business-rule failures surfaced to callers.
var (
	ErrInvalidPricingPolicy       = errors.New("invalid pricing policy")
	ErrInvalidJoinCode            = errors.New("invalid join code")
	ErrBookingFull                = errors.New("booking is full")
	ErrDuplicateEmail             = errors.New("email already registered for this booking")
	ErrCannotRemoveOrganizer      = errors.New("organizer cannot be removed")
	ErrNotFound                   = errors.New("not found")
	ErrLinkNotFound               = errors.New("access link not found")
	ErrInvalidOrExpiredInvitation = errors.New("invalid or expired invitation")
	ErrForbidden                  = errors.New("not allowed to perform this operation")
	ErrInvalidRequest             = errors.New("invalid request")
)

// Infrastructure failures.
var (
	ErrPaymentProvider             = errors.New("payment provider error")
	ErrSignatureVerificationFailed = errors.New("signature verification failed")
	ErrConcurrentModification      = errors.New("booking was modified concurrently")
	ErrDuplicateEvent              = errors.New("payment event already processed")
	ErrJoinCodeTaken               = errors.New("join code already in use")
)

// IsUserFacing reports whether err should be shown to the caller as is.
func IsUserFacing(err error) bool {
	for _, target := range []error{
		ErrInvalidPricingPolicy, ErrInvalidJoinCode, ErrBookingFull, ErrDuplicateEmail,
		ErrCannotRemoveOrganizer, ErrNotFound, ErrLinkNotFound, ErrInvalidOrExpiredInvitation,
		ErrForbidden, ErrInvalidRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
