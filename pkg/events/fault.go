package events

import (
	"errors"
	"fmt"
)

// Domain identifies which subsystem raised a Fault.
type Domain string

const (
	DomainAuth         Domain = "auth"
	DomainTransport    Domain = "transport"
	DomainSession      Domain = "session"
	DomainConfig       Domain = "config"
	DomainState        Domain = "state"
	DomainStorage      Domain = "storage"
	DomainInterruption Domain = "interruption"
	DomainCopilot      Domain = "copilot"
)

// Kind is a domain-scoped error code, e.g. "token_expired" in DomainAuth or
// "ice_failed" in DomainTransport. Kinds are plain strings rather than an
// enum so each domain can grow its own vocabulary without changing this
// package.
type Kind string

// Fault is the single error shape used across every fault domain in this
// module. Components never define their own sentinel error types; they
// construct a Fault with the right Domain/Kind/Retryable/Remediation and
// wrap it with fmt.Errorf("%w", ...) or return it directly. Callers recover
// structure with errors.As into a *Fault variable (var f *Fault;
// errors.As(err, &f)).
type Fault struct {
	Domain      Domain
	Kind        Kind
	Retryable   bool
	Remediation string
	Cause       error
}

func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s/%s: %v", f.Domain, f.Kind, f.Cause)
	}
	return fmt.Sprintf("%s/%s", f.Domain, f.Kind)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// NewFault builds a non-retryable fault. Use WithRetryable/WithRemediation
// to adjust it, or construct a Fault literal directly when every field is
// known up front.
func NewFault(domain Domain, kind Kind, cause error) *Fault {
	return &Fault{Domain: domain, Kind: kind, Cause: cause}
}

// WithRetryable returns a copy of f marked retryable/non-retryable.
func (f *Fault) WithRetryable(retryable bool) *Fault {
	g := *f
	g.Retryable = retryable
	return &g
}

// WithRemediation returns a copy of f carrying an operator-facing
// remediation hint.
func (f *Fault) WithRemediation(remediation string) *Fault {
	g := *f
	g.Remediation = remediation
	return &g
}

// IsRetryable reports whether err is a *Fault with Retryable set. A non-Fault
// error is treated as non-retryable: callers outside this module's fault
// taxonomy don't get an automatic retry.
func IsRetryable(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Retryable
	}
	return false
}
