/*
Package validator defines the DNSSEC validator hand-off: given a message,
yield a SecurityLevel, or an error. The orchestrator invokes a Validator and turns its result into a
VALIDATED event; it never implements chain-of-trust validation itself.

This package ships NoOp, a pass-through default that classifies every message UNCHECKED, so the
library is usable without DNSSEC out of the box. A real RFC4035 chain-of-trust implementation can be
substituted by supplying any type meeting the Validator interface to the resolver's configuration.
*/
package validator

import (
	"context"

	"github.com/miekg/dns"
)

// SecurityLevel is the validator's verdict on a message.
type SecurityLevel int

const (
	Unchecked SecurityLevel = iota
	Insecure
	Secure
	Bogus
	Indeterminate
)

func (s SecurityLevel) String() string {
	switch s {
	case Unchecked:
		return "UNCHECKED"
	case Insecure:
		return "INSECURE"
	case Secure:
		return "SECURE"
	case Bogus:
		return "BOGUS"
	case Indeterminate:
		return "INDETERMINATE"
	default:
		return "UNKNOWN"
	}
}

// Validator is the external collaborator the orchestrator hands every successfully-received
// message to before emitting a terminal result.
type Validator interface {
	Validate(ctx context.Context, msg *dns.Msg) (*dns.Msg, SecurityLevel, error)
}

// NoOp is the zero-configuration default Validator: it performs no cryptographic validation and
// always reports Unchecked. Resolver.Config.DNSSEC still controls whether CD is set and EDNS0 is
// sized for DNSSEC responses; NoOp only governs what happens to the reply afterwards.
type NoOp struct{}

func (NoOp) Validate(_ context.Context, msg *dns.Msg) (*dns.Msg, SecurityLevel, error) {
	return msg, Unchecked, nil
}

// ReportAsError decides which SecurityLevel values the
// orchestrator reports as an error on the client's sink versus attaches to the returned message.
// SECURE/INSECURE/UNCHECKED are delivered as successful results with the level attached; BOGUS and
// INDETERMINATE are reported as rerrors.ErrValidation.
func ReportAsError(level SecurityLevel) bool {
	return level == Bogus || level == Indeterminate
}
