package dnsutil

import (
	"github.com/miekg/dns"
)

// SetEDNS0Size ensures msg carries an OPT RR (creating one via NewOPT if absent) and sets its
// advertised UDP payload size. Callers are responsible for enforcing the floor/DNSSEC-minimum rules
// in constants.Constants - this function only applies whatever size it is given.
func SetEDNS0Size(msg *dns.Msg, size uint16) {
	opt := FindOPT(msg)
	if opt == nil {
		opt = NewOPT()
		msg.Extra = append(msg.Extra, opt)
	}
	opt.SetUDPSize(size)
}

// SetCheckingDisabled sets or clears the CD bit. The CD bit tells upstream
// servers the client intends to perform its own DNSSEC validation.
func SetCheckingDisabled(msg *dns.Msg, cd bool) {
	msg.CheckingDisabled = cd
}

// SetDNSSECOK ensures msg carries an OPT RR and sets the DO bit, requesting DNSSEC RRSIGs in the
// response so a Validator has material to chain-validate.
func SetDNSSECOK(msg *dns.Msg, do bool) {
	opt := FindOPT(msg)
	if opt == nil {
		opt = NewOPT()
		msg.Extra = append(msg.Extra, opt)
	}
	opt.SetDo(do)
}
