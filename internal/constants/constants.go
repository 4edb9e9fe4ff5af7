/*
Package constants provides common values used across all stubresolver packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typically usage:

    consts := constants.Get()
    fmt.Println("I am", consts.DigProgramName, "based on", consts.RFC)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

// Constants contains the system-wide constants
type Constants struct {
	DigProgramName       string
	ResolverdProgramName string // Package related constants
	Version              string
	PackageName          string
	PackageURL           string
	RFC                  string

	AcceptHeader      string // Place in every DoH request
	ContentTypeHeader string
	UserAgentHeader   string

	Rfc8484AcceptValue string
	Rfc8484Path        string
	Rfc8484QueryParam  string

	DNSDefaultPort          string // DNS Related constants
	DoHDefaultPort          string
	MinimumViableDNSMessage uint // MsgHdr + one Question with zero length name
	MaximumViableDNSMessage uint // RFC8484 defines an upper limit
	Rfc8467ClientPadModulo  uint
	Rfc8467ServerPadModulo  uint

	MinimumUDPSize uint // Absolute floor for udp_size regardless of DNSSEC
	DNSSECUDPSize  uint // Forced minimum udp_size once DNSSEC is enabled

	DefaultPacketTimeoutSeconds int
	DefaultRetryTimes           int
	DefaultRetryDelaySeconds    int

	DNSUDPTransport string // Suitable for the "net" package, but just to make sure we're
	DNSTCPTransport string // consistent across the whole package.
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set. The main reason for returning a struct is so that callers can
// inspect and/or use packages that introspect - particularly */template packages.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		DigProgramName:       "stubdig",
		ResolverdProgramName: "stubresolverd",
		Version:              "v0.1.0",
		PackageName:          "Stub Resolver",
		PackageURL:           "https://github.com/markdingo/stubresolver",
		RFC:                  "RFC1035/RFC4035/RFC8484",

		AcceptHeader:      "Accept",
		ContentTypeHeader: "Content-Type",
		UserAgentHeader:   "User-Agent",

		Rfc8484AcceptValue: "application/dns-message",
		Rfc8484Path:        "/dns-query",
		Rfc8484QueryParam:  "dns",

		DNSDefaultPort:          "53",
		DoHDefaultPort:          "443",
		MinimumViableDNSMessage: 16, // A legit binary DNS Message *cannot* be shorter than this
		MaximumViableDNSMessage: 65535,
		Rfc8467ClientPadModulo:  128,
		Rfc8467ServerPadModulo:  468,

		MinimumUDPSize: 1220,
		DNSSECUDPSize:  4096,

		DefaultPacketTimeoutSeconds: 10,
		DefaultRetryTimes:           4,
		DefaultRetryDelaySeconds:    5,

		DNSUDPTransport: "udp",
		DNSTCPTransport: "tcp",
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constant struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
