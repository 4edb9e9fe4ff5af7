package validator

import (
	"context"
	"testing"

	"github.com/miekg/dns"
)

func TestNoOpPassesThrough(t *testing.T) {
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	out, level, err := NoOp{}.Validate(context.Background(), msg)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if out != msg {
		t.Error("NoOp did not return the message unchanged")
	}
	if level != Unchecked {
		t.Errorf("level = %v, want Unchecked", level)
	}
}

func TestReportAsError(t *testing.T) {
	cases := []struct {
		level SecurityLevel
		want  bool
	}{
		{Unchecked, false},
		{Insecure, false},
		{Secure, false},
		{Bogus, true},
		{Indeterminate, true},
	}
	for _, tc := range cases {
		if got := ReportAsError(tc.level); got != tc.want {
			t.Errorf("ReportAsError(%v) = %v, want %v", tc.level, got, tc.want)
		}
	}
}

func TestSecurityLevelString(t *testing.T) {
	cases := []struct {
		level SecurityLevel
		want  string
	}{
		{Unchecked, "UNCHECKED"},
		{Insecure, "INSECURE"},
		{Secure, "SECURE"},
		{Bogus, "BOGUS"},
		{Indeterminate, "INDETERMINATE"},
		{SecurityLevel(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("String(%d) = %q, want %q", int(tc.level), got, tc.want)
		}
	}
}
