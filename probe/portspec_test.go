package probe

import (
	"errors"
	"testing"

	"github.com/lathiat/poolmon/consts"
)

func TestParsePortSpec(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		tls     bool
		want    PortSpec
		wantErr bool
	}{
		{
			name:  "imap inferred from 143",
			input: "143",
			want:  PortSpec{Port: 143, Protocol: ProtocolIMAP},
		},
		{
			name:  "imap inferred from 993",
			input: "993",
			tls:   true,
			want:  PortSpec{Port: 993, Protocol: ProtocolIMAP, TLS: true},
		},
		{
			name:  "pop3 inferred from 110",
			input: "110",
			want:  PortSpec{Port: 110, Protocol: ProtocolPOP3},
		},
		{
			name:  "pop3 inferred from 995",
			input: "995",
			tls:   true,
			want:  PortSpec{Port: 995, Protocol: ProtocolPOP3, TLS: true},
		},
		{
			name:  "unrecognized port gets banner probe",
			input: "24",
			want:  PortSpec{Port: 24, Protocol: ProtocolUnknown},
		},
		{
			name:  "explicit prefix overrides inference",
			input: "IMAP:10143",
			want:  PortSpec{Port: 10143, Protocol: ProtocolIMAP},
		},
		{
			name:  "explicit prefix overrides well-known port",
			input: "POP3:143",
			want:  PortSpec{Port: 143, Protocol: ProtocolPOP3},
		},
		{
			name:  "prefix is case-insensitive",
			input: "pop3:10110",
			want:  PortSpec{Port: 10110, Protocol: ProtocolPOP3},
		},
		{
			name:  "surrounding whitespace",
			input: " IMAP:143 ",
			want:  PortSpec{Port: 143, Protocol: ProtocolIMAP},
		},
		{
			name:    "unknown prefix",
			input:   "SMTP:25",
			wantErr: true,
		},
		{
			name:    "not a number",
			input:   "imap",
			wantErr: true,
		},
		{
			name:    "port zero",
			input:   "0",
			wantErr: true,
		},
		{
			name:    "port out of range",
			input:   "70000",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePortSpec(tt.input, tt.tls)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %+v", tt.input, got)
				}
				if !errors.Is(err, consts.ErrInvalidPortSpec) {
					t.Errorf("expected ErrInvalidPortSpec, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParsePortSpec(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParsePortSpecs_PreservesOrder(t *testing.T) {
	specs, err := ParsePortSpecs([]string{"POP3:110", "143", "24"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 specs, got %d", len(specs))
	}
	if specs[0].Protocol != ProtocolPOP3 || specs[1].Protocol != ProtocolIMAP || specs[2].Protocol != ProtocolUnknown {
		t.Errorf("specs out of order: %v", specs)
	}
}

func TestParsePortSpecs_BadSpecFails(t *testing.T) {
	_, err := ParsePortSpecs([]string{"143", "bogus"}, false)
	if err == nil {
		t.Fatal("expected error for bad spec in list")
	}
}

func TestPortSpecString(t *testing.T) {
	tests := []struct {
		spec PortSpec
		want string
	}{
		{PortSpec{Port: 143, Protocol: ProtocolIMAP}, "IMAP:143"},
		{PortSpec{Port: 993, Protocol: ProtocolIMAP, TLS: true}, "IMAP:993/TLS"},
		{PortSpec{Port: 110, Protocol: ProtocolPOP3}, "POP3:110"},
		{PortSpec{Port: 24, Protocol: ProtocolUnknown}, "24"},
		{PortSpec{Port: 8443, Protocol: ProtocolUnknown, TLS: true}, "8443/TLS"},
	}
	for _, tt := range tests {
		if got := tt.spec.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
