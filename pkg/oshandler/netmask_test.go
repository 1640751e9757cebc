package oshandler

import (
	"testing"

	"pgregory.net/rapid"
)

func TestPrefixToNetmask(t *testing.T) {
	tests := []struct {
		name    string
		prefix  int
		want    string
		wantErr bool
	}{
		{name: "zero", prefix: 0, want: "0.0.0.0"},
		{name: "classA", prefix: 8, want: "255.0.0.0"},
		{name: "classB", prefix: 16, want: "255.255.0.0"},
		{name: "classC", prefix: 24, want: "255.255.255.0"},
		{name: "split", prefix: 25, want: "255.255.255.128"},
		{name: "pointToPoint", prefix: 30, want: "255.255.255.252"},
		{name: "host", prefix: 32, want: "255.255.255.255"},
		{name: "negative", prefix: -1, wantErr: true},
		{name: "tooLarge", prefix: 33, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PrefixToNetmask(tt.prefix)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("PrefixToNetmask(%d) expected error, got %q", tt.prefix, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("PrefixToNetmask(%d) returned error: %v", tt.prefix, err)
			}
			if got != tt.want {
				t.Errorf("PrefixToNetmask(%d) = %q, want %q", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestNetmaskToPrefix(t *testing.T) {
	tests := []struct {
		name    string
		netmask string
		want    int
		wantErr bool
	}{
		{name: "classC", netmask: "255.255.255.0", want: 24},
		{name: "classA", netmask: "255.0.0.0", want: 8},
		{name: "host", netmask: "255.255.255.255", want: 32},
		{name: "empty", netmask: "", wantErr: true},
		{name: "tooFewOctets", netmask: "255.255.255", wantErr: true},
		{name: "nonNumeric", netmask: "255.255.a.0", wantErr: true},
		{name: "nonContiguous", netmask: "255.0.255.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NetmaskToPrefix(tt.netmask)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NetmaskToPrefix(%q) expected error, got %d", tt.netmask, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NetmaskToPrefix(%q) returned error: %v", tt.netmask, err)
			}
			if got != tt.want {
				t.Errorf("NetmaskToPrefix(%q) = %d, want %d", tt.netmask, got, tt.want)
			}
		})
	}
}

func TestNetmaskRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := rapid.IntRange(0, 32).Draw(t, "prefix")

		mask, err := PrefixToNetmask(prefix)
		if err != nil {
			t.Fatalf("PrefixToNetmask(%d) returned error: %v", prefix, err)
		}

		back, err := NetmaskToPrefix(mask)
		if err != nil {
			t.Fatalf("NetmaskToPrefix(%q) returned error: %v", mask, err)
		}
		if back != prefix {
			t.Fatalf("round trip %d -> %q -> %d", prefix, mask, back)
		}
	})
}
