package nodeaddr

import "testing"

func TestParseAddressRoundTrip(t *testing.T) {
	a, err := ParseAddress("1234::5678::9abc::def0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if uint64(a) != 0x123456789abcdef0 {
		t.Fatalf("got %x", uint64(a))
	}
	if got := a.String(); got != "1234::5678::9abc::def0" {
		t.Fatalf("round-trip string = %q", got)
	}
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	cases := []string{
		"1234::5678",
		"1234:5678:9abc:def0:aaaa",
		"xyzx::0000::0000::0000",
		"",
	}
	for _, c := range cases {
		if _, err := ParseAddress(c); err == nil {
			t.Fatalf("expected error for input %q", c)
		}
	}
}

func TestAddressZero(t *testing.T) {
	var a Address
	if !a.IsZero() {
		t.Fatalf("expected zero address to report IsZero")
	}
}

func TestGUUIDRoundTrip(t *testing.T) {
	g := GUUID{NetworkID: 0x1122334455667788, ServiceID: 0x99aabbccddeeff00}
	s := g.String()
	got, err := ParseGUUID(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != g {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, g)
	}
}

func TestGUUIDZero(t *testing.T) {
	var g GUUID
	if !g.IsZero() {
		t.Fatalf("expected zero GUUID")
	}
}
