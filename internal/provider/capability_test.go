package provider

import (
	"encoding/json"
	"testing"
)

func TestCapabilitySet_HasAndList(t *testing.T) {
	s := Capabilities(CapQuote, CapEconomy)
	if !s.Has(CapQuote) || !s.Has(CapEconomy) {
		t.Fatalf("expected quote and economy in %s", s)
	}
	if s.Has(CapHistorical) {
		t.Fatalf("unexpected historical in %s", s)
	}
	s = s.With(CapHistorical)
	got := s.Strings()
	want := []string{"quote", "historical", "economy"}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}

func TestParseCapability_RoundTrip(t *testing.T) {
	for _, c := range []Capability{CapQuote, CapHistorical, CapFundamentals, CapOptions, CapForex, CapFutures, CapEconomy} {
		got, err := ParseCapability(" " + c.String() + " ")
		if err != nil || got != c {
			t.Fatalf("parse %s: got %v err %v", c, got, err)
		}
	}
	if _, err := ParseCapability("crypto"); err == nil {
		t.Fatalf("expected error for unknown capability")
	}
}

func TestCapabilitySet_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Capabilities(CapForex, CapQuote))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `["quote","forex"]` {
		t.Fatalf("unexpected json: %s", b)
	}
}
