package payment

import (
	"errors"
	"testing"

	"parkingbolid/pkg/refdata"
	"parkingbolid/pkg/vehicles"
)

func TestCompose(t *testing.T) {
	zone := &refdata.PayZone{ID: "bg-crvena", ShortLabel: "Crvena", FullLabel: "Crvena zona, 60 min", SMSNumber: "9111"}
	in, err := Compose(zone, &vehicles.Vehicle{Plate: "BG 234-AB"})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if in.Number != "9111" || in.Body != "BG234AB" || in.URI != "sms:9111?body=BG234AB" {
		t.Fatalf("unexpected intent %+v", in)
	}
	if in.Zone != "Crvena zona, 60 min" {
		t.Fatalf("zone label = %q", in.Zone)
	}

	in, _ = Compose(zone, &vehicles.Vehicle{Plate: "ČA 123 ŠĐ"})
	if in.Body != "ČA123ŠĐ" || in.URI != "sms:9111?body=%C4%8CA123%C5%A0%C4%90" {
		t.Fatalf("diacritics must survive and be escaped in the uri: %+v", in)
	}
}

func TestComposeRequiresSelection(t *testing.T) {
	zone := &refdata.PayZone{ID: "z", SMSNumber: "9111"}
	v := &vehicles.Vehicle{Plate: "BG234AB"}
	cases := []struct {
		zone *refdata.PayZone
		v    *vehicles.Vehicle
	}{
		{nil, v},
		{zone, nil},
		{&refdata.PayZone{ID: "z"}, v},
		{zone, &vehicles.Vehicle{Plate: " - "}},
	}
	for i, c := range cases {
		if _, err := Compose(c.zone, c.v); !errors.Is(err, ErrMissingSelection) {
			t.Fatalf("case %d: expected ErrMissingSelection, got %v", i, err)
		}
	}
}
