package vehicles

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"parkingbolid/pkg/store"
)

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (brokenStore) Set(context.Context, string, string) error {
	return errors.New("read-only")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		plate string
		ok    bool
		msg   string
	}{
		{"  bg-234-ab ", true, ""},
		{"ČA 123 ŠĐ", true, ""},
		{"   ", false, "required"},
		{"AB", false, "3 to 12"},
		{"ABCDEFGHIJKLM", false, "3 to 12"},
		{"BG_234", false, "only letters"},
	}
	for _, c := range cases {
		v, err := Validate(Vehicle{Plate: c.plate})
		if c.ok {
			if err != nil {
				t.Fatalf("%q: unexpected error %v", c.plate, err)
			}
			if v.Plate != strings.ToUpper(strings.TrimSpace(c.plate)) {
				t.Fatalf("%q: normalized to %q", c.plate, v.Plate)
			}
			continue
		}
		if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), c.msg) {
			t.Fatalf("%q: expected validation error containing %q, got %v", c.plate, c.msg, err)
		}
	}
}

func TestRegistryLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	r := NewRegistry(mem, zerolog.Nop())
	if err := r.Load(ctx); err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if _, ok := r.Selected(); ok {
		t.Fatalf("nothing should be selected")
	}
	if _, err := r.Add(ctx, Vehicle{Plate: "BG-234-AB", Nickname: " Golf "}); err != nil {
		t.Fatalf("add: %v", err)
	}
	r.Add(ctx, Vehicle{Plate: "NS-22-ZZ"})
	r.Add(ctx, Vehicle{Plate: "KG-4478-CC"})
	if v, _ := r.Selected(); v.Plate != "BG-234-AB" || v.Label() != "BG-234-AB (Golf)" {
		t.Fatalf("first vehicle should be selected, got %+v", v)
	}
	if _, err := r.Add(ctx, Vehicle{Plate: "x"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(r.List()) != 3 {
		t.Fatalf("invalid vehicle must not be stored")
	}

	if _, err := r.Select(2); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := r.Delete(ctx, 0); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v, _ := r.Selected(); v.Plate != "KG-4478-CC" {
		t.Fatalf("selection must follow the shifted vehicle, got %+v", v)
	}
	if err := r.Delete(ctx, 1); err != nil {
		t.Fatalf("delete selected: %v", err)
	}
	if v, _ := r.Selected(); v.Plate != "NS-22-ZZ" {
		t.Fatalf("deleting the selected vehicle selects the first, got %+v", v)
	}
	if _, err := r.Update(ctx, 0, Vehicle{Plate: "ns 22 zz", Nickname: "van"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.Delete(ctx, 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	reloaded := NewRegistry(mem, zerolog.Nop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	list := reloaded.List()
	if len(list) != 1 || list[0].Plate != "NS 22 ZZ" || list[0].Nickname != "van" {
		t.Fatalf("unexpected persisted list %+v", list)
	}
	if v, ok := reloaded.Selected(); !ok || v.Plate != "NS 22 ZZ" {
		t.Fatalf("first vehicle must be selected after load")
	}

	if err := reloaded.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if raw, _, _ := mem.Get(ctx, store.KeyVehicles); raw != "[]" {
		t.Fatalf("cleared list stored as %q", raw)
	}
}

func TestRegistryKeepsStateWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(brokenStore{}, zerolog.Nop())
	_, err := r.Add(ctx, Vehicle{Plate: "BG-234-AB"})
	if !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if len(r.List()) != 1 {
		t.Fatalf("in-memory list must keep the vehicle")
	}
}

func TestLoadRejectsCorruptList(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	mem.Set(ctx, store.KeyVehicles, "{not json")
	r := NewRegistry(mem, zerolog.Nop())
	if err := r.Load(ctx); !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}
