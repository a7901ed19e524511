package action

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

type fakeAction struct {
	Base
}

func (a *fakeAction) Run(context.Context, *StepContext) (Result, error) {
	return Result{Status: StatusCompleted}, nil
}

func newFakeAction(id string) *fakeAction {
	base := NewBase(Info{ID: id, Name: "Fake " + id, Version: "1.0.0"})
	return &fakeAction{Base: base}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("checkout", func(Config) (Action, error) {
		return newFakeAction("checkout"), nil
	})

	act, err := reg.Resolve("checkout", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if act.Info().ID != "checkout" {
		t.Fatalf("resolved id = %s", act.Info().ID)
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	reg := NewRegistry()
	factory := func(Config) (Action, error) { return newFakeAction("checkout"), nil }
	if err := reg.Register("checkout", factory); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := reg.Register("checkout", factory)
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("err = %v, want duplicate rejection", err)
	}
}

func TestRegistryUnknownID(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Resolve("setup-conda", nil); err == nil {
		t.Fatal("expected unknown id error")
	}
	if reg.Known("setup-conda") {
		t.Fatal("Known must be false for unregistered ids")
	}
}

func TestRegistryRejectsInvalidInfo(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("broken", func(Config) (Action, error) {
		return &fakeAction{Base: NewBase(Info{ID: "broken"})}, nil
	})
	if _, err := reg.Resolve("broken", nil); err == nil {
		t.Fatal("expected info validation error")
	}
}

func TestRegistryIDsSorted(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"upload-artifact", "checkout", "setup-conda"} {
		id := id
		reg.MustRegister(id, func(Config) (Action, error) { return newFakeAction(id), nil })
	}
	want := []string{"checkout", "setup-conda", "upload-artifact"}
	if got := reg.IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}
}

func TestStepContextExportsSharedAcrossViews(t *testing.T) {
	sc := &StepContext{exports: map[string]string{}}
	view := sc.WithParams(map[string]string{"activate-environment": "onstove-tests"})
	view.ExportEnv("CONDA_DEFAULT_ENV", "onstove-tests")

	exports := sc.Exports()
	if exports["CONDA_DEFAULT_ENV"] != "onstove-tests" {
		t.Fatalf("exports = %v, want the view's mutation visible on the root", exports)
	}
}

func TestStepContextBoolParam(t *testing.T) {
	sc := &StepContext{With: map[string]string{"auto-activate-base": "false"}}
	if sc.BoolParam("auto-activate-base", true) {
		t.Fatal(`"false" should parse to false`)
	}
	if !sc.BoolParam("missing", true) {
		t.Fatal("missing param should fall back to default")
	}
}
