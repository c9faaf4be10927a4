package capability

import (
	"context"
	"testing"
	"time"

	"github.com/tiangong-ai/workspace/pkg/errors"
)

func echoDescriptor(name string) Descriptor {
	return Descriptor{
		Name:        name,
		Description: "echoes its input",
		SideEffect:  Pure,
		Enabled:     true,
		Input: Schema{Args: map[string]ArgDef{
			"text": {Type: "string", Required: true},
		}},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"text": args["text"]}, nil
		},
	}
}

func TestRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(0)
	if err := reg.Register(echoDescriptor("echo")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	d, err := reg.Resolve("echo")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if d.Name != "echo" || d.SideEffect != Pure || !d.Enabled {
		t.Errorf("resolved descriptor does not match registered one: %+v", d)
	}
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	reg := NewRegistry(0)
	if err := reg.Register(echoDescriptor("echo")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	err := reg.Register(echoDescriptor("echo"))
	if err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Errorf("expected validation error, got %v", errors.CodeOf(err))
	}
}

func TestRegisterMalformedSchemaFails(t *testing.T) {
	d := echoDescriptor("bad")
	d.Input = Schema{Args: map[string]ArgDef{
		"text": {Type: "blob"},
	}}
	err := NewRegistry(0).Register(d)
	if err == nil {
		t.Fatalf("expected malformed schema to be rejected")
	}
}

func TestRegisterUnknownSideEffectFails(t *testing.T) {
	d := echoDescriptor("bad")
	d.SideEffect = SideEffect("cosmic")
	if err := NewRegistry(0).Register(d); err == nil {
		t.Fatalf("expected unknown side-effect class to be rejected")
	}
}

func TestResolveUnknownCapability(t *testing.T) {
	_, err := NewRegistry(0).Resolve("missing")
	if errors.CodeOf(err) != errors.CodeNotFound {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestListFilters(t *testing.T) {
	reg := NewRegistry(0)
	a := echoDescriptor("alpha")
	b := echoDescriptor("bravo")
	b.Enabled = false
	c := echoDescriptor("charlie")
	c.SideEffect = ExecutesCode
	for _, d := range []Descriptor{a, b, c} {
		if err := reg.Register(d); err != nil {
			t.Fatalf("register %s failed: %v", d.Name, err)
		}
	}

	enabled := reg.List(Filter{EnabledOnly: true})
	if len(enabled) != 2 {
		t.Errorf("expected 2 enabled capabilities, got %d", len(enabled))
	}
	execs := reg.List(Filter{SideEffect: ExecutesCode})
	if len(execs) != 1 || execs[0].Name != "charlie" {
		t.Errorf("expected side-effect filter to match charlie, got %+v", execs)
	}
	all := reg.List(Filter{})
	if len(all) != 3 || all[0].Name != "alpha" {
		t.Errorf("expected sorted full listing, got %+v", all)
	}
}

func TestSchemaValidation(t *testing.T) {
	s := &Schema{Args: map[string]ArgDef{
		"query": {Type: "string", Required: true},
		"limit": {Type: "number", Default: float64(10)},
		"mode":  {Type: "string", Enum: []string{"read", "write"}},
	}}

	t.Run("applies defaults", func(t *testing.T) {
		out, err := s.Validate(map[string]any{"query": "solar"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out["limit"] != float64(10) {
			t.Errorf("expected default limit applied, got %v", out["limit"])
		}
	})

	t.Run("missing required", func(t *testing.T) {
		if _, err := s.Validate(map[string]any{}); err == nil {
			t.Errorf("expected missing required field to fail")
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		if _, err := s.Validate(map[string]any{"query": 7}); err == nil {
			t.Errorf("expected wrong type to fail")
		}
	})

	t.Run("enum", func(t *testing.T) {
		if _, err := s.Validate(map[string]any{"query": "x", "mode": "delete"}); err == nil {
			t.Errorf("expected enum violation to fail")
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		if _, err := s.Validate(map[string]any{"query": "x", "bogus": 1}); err == nil {
			t.Errorf("expected unknown field to fail closed")
		}
	})
}

func TestInvokeEnvelopeInvariant(t *testing.T) {
	reg := NewRegistry(time.Second)
	if err := reg.Register(echoDescriptor("echo")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	ok := reg.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	if !ok.Valid() || !ok.IsOK() {
		t.Errorf("expected valid ok envelope, got %+v", ok)
	}
	if ok.Metadata.TraceID == "" {
		t.Errorf("expected trace id on success")
	}

	bad := reg.Invoke(context.Background(), "echo", map[string]any{})
	if !bad.Valid() || bad.IsOK() {
		t.Errorf("expected valid error envelope, got %+v", bad)
	}
	missing := reg.Invoke(context.Background(), "nope", nil)
	if missing.Error == nil || missing.Error.Kind != string(errors.CodeNotFound) {
		t.Errorf("expected not-found envelope, got %+v", missing)
	}
}

func TestInvokeDisabledCapability(t *testing.T) {
	reg := NewRegistry(0)
	d := echoDescriptor("echo")
	d.Enabled = false
	if err := reg.Register(d); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	env := reg.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	if env.IsOK() {
		t.Errorf("expected disabled capability to be rejected")
	}
}

func TestOutputValidationFailsClosed(t *testing.T) {
	reg := NewRegistry(0)
	d := Descriptor{
		Name:       "lookup",
		SideEffect: ReadExternal,
		Enabled:    true,
		Input:      Schema{Args: map[string]ArgDef{"id": {Type: "string", Required: true}}},
		Output: Schema{Args: map[string]ArgDef{
			"record": {Type: "object", Required: true},
		}},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			// Violates the declared output schema.
			return map[string]any{"record": "not-an-object"}, nil
		},
	}
	if err := reg.Register(d); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	env := reg.Invoke(context.Background(), "lookup", map[string]any{"id": "a"})
	if env.IsOK() {
		t.Fatalf("expected non-conforming output to be rejected")
	}
	if env.Error.Kind != string(errors.CodeInvalidInput) {
		t.Errorf("expected validation error kind, got %s", env.Error.Kind)
	}
}

func TestDispatchHonorsTimeout(t *testing.T) {
	reg := NewRegistry(0)
	d := Descriptor{
		Name:       "slow",
		SideEffect: Pure,
		Enabled:    true,
		Timeout:    20 * time.Millisecond,
		Input:      Schema{},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	if err := reg.Register(d); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	env := reg.Invoke(context.Background(), "slow", nil)
	if env.IsOK() {
		t.Fatalf("expected timeout envelope")
	}
	if env.Error.Kind != string(errors.CodeTimeout) {
		t.Errorf("expected timeout kind, got %s", env.Error.Kind)
	}
}
