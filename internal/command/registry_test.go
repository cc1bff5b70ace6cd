package command

import (
	"context"
	"testing"
)

func noopHandler(reply string) Handler {
	return HandlerFunc(func(context.Context, *Env, *Invocation) (string, error) {
		return reply, nil
	})
}

func TestRegisterAndGetCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Descriptor{Name: "Ping", Source: SourceBuiltin, Handler: noopHandler("pong")})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	d, ok := r.Get("PING")
	if !ok {
		t.Fatal("expected lookup to succeed")
	}
	if d.Name != "ping" {
		t.Errorf("stored name = %q, want folded", d.Name)
	}
}

func TestFirstWriterWins(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Descriptor{Name: "roll", Source: SourceBuiltin, Handler: noopHandler("builtin")}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := r.Register(Descriptor{Name: "ROLL", Source: SourcePlugin, Handler: noopHandler("plugin")})
	if err == nil {
		t.Fatal("expected collision error")
	}

	d, _ := r.Get("roll")
	reply, _ := d.Handler.Invoke(context.Background(), nil, nil)
	if reply != "builtin" {
		t.Errorf("active handler = %q, want first registered", reply)
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Descriptor{Name: "", Handler: noopHandler("")}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := r.Register(Descriptor{Name: "x"}); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestAllSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"weather", "air", "ping"} {
		if err := r.Register(Descriptor{Name: name, Source: SourceBuiltin, Handler: noopHandler("")}); err != nil {
			t.Fatalf("Register(%s) failed: %v", name, err)
		}
	}

	names := r.Names()
	want := []string{"air", "ping", "weather"}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], n)
		}
	}
}
