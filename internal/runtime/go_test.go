package runtime

import (
	"strings"
	"testing"
)

func TestGoRuntime_Image(t *testing.T) {
	g := NewGoRuntime()
	if g.Image() != "golang:1.24-alpine" {
		t.Errorf("Image() = %q, want %q", g.Image(), "golang:1.24-alpine")
	}
}

func TestGoRuntime_Command(t *testing.T) {
	g := NewGoRuntime()
	cmd := g.Command("main.go")
	if len(cmd) != 3 {
		t.Fatalf("Command() len = %d, want 3", len(cmd))
	}
	if cmd[0] != "go" || cmd[1] != "run" || cmd[2] != "main.go" {
		t.Errorf("Command() = %v, want [go run main.go]", cmd)
	}
}

func TestGoRuntime_EnvKeepsCacheOnTmpfs(t *testing.T) {
	g := NewGoRuntime()
	var found bool
	for _, kv := range g.Env() {
		if strings.HasPrefix(kv, "GOCACHE=/tmp/") {
			found = true
		}
	}
	if !found {
		t.Errorf("Env() = %v, want GOCACHE under /tmp", g.Env())
	}
}

func TestGoRuntime_EnvIsCopied(t *testing.T) {
	g := NewGoRuntime()
	env := g.Env()
	env[0] = "MUTATED=1"
	if g.Env()[0] == "MUTATED=1" {
		t.Error("Env() returned the runtime's backing slice")
	}
}

func TestGoRuntime_RegisteredInRegistry(t *testing.T) {
	r := NewRegistry()
	rt, err := r.Get(Go)
	if err != nil {
		t.Fatalf("Get(go) = %v", err)
	}
	if rt.Language() != Go {
		t.Errorf("registered runtime language = %q, want %q", rt.Language(), Go)
	}
}
