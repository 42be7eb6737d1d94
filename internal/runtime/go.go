package runtime

import "time"

// GoRuntime configures execution of Go code.
type GoRuntime struct {
	base
}

func NewGoRuntime() *GoRuntime {
	return &GoRuntime{base{
		lang:       Go,
		image:      "golang:1.24-alpine",
		entry:      "main.go",
		runTmpl:    "go run " + EntryFileToken,
		syntaxTmpl: "go vet " + EntryFileToken,
		limits: Limits{
			MemoryBytes: 512 << 20,
			NanoCPUs:    1_500_000_000,
			PidsLimit:   DefaultPidsLimit,
			Timeout:     20 * time.Second,
		},
		// Root filesystem is read-only; the build cache lives on the /tmp tmpfs.
		env: []string{
			"HOME=/tmp",
			"GOCACHE=/tmp/go-build",
			"GOPATH=/tmp/go",
			"GOTOOLCHAIN=local",
			"CGO_ENABLED=0",
		},
		hello: `package main

import "fmt"

func main() {
	fmt.Println("Hello, World!")
}`,
	}}
}
