package runtime

import "time"

const nodeImage = "node:20-alpine"

var nodeLimits = Limits{
	MemoryBytes: 256 << 20,
	NanoCPUs:    1_000_000_000,
	PidsLimit:   DefaultPidsLimit,
	Timeout:     8 * time.Second,
}

// JavaScriptRuntime runs plain JavaScript under Node.js.
type JavaScriptRuntime struct {
	base
}

func NewJavaScriptRuntime() *JavaScriptRuntime {
	return &JavaScriptRuntime{base{
		lang:       JavaScript,
		image:      nodeImage,
		entry:      "main.js",
		runTmpl:    "node " + EntryFileToken,
		syntaxTmpl: "node --check " + EntryFileToken,
		limits:     nodeLimits,
		hello:      `console.log("Hello, World!")`,
	}}
}

// TypeScriptRuntime runs TypeScript that was transpiled to main.js on the
// host. It has no container syntax check; diagnostics come from the
// in-process transpiler.
type TypeScriptRuntime struct {
	base
}

func NewTypeScriptRuntime() *TypeScriptRuntime {
	return &TypeScriptRuntime{base{
		lang:    TypeScript,
		image:   nodeImage,
		entry:   "main.ts",
		runTmpl: "node main.js",
		limits:  nodeLimits,
		hello:   `console.log("Hello, World!")`,
	}}
}

func (t *TypeScriptRuntime) RunTarget() string { return "main.js" }
