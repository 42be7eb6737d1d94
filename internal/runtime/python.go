package runtime

import "time"

// PythonRuntime configures execution of Python code.
type PythonRuntime struct {
	base
}

func NewPythonRuntime() *PythonRuntime {
	return &PythonRuntime{base{
		lang:       Python,
		image:      "python:3.11-alpine",
		entry:      "main.py",
		runTmpl:    "python3 " + EntryFileToken,
		syntaxTmpl: "python3 -m py_compile " + EntryFileToken,
		limits: Limits{
			MemoryBytes: 256 << 20,
			NanoCPUs:    1_000_000_000,
			PidsLimit:   DefaultPidsLimit,
			Timeout:     8 * time.Second,
		},
		env: []string{
			"PYTHONUNBUFFERED=1",
			"PYTHONDONTWRITEBYTECODE=1",
		},
		hello: `print("Hello, World!")`,
	}}
}
