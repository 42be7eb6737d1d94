package runtime

import "time"

// CppRuntime compiles main.cpp with g++ and runs the binary.
type CppRuntime struct {
	base
}

func NewCppRuntime() *CppRuntime {
	return &CppRuntime{base{
		lang:       Cpp,
		image:      "gcc:13.2",
		entry:      "main.cpp",
		runTmpl:    `sh -c "g++ ` + EntryFileToken + ` -o main && ./main"`,
		syntaxTmpl: "g++ -fsyntax-only " + EntryFileToken,
		limits: Limits{
			MemoryBytes: 512 << 20,
			NanoCPUs:    1_500_000_000,
			PidsLimit:   DefaultPidsLimit,
			Timeout:     12 * time.Second,
		},
		hello: `#include <iostream>

int main() {
    std::cout << "Hello, World!" << std::endl;
    return 0;
}`,
	}}
}
