package runtime

import "time"

// JavaRuntime compiles Main.java and runs the Main class.
type JavaRuntime struct {
	base
}

func NewJavaRuntime() *JavaRuntime {
	return &JavaRuntime{base{
		lang:       Java,
		image:      "eclipse-temurin:21-jdk",
		entry:      "Main.java",
		runTmpl:    `sh -c "javac ` + EntryFileToken + ` && java Main"`,
		syntaxTmpl: "javac " + EntryFileToken,
		limits: Limits{
			MemoryBytes: 512 << 20,
			NanoCPUs:    1_500_000_000,
			PidsLimit:   DefaultPidsLimit,
			Timeout:     12 * time.Second,
		},
		hello: `public class Main {
    public static void main(String[] args) {
        System.out.println("Hello, World!");
    }
}`,
	}}
}
