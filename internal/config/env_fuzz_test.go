package config

import (
	"strings"
	"testing"
)

// FuzzMergedEnv fuzzes the env merge and ${VAR} expansion to ensure no
// panics and that output pairs stay well formed.
func FuzzMergedEnv(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))

	f.Fuzz(func(t *testing.T, globalB []byte, svcB []byte) {
		global := splitLines(string(globalB))
		svcEnv := splitLines(string(svcB))
		if len(global) > 20 {
			global = global[:20]
		}
		if len(svcEnv) > 20 {
			svcEnv = svcEnv[:20]
		}

		out := MergedEnv(global, Service{Env: svcEnv})
		for _, kv := range out {
			if !strings.Contains(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
			if strings.HasPrefix(kv, "=") {
				t.Fatalf("empty key: %q", kv)
			}
		}
		for i := 1; i < len(out); i++ {
			if out[i-1] > out[i] {
				t.Fatalf("output not sorted: %q before %q", out[i-1], out[i])
			}
		}
	})
}

func splitLines(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		out = append(out, ln)
	}
	return out
}
