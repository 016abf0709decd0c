package lifecycle

import (
	"runtime"
	"strings"
	"testing"
)

func TestBuildCommandDirect(t *testing.T) {
	cmd := BuildCommand("echo hi there")
	if len(cmd.Args) != 3 || cmd.Args[0] != "echo" || cmd.Args[1] != "hi" || cmd.Args[2] != "there" {
		t.Fatalf("unexpected args: %v", cmd.Args)
	}
}

func TestBuildCommandShellMeta(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell expectations")
	}
	cmd := BuildCommand("echo hi && echo bye")
	if cmd.Args[0] != "/bin/sh" || cmd.Args[1] != "-c" {
		t.Fatalf("metacharacter command must run under /bin/sh -c, got %v", cmd.Args)
	}
	if cmd.Args[2] != "echo hi && echo bye" {
		t.Fatalf("script not passed verbatim: %q", cmd.Args[2])
	}
}

func TestBuildCommandExplicitShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell expectations")
	}
	cmd := BuildCommand(`sh -c 'echo hi'`)
	if cmd.Args[0] != "/bin/sh" || cmd.Args[1] != "-c" {
		t.Fatalf("explicit shell not honored: %v", cmd.Args)
	}
	if cmd.Args[2] != "echo hi" {
		t.Fatalf("outer quotes must be stripped once, got %q", cmd.Args[2])
	}
}

func TestBuildCommandEmpty(t *testing.T) {
	cmd := BuildCommand("   ")
	if len(cmd.Args) == 0 {
		t.Fatalf("empty command must still produce a runnable no-op")
	}
	if runtime.GOOS != "windows" && !strings.HasSuffix(cmd.Args[0], "true") {
		t.Fatalf("expected no-op command, got %v", cmd.Args)
	}
}

func TestValidateCommand(t *testing.T) {
	if err := ValidateCommand(""); err == nil {
		t.Fatalf("empty command must fail validation")
	}
	if err := ValidateCommand("no-such-binary-zz --flag"); err == nil {
		t.Fatalf("missing binary must fail validation")
	}
	// Shell-wrapped strings are resolved by the shell at run time.
	if err := ValidateCommand(`sh -c 'no-such-binary-zz'`); err != nil {
		t.Fatalf("explicit shell command must pass validation: %v", err)
	}
	if err := ValidateCommand("echo a && echo b"); err != nil {
		t.Fatalf("metacharacter command must pass validation: %v", err)
	}
	if runtime.GOOS != "windows" {
		if err := ValidateCommand("sleep 1"); err != nil {
			t.Fatalf("resolvable binary must pass validation: %v", err)
		}
	}
}

func TestParseExplicitShell(t *testing.T) {
	script, ok := parseExplicitShell(`/bin/sh -c "echo hi"`)
	if !ok || script != "echo hi" {
		t.Fatalf("parse = %q/%t, want 'echo hi'/true", script, ok)
	}
	if _, ok := parseExplicitShell("python app.py"); ok {
		t.Fatalf("non-shell command must not parse as explicit shell")
	}
}
