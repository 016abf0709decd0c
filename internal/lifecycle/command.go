package lifecycle

import (
	"errors"
	"os/exec"
	"strings"
)

const shellMetaChars = "|&;<>*?`$\"'(){}[]~"

// BuildCommand constructs an *exec.Cmd for a service command line. An
// explicit shell invocation already present in the string (e.g.
// "sh -c 'echo hi'") is honored without wrapping in another shell; commands
// containing shell metacharacters run under the platform shell; plain
// commands run directly.
func BuildCommand(command string) *exec.Cmd {
	cmdStr := strings.TrimSpace(command)
	if cmdStr == "" {
		return trueCommand()
	}
	if script, ok := parseExplicitShell(cmdStr); ok {
		return shellCommand(script)
	}
	if strings.ContainsAny(cmdStr, shellMetaChars) {
		return shellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// ValidateCommand checks that the command's binary is resolvable before any
// fork is attempted. Shell-wrapped commands are resolved by the shell at
// run time and pass validation as long as they are non-empty.
func ValidateCommand(command string) error {
	cmdStr := strings.TrimSpace(command)
	if cmdStr == "" {
		return errors.New("empty command")
	}
	if _, ok := parseExplicitShell(cmdStr); ok {
		return nil
	}
	if strings.ContainsAny(cmdStr, shellMetaChars) {
		return nil
	}
	name := strings.Fields(cmdStr)[0]
	if _, err := exec.LookPath(name); err != nil {
		return err
	}
	return nil
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// script after -c verbatim (one surrounding quote pair stripped) so quoting
// inside the script survives.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
