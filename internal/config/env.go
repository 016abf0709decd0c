package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// GlobalEnv composes the fleet-wide base environment.
// Precedence: OS env (when use_os_env) provides the base; then env_files in
// order; then the top-level env list overrides last. The result is sorted
// so repeated loads produce identical slices.
func (f *File) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if f.UseOSEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := splitKV(kv); ok {
				m[k] = v
			}
		}
	}
	for _, p := range f.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range f.Env {
		if k, v, ok := splitKV(kv); ok {
			m[k] = v
		}
	}
	return toSortedSlice(m), nil
}

// MergedEnv overlays a service's env entries on the global base and expands
// ${VAR} references against the composed map (single pass, no recursion).
func MergedEnv(global []string, svc Service) []string {
	m := make(map[string]string, len(global)+len(svc.Env))
	for _, kv := range global {
		if k, v, ok := splitKV(kv); ok {
			m[k] = v
		}
	}
	for _, kv := range svc.Env {
		if k, v, ok := splitKV(kv); ok {
			m[k] = v
		}
	}
	// Expand against a snapshot so results do not depend on map order.
	base := make(map[string]string, len(m))
	for k, v := range m {
		base[k] = v
	}
	for k, v := range m {
		m[k] = expand(v, base)
	}
	return toSortedSlice(m)
}

// loadEnvFile parses a .env file with KEY=VALUE lines (no export, no
// quotes). Blank lines and lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if k == "" {
				continue
			}
			m[k] = v
		}
	}
	return m, nil
}

func splitKV(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}

func toSortedSlice(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
