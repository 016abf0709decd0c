package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/loykin/warden/internal/logger"
	"github.com/spf13/viper"
)

// Defaults applied by Load when a field is unset.
const (
	DefaultHealthPath       = "/health"
	DefaultStopGrace        = 5 * time.Second
	DefaultReconcileEvery   = 30 * time.Second
	DefaultConcurrency      = 4
	DefaultPortFreeRetries  = 10
	DefaultPortFreeDelay    = 500 * time.Millisecond
	DefaultHealthInterval   = 15 * time.Second
	DefaultHealthTimeout    = 3 * time.Second
	DefaultFailureThreshold = 3
	DefaultQueueSize        = 64
	DefaultStoreDSN         = "sqlite://warden.db"
)

// ValidationError describes a malformed service descriptor or a file-wide
// configuration problem. A per-service error skips that service for the
// pass; file-wide errors are fatal.
type ValidationError struct {
	Service string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("service %q: invalid %s: %s", e.Service, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Service describes one supervisable service: an AI agent runtime or a
// tool-server process bound to a TCP port. Descriptors are immutable for
// the duration of a reconciliation pass.
type Service struct {
	Name         string        `toml:"name" mapstructure:"name"`
	Command      string        `toml:"command" mapstructure:"command"`
	Port         int           `toml:"port" mapstructure:"port"`
	Enabled      bool          `toml:"enabled" mapstructure:"enabled"`
	DisplayName  string        `toml:"display_name" mapstructure:"display_name"`
	Description  string        `toml:"description" mapstructure:"description"`
	Dependencies []string      `toml:"dependencies" mapstructure:"dependencies"`
	WorkDir      string        `toml:"work_dir" mapstructure:"work_dir"`
	Env          []string      `toml:"env" mapstructure:"env"`
	HealthPath   string        `toml:"health_path" mapstructure:"health_path"`
	StopGrace    time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	Log          *LogDefaults  `toml:"log" mapstructure:"log"`
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?$`)

// Validate checks the descriptor's own fields. Cross-service checks
// (duplicate names, unknown dependencies) happen at the File level.
func (s *Service) Validate() error {
	if s.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if !nameRe.MatchString(s.Name) {
		return &ValidationError{Service: s.Name, Field: "name", Reason: "must be alphanumeric with . _ - separators"}
	}
	if strings.TrimSpace(s.Command) == "" {
		return &ValidationError{Service: s.Name, Field: "command", Reason: "required"}
	}
	if s.Port <= 0 || s.Port > 65535 {
		return &ValidationError{Service: s.Name, Field: "port", Reason: fmt.Sprintf("out of range: %d", s.Port)}
	}
	if s.HealthPath != "" && !strings.HasPrefix(s.HealthPath, "/") {
		return &ValidationError{Service: s.Name, Field: "health_path", Reason: "must start with /"}
	}
	for _, d := range s.Dependencies {
		if d == s.Name {
			return &ValidationError{Service: s.Name, Field: "dependencies", Reason: "must not depend on itself"}
		}
	}
	return nil
}

// LogDefaults mirrors logger.Config in TOML form. A nil value inherits the
// file-wide defaults.
type LogDefaults struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ReconcileConfig struct {
	Interval        time.Duration `toml:"interval" mapstructure:"interval"`
	Concurrency     int           `toml:"concurrency" mapstructure:"concurrency"`
	PortFreeRetries int           `toml:"port_free_retries" mapstructure:"port_free_retries"`
	PortFreeDelay   time.Duration `toml:"port_free_delay" mapstructure:"port_free_delay"`
}

type HealthConfig struct {
	Interval         time.Duration `toml:"interval" mapstructure:"interval"`
	Timeout          time.Duration `toml:"timeout" mapstructure:"timeout"`
	FailureThreshold int           `toml:"failure_threshold" mapstructure:"failure_threshold"`
}

type EventsConfig struct {
	QueueSize int `toml:"queue_size" mapstructure:"queue_size"`
}

type ServerConfig struct {
	Listen   string     `toml:"listen" mapstructure:"listen"`
	BasePath string     `toml:"base_path" mapstructure:"base_path"`
	PidFile  string     `toml:"pidfile" mapstructure:"pidfile"`
	LogFile  string     `toml:"logfile" mapstructure:"logfile"`
	TLS      *TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	CommonName   string `toml:"common_name" mapstructure:"common_name"`
}

type MetricsConfig struct {
	Enabled   bool          `toml:"enabled" mapstructure:"enabled"`
	Listen    string        `toml:"listen" mapstructure:"listen"`
	Resources bool          `toml:"resources" mapstructure:"resources"`
	Interval  time.Duration `toml:"interval" mapstructure:"interval"`
}

type JournalConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// File is the top-level TOML structure supplied by the operator.
type File struct {
	Env       []string        `toml:"env" mapstructure:"env"`
	EnvFiles  []string        `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv  bool            `toml:"use_os_env" mapstructure:"use_os_env"`
	Store     string          `toml:"store" mapstructure:"store"`
	Log       *LogDefaults    `toml:"log" mapstructure:"log"`
	Reconcile ReconcileConfig `toml:"reconcile" mapstructure:"reconcile"`
	Health    HealthConfig    `toml:"health" mapstructure:"health"`
	Events    EventsConfig    `toml:"events" mapstructure:"events"`
	Server    *ServerConfig   `toml:"server" mapstructure:"server"`
	Metrics   *MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Journal   *JournalConfig  `toml:"journal" mapstructure:"journal"`
	Services  []Service       `toml:"services" mapstructure:"services"`
}

// Load reads and validates a TOML configuration file, applying defaults.
// Per-service descriptor problems do not fail the load; they surface later
// through ValidServices so one bad service never blocks the fleet.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, err
	}
	f.ApplyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ApplyDefaults fills unset knobs with their defaults.
func (f *File) ApplyDefaults() {
	if f.Store == "" {
		f.Store = DefaultStoreDSN
	}
	if f.Reconcile.Interval <= 0 {
		f.Reconcile.Interval = DefaultReconcileEvery
	}
	if f.Reconcile.Concurrency <= 0 {
		f.Reconcile.Concurrency = DefaultConcurrency
	}
	if f.Reconcile.PortFreeRetries <= 0 {
		f.Reconcile.PortFreeRetries = DefaultPortFreeRetries
	}
	if f.Reconcile.PortFreeDelay <= 0 {
		f.Reconcile.PortFreeDelay = DefaultPortFreeDelay
	}
	if f.Health.Interval <= 0 {
		f.Health.Interval = DefaultHealthInterval
	}
	if f.Health.Timeout <= 0 {
		f.Health.Timeout = DefaultHealthTimeout
	}
	if f.Health.FailureThreshold <= 0 {
		f.Health.FailureThreshold = DefaultFailureThreshold
	}
	if f.Events.QueueSize <= 0 {
		f.Events.QueueSize = DefaultQueueSize
	}
	for i := range f.Services {
		if f.Services[i].HealthPath == "" {
			f.Services[i].HealthPath = DefaultHealthPath
		}
		if f.Services[i].StopGrace <= 0 {
			f.Services[i].StopGrace = DefaultStopGrace
		}
	}
}

// Validate checks file-wide constraints. Per-service field problems are
// not fatal here.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Services))
	for _, s := range f.Services {
		if s.Name == "" {
			continue
		}
		if seen[s.Name] {
			return &ValidationError{Field: "services", Reason: fmt.Sprintf("duplicate service name %q", s.Name)}
		}
		seen[s.Name] = true
	}
	return nil
}

// ValidServices returns the descriptors that pass validation (including
// dependency references) together with the errors for those that do not.
func (f *File) ValidServices() ([]Service, []error) {
	declared := make(map[string]bool, len(f.Services))
	for _, s := range f.Services {
		declared[s.Name] = true
	}
	valid := make([]Service, 0, len(f.Services))
	var errs []error
	for _, s := range f.Services {
		if err := s.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		bad := false
		for _, d := range s.Dependencies {
			if !declared[d] {
				errs = append(errs, &ValidationError{Service: s.Name, Field: "dependencies", Reason: fmt.Sprintf("unknown service %q", d)})
				bad = true
				break
			}
		}
		if bad {
			continue
		}
		valid = append(valid, s)
	}
	return valid, errs
}

// ServiceByName returns the descriptor for name.
func (f *File) ServiceByName(name string) (Service, bool) {
	for _, s := range f.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}

// DependencyOrder returns service names topologically sorted so that every
// service appears after its dependencies. Cycles are reported as a
// ValidationError naming one participating service.
func (f *File) DependencyOrder() ([]string, error) {
	services, _ := f.ValidServices()
	valid := make(map[string]bool, len(services))
	for _, s := range services {
		valid[s.Name] = true
	}
	indegree := make(map[string]int, len(services))
	dependents := make(map[string][]string, len(services))
	for _, s := range services {
		if _, ok := indegree[s.Name]; !ok {
			indegree[s.Name] = 0
		}
		for _, d := range s.Dependencies {
			// Edges to services excluded by validation do not order anything.
			if !valid[d] {
				continue
			}
			indegree[s.Name]++
			dependents[d] = append(dependents[d], s.Name)
		}
	}

	// Queue seeded in declaration order for stable output.
	var queue []string
	for _, s := range services {
		if indegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}
	order := make([]string, 0, len(services))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, m := range dependents[n] {
			indegree[m]--
			if indegree[m] == 0 {
				queue = append(queue, m)
			}
		}
	}
	if len(order) != len(services) {
		for _, s := range services {
			if indegree[s.Name] > 0 {
				return nil, &ValidationError{Service: s.Name, Field: "dependencies", Reason: "dependency cycle"}
			}
		}
	}
	return order, nil
}

// LoggerConfig resolves the effective child-log configuration for a
// service: file-wide defaults overridden per service.
func (f *File) LoggerConfig(s Service) logger.Config {
	var cfg logger.Config
	if f.Log != nil {
		cfg = f.Log.toLogger()
	}
	if s.Log != nil {
		o := s.Log.toLogger()
		if o.Dir != "" {
			cfg.Dir = o.Dir
		}
		if o.StdoutPath != "" {
			cfg.StdoutPath = o.StdoutPath
		}
		if o.StderrPath != "" {
			cfg.StderrPath = o.StderrPath
		}
		if o.MaxSizeMB != 0 {
			cfg.MaxSizeMB = o.MaxSizeMB
		}
		if o.MaxBackups != 0 {
			cfg.MaxBackups = o.MaxBackups
		}
		if o.MaxAgeDays != 0 {
			cfg.MaxAgeDays = o.MaxAgeDays
		}
		if o.Compress {
			cfg.Compress = true
		}
	}
	return cfg
}

func (l *LogDefaults) toLogger() logger.Config {
	return logger.Config{
		Dir:        l.Dir,
		StdoutPath: l.Stdout,
		StderrPath: l.Stderr,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}
