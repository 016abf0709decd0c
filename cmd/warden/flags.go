package main

import "time"

// Flag structs decouple cobra wiring from command logic for testing.

type ListFlags struct {
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

type StatusFlags struct {
	Name string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

// ServiceOpFlags drives start, stop and restart. Exactly one of Name or
// All must be set.
type ServiceOpFlags struct {
	Name string
	All  bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

type ReconcileFlags struct {
	Service string
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

type CleanupFlags struct {
	Yes bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
	Insecure   bool
}

type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	LogFile    string
}
