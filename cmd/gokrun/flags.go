package main

import "time"

// Flag structs decouple cobra from command logic for testing.

type GlobalFlags struct {
	ConfigPath  string
	PayloadRoot string
	InstallRoot string
}

type UpdateFlags struct {
	JSON bool
}

type LaunchFlags struct {
	Bootstrap string
	Wait      bool
	StopAfter time.Duration // stop the runtime after this long when waiting; zero waits for exit
}

type EventsFlags struct {
	URL   string
	Token string
}

type ResolveFlags struct {
	Bootstrap string
}

type ServeFlags struct {
	Listen   string
	NoStream bool
}

// StatusFlags address a running serve over its status API.
type StatusFlags struct {
	APIURL   string
	CACert   string
	Insecure bool
	History  int
	Trigger  bool
	Username string
	Password string
}

type InitFlags struct {
	Type    string
	BaseURL string
	Output  string
	Force   bool
}

type HashPasswordFlags struct {
	Password string
}
