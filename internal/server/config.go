package server

import (
	"github.com/shadowscan/shadowscan/internal/logging"
	"github.com/shadowscan/shadowscan/internal/narrative"
	"github.com/shadowscan/shadowscan/internal/orchestrator"
	"github.com/shadowscan/shadowscan/internal/zaprunner"
)

// Config assembles everything the API server needs to build its pipeline.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// StorageRoot is the directory holding the artifact database and blob
	// store.
	StorageRoot string

	// Orchestrator tunes the worker pool and output directories.
	Orchestrator orchestrator.Config

	// Runner configures the scanner container invocation.
	Runner zaprunner.Config

	// Narrative configures the text-generation backend. An empty APIKey
	// disables enrichment; scans then degrade to raw reports.
	Narrative narrative.ClientConfig

	// Logger defaults to a stdout JSON logger when nil.
	Logger logging.Logger
}
