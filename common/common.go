// Package common holds identifiers shared across nodelink binaries.
package common

// PackageName is the service name used for metrics namespacing and logging.
const PackageName = "nodelink"

// Version is set at build time via -ldflags.
var Version = "dev"
