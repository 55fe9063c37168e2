// Package cmd implements the command-line interface for the streamstore
// windowed state store. It provides a hierarchical command structure for
// benchmarking the store and working with persistent snapshots.
//
// The package is organized into several subpackages:
//
//   - bench: Workload driver for a set of stores sharing one cache
//   - snapshot: Commands for inspecting persistent store snapshots
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See streamstore -help for a list of all commands.
package cmd
