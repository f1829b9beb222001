// Package cmd implements the command-line interface for the dGrid storage
// grid library. It provides a hierarchical command structure for exploring
// and measuring the grid.
//
// The package is organized into several subpackages:
//
//   - demo: Starts an in-process grid and demonstrates the distribution
//     behavior of the three storage strategies
//   - perf: Measures operation latencies of the strategies
//   - util: Shared utilities for command-line processing and configuration
//     (internal use)
//
// See dgrid -help for a list of all commands.
package cmd
