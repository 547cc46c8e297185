// Package cli is the firebox client command tree.
//
// Commands:
//
//	firebox run      initial scan, then watch, poll and serve the local API
//	firebox scan     one full scan of the sync directory
//	firebox sync     one poll round against the metadata service
//	firebox status   summary of the local index
//	firebox version  build information
//
// Settings come from the JSON config (-c) and short flags such as -s <dir>;
// see package config.
package cli
