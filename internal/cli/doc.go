// Package cli implements the autogen command: it parses flags and the
// optional YAML config file, installs the logger, loads HCL manifests and
// maps failures to process exit codes.
package cli
