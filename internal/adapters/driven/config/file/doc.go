// Package file provides file-based implementations of driven port interfaces.
// These adapters read configuration from the local filesystem.
//
// Adapters:
//   - ProfileStore: TOML scope profiles, reloaded when the file changes
package file
