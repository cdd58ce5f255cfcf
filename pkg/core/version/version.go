// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     version
// Description: Central version management for all components
// Author:      Mike Stoffels with Claude
// Created:     2026-06-28
// License:     MIT
// ============================================================================

package version

// Version constants for all mSW components
const (
	// Platform version
	Platform = "0.9.0"

	// Component versions
	Engine = "0.9.0"
	Server = "0.9.0"
	CLI    = "0.9.0"
)

// ComponentVersion returns the version for a given component name
func ComponentVersion(name string) string {
	switch name {
	case "engine":
		return Engine
	case "server":
		return Server
	case "cli":
		return CLI
	default:
		return Platform
	}
}
