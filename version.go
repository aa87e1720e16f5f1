package main

import (
	"fmt"
	"time"
)

var (
	// Set at build time via go build -ldflags
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GetVersionInfo returns formatted version information
func GetVersionInfo() string {
	return fmt.Sprintf("Schema Proxy v%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}

// GetBuildInfo returns detailed build information
func GetBuildInfo() string {
	buildTime := BuildTime
	if buildTime == "unknown" {
		buildTime = time.Now().Format("2006-01-02 15:04:05")
	}

	return fmt.Sprintf("Schema Proxy v%s\nCommit: %s\nBuild Time: %s",
		Version, GitCommit, buildTime)
}
