package handlers

import (
	"net/http"
	"runtime"
)

// Set with -ldflags "-X github.com/tillsync/server/internal/handlers.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// ProtocolVersion is bumped whenever a request or response shape changes in a
// way older terminals cannot read
const ProtocolVersion = 1

type VersionResponse struct {
	Version         string `json:"version"`
	GitCommit       string `json:"gitCommit"`
	BuildTime       string `json:"buildTime"`
	GoVersion       string `json:"goVersion"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// VersionHandler reports the running build and the sync protocol revision
// @Summary Server version
// @Tags health
// @Produce json
// @Success 200 {object} VersionResponse
// @Router /version [get]
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VersionResponse{
		Version:         Version,
		GitCommit:       GitCommit,
		BuildTime:       BuildTime,
		GoVersion:       runtime.Version(),
		ProtocolVersion: ProtocolVersion,
	})
}
