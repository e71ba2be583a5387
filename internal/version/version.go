package version

// Name is reported by /api/version and the CLI.
const Name = "noc-orquestrador"

// Version holds the application version. It is overridden at build time via:
//   -ldflags "-X github.com/jessefreitas/noc-orquestrador-sub001/internal/version.Version=vX.Y.Z"
// Default is "dev" when not set (e.g., local builds without tags).
var Version = "dev"
