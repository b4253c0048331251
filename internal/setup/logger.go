package setup

import (
	"log/slog"

	"github.com/cochaviz/stemcell/internal/logging"
)

var packageLogger *slog.Logger

// SetLogger sets the logger used while locating, writing and loading
// configuration files. Nil restores the process default.
func SetLogger(logger *slog.Logger) {
	packageLogger = logger
}

func getLogger() *slog.Logger {
	return logging.Ensure(packageLogger)
}
