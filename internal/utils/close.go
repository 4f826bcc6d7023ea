package utils

import (
	"io"

	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Close closes c and ignores any error.
// Use for best-effort cleanup in defer where error handling is not critical.
func Close(c io.Closer) {
	_ = c.Close()
}

// CloseLogged closes c and logs the outcome under what (ex: "redis").
func CloseLogged(c io.Closer, what string, log logger.Logger) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close "+what, logger.Error(err))
		return
	}
	log.Info("✅ " + what + " closed cleanly")
}
