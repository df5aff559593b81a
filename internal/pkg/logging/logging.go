package logging

import (
	"sync"

	"github.com/mixhaven/MixHaven/internal/pkg/env"
	"github.com/sirupsen/logrus"
)

var (
	once   sync.Once
	logger *logrus.Logger
)

// L returns the process-wide logger. Production runs log JSON, development
// runs log human-readable text. The level comes from LOG_LEVEL.
func L() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()

		level, err := logrus.ParseLevel(env.GetEnv("LOG_LEVEL", "info"))
		if err != nil {
			level = logrus.InfoLevel
		}
		logger.SetLevel(level)

		if env.IsDev() {
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		} else {
			logger.SetFormatter(&logrus.JSONFormatter{})
		}
	})
	return logger
}
