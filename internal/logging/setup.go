package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. Development environments get a
// console writer on stderr, everything else JSON. Each tee receives the
// same JSON lines.
func Setup(level, environment string, tees ...io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	var base io.Writer = os.Stderr
	if environment == "development" {
		base = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	writers := append([]io.Writer{base}, tees...)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		log.Warn().Str("level", level).Msg("Invalid log level, using info")
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
