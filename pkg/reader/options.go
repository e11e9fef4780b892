package reader

import (
	"log"
	"os"
	"time"

	"github.com/logflow/recsplit/pkg/boundary"
	"github.com/logflow/recsplit/pkg/validation"
)

type settings struct {
	start        string
	stop         string
	listener     any
	lineReader   boundary.LineReaderFunc
	maxEntity    int
	validators   validation.Factory
	logger       *log.Logger
	queueSize    int
	offerTimeout time.Duration
	pollInterval time.Duration
}

func defaultSettings() settings {
	return settings{
		logger:       log.New(os.Stderr, "[recsplit] ", log.LstdFlags),
		queueSize:    DefaultQueueCapacity,
		offerTimeout: DefaultOfferTimeout,
		pollInterval: DefaultPollInterval,
	}
}

// Option configures a Reader or BatchReader.
type Option func(*settings)

// WithStartPattern splits streams into entities beginning at lines that
// match pattern. The pattern must match the whole line, terminator
// included.
func WithStartPattern(pattern string) Option {
	return func(s *settings) { s.start = pattern }
}

// WithStopPattern ends each entity at a line matching pattern. It has no
// effect without a start pattern.
func WithStopPattern(pattern string) Option {
	return func(s *settings) { s.stop = pattern }
}

// WithListener installs a listener that rewrites lines, computes entity
// context and maps records onto R. Its R must match the reader's.
func WithListener[R any](l Listener[R]) Option {
	return func(s *settings) { s.listener = l }
}

// WithLineReader replaces the unit of text entities are built from, for
// example boundary.XMLLines for single-line XML.
func WithLineReader(fn boundary.LineReaderFunc) Option {
	return func(s *settings) { s.lineReader = fn }
}

// WithMaxEntitySize bounds the size of a single entity in bytes.
func WithMaxEntitySize(n int) Option {
	return func(s *settings) { s.maxEntity = n }
}

// WithValidation validates every record, failing fast, before it is
// returned. Each worker gets its own validator from f.
func WithValidation(f validation.Factory) Option {
	return func(s *settings) { s.validators = f }
}

// WithLogger sets the logger for stream discard warnings.
func WithLogger(l *log.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueueCapacity sets how many parsed records a BatchReader buffers.
func WithQueueCapacity(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithOfferTimeout sets how long a BatchReader producer waits for queue
// space before giving up.
func WithOfferTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.offerTimeout = d
		}
	}
}
