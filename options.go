package durablemap

import "go.uber.org/zap"

// config collects the functional options passed to Open. It replaces the
// teacher's flat (path, keySize, valueSize) parameter list with the
// idiomatic Go answer for a constructor that has grown several optional
// knobs (capacity, logger, crash-injection hook) while keeping OpenBytes and
// OpenUint64 call-compatible with the teacher's two-argument Open(path,
// keySize, valueSize) shape.
type config struct {
	capacity uint32
	logger   *zap.Logger
	crash    CrashPoint
	pid      int32
}

// Option configures Open/OpenBytes/OpenUint64.
type Option func(*config)

// WithCapacity sets the minimum number of entries the map should be able to
// hold without triggering a Resize. Defaults to 5, matching the design's
// documented default and its smallest-prime-generation example.
func WithCapacity(capacity uint32) Option {
	return func(c *config) { c.capacity = capacity }
}

// WithLogger attaches a structured logger for resize/recovery/lock-theft
// events. The default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithCrashPoint installs a fault-injection hook. Production callers should
// never call this; it exists for the crash-equivalence tests in
// crash_test.go that exercise the recovery engine by simulating a process
// kill at an exact scenario number (see crashpoint.go).
func WithCrashPoint(cp CrashPoint) Option {
	return func(c *config) { c.crash = cp }
}

// withSimulatedPID overrides the process identifier used for the write-lock
// protocol. Unexported: it exists only so tests can model two distinct
// writer processes contending for one file pair from within a single Go test
// binary (see lock_test.go).
func withSimulatedPID(pid int32) Option {
	return func(c *config) { c.pid = pid }
}

func newConfig(opts []Option) config {
	c := config{capacity: 5, pid: defaultPID}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.crash == nil {
		c.crash = noCrash{}
	}
	return c
}
