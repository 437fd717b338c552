package centralfree

// pageShift/pageSize mirror the design's PageShift: spans are sized in
// multiples of a page, and Span.Start<<PageShift (here, Start is
// already a byte Addr so no shift is needed on it) gives a byte
// address. pageShift is used by Span.Capacity and pageSize by
// Central.grow.
const (
	pageShift = 13 // 8KiB pages; matches a common size-class page granularity
	pageSize  = 1 << pageShift
)

// Config bundles the knobs a Central (or a fleet of Centrals, one per
// size class) is constructed with. The functional-options shape
// mirrors how the teacher's own toolchain layers optional behavior
// onto a base configuration via flags rather than a config file.
type Config struct {
	Label string // used only for trace-event/log naming, e.g. "class-7"
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithLabel sets the diagnostic label used in trace events and fatal
// diagnostics.
func WithLabel(label string) Option {
	return func(c *Config) { c.Label = label }
}

func newConfig(opts ...Option) Config {
	var c Config
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
