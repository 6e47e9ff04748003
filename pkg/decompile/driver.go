package decompile

import (
	"context"
	"runtime"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/unstack/pkg/bytecode"
	"github.com/chazu/unstack/pkg/instr"
)

var log = commonlog.GetLogger("unstack.decompile")

// Version identifies the reconstruction rules. It changes whenever the same
// bytecode can produce a different sequence, so stored results are redone.
const Version = 1

// Option configures Method, All and NewSimulator.
type Option func(*options)

type options struct {
	method string
	trace  commonlog.Logger
	limit  int
}

func newOptions(opts []Option) *options {
	cfg := &options{limit: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithTrace logs every callback and the resulting tail instruction to
// logger at debug level.
func WithTrace(logger commonlog.Logger) Option {
	return func(o *options) { o.trace = logger }
}

// WithMethodName sets the name used in trace output. Method sets it from
// the chunk.
func WithMethodName(name string) Option {
	return func(o *options) { o.method = name }
}

// WithLimit caps how many methods All reconstructs at once. Values below 1
// mean GOMAXPROCS.
func WithLimit(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		o.limit = n
	}
}

// Result is the outcome for one method of a batch.
type Result struct {
	Name     string
	Sequence *instr.Sequence // nil when Err is set
	Err      error
}

// Method reconstructs the expression trees of one method chunk. Any failure
// is returned as a *MethodError and no sequence is produced.
func Method(c *bytecode.Chunk, opts ...Option) (*instr.Sequence, error) {
	opts = append(opts[:len(opts):len(opts)], WithMethodName(c.Name))
	sim := NewSimulator(opts...)
	if err := bytecode.Walk(c, sim); err != nil {
		return nil, methodError(c, err)
	}
	seq, err := sim.Finish()
	if err != nil {
		return nil, methodError(c, err)
	}
	return seq, nil
}

// All reconstructs methods concurrently, each with its own Simulator. The
// results are in the order of chunks; one method failing does not affect
// the others. Methods not started before ctx is done report ctx.Err().
func All(ctx context.Context, chunks []*bytecode.Chunk, opts ...Option) []Result {
	cfg := newOptions(opts)
	results := make([]Result, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.limit)
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			results[i].Name = c.Name
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			seq, err := Method(c, opts...)
			if err != nil {
				log.Infof("%s not reconstructible: %v", c.Name, err)
			}
			results[i].Sequence = seq
			results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	log.Debugf("reconstructed %d methods", len(chunks))
	return results
}
