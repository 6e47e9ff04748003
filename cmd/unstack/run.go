package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/tliron/commonlog"

	"github.com/chazu/unstack/config"
	"github.com/chazu/unstack/pkg/bytecode"
	"github.com/chazu/unstack/pkg/decompile"
	"github.com/chazu/unstack/pkg/instr"
	"github.com/chazu/unstack/pkg/store"
	"github.com/chazu/unstack/pkg/wire"
)

var log = commonlog.GetLogger("unstack")

// loadFile reads a serialized module or, failing the magic check, assembly
// text.
func loadFile(path string) (*bytecode.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var m *bytecode.Module
	if bytecode.IsModule(data) {
		m, err = bytecode.DeserializeModule(data)
	} else {
		m, err = bytecode.Assemble(string(data))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debugf("loaded %d methods from %s", len(m.Chunks), path)
	return m, nil
}

type runner struct {
	cfg    *config.Config
	store  *store.Store
	out    io.Writer
	errOut io.Writer
	dump   bool
}

// method is one method's outcome, either reconstructed now or taken from
// the store.
type method struct {
	name        string
	fingerprint uint64
	seq         *instr.Sequence
	cached      *store.Record
	err         error
}

// process reconstructs and prints every method of m, returning the number
// of methods that could not be reconstructed. The error is for failures of
// the run itself, such as an unwritable store.
func (r *runner) process(ctx context.Context, m *bytecode.Module) (int, error) {
	if r.cfg.Output.Disasm {
		for _, c := range m.Chunks {
			fmt.Fprint(r.out, c.Disassemble())
		}
	}

	methods := make([]method, len(m.Chunks))
	var pending []*bytecode.Chunk
	var pendingIdx []int
	for i, c := range m.Chunks {
		methods[i].name = c.Name
		if r.store != nil {
			fp, err := store.Fingerprint(c)
			if err != nil {
				return 0, err
			}
			methods[i].fingerprint = fp
			rec, err := r.store.Lookup(c.Name, fp)
			switch {
			case err == nil:
				log.Debugf("%s unchanged since run %s", c.Name, rec.RunID)
				methods[i].cached = rec
				continue
			case !errors.Is(err, store.ErrNotFound):
				return 0, err
			}
		}
		pending = append(pending, c)
		pendingIdx = append(pendingIdx, i)
	}

	opts := []decompile.Option{decompile.WithLimit(r.cfg.Decompile.Limit)}
	if r.cfg.Decompile.Trace {
		opts = append(opts, decompile.WithTrace(commonlog.GetLogger("unstack.trace")))
	}
	for j, res := range decompile.All(ctx, pending, opts...) {
		methods[pendingIdx[j]].seq = res.Sequence
		methods[pendingIdx[j]].err = res.Err
	}

	if err := r.record(methods); err != nil {
		return 0, err
	}

	failed := 0
	for _, mt := range methods {
		if mt.err != nil {
			failed++
			fmt.Fprintf(r.errOut, "not reconstructible: %v\n", mt.err)
			continue
		}
		if err := r.print(mt); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

func (r *runner) record(methods []method) error {
	if r.store == nil {
		return nil
	}
	run, err := r.store.BeginRun()
	if err != nil {
		return err
	}
	for _, mt := range methods {
		if mt.cached != nil {
			err = r.store.Save(run, mt.cached)
		} else {
			err = r.store.Record(run, mt.fingerprint, decompile.Result{Name: mt.name, Sequence: mt.seq, Err: mt.err})
		}
		if err != nil {
			return err
		}
	}
	if failures, err := r.store.Failures(run); err == nil && len(failures) > 0 {
		log.Infof("run %s: %d methods not reconstructible", run, len(failures))
	}
	return nil
}

func (r *runner) print(mt method) error {
	switch r.cfg.Output.Format {
	case config.FormatCBOR:
		data, err := r.encode(mt)
		if err != nil {
			return err
		}
		_, err = r.out.Write(data)
		return err
	default:
		fmt.Fprintf(r.out, "%s\n", mt.name)
		if mt.cached != nil {
			fmt.Fprint(r.out, mt.cached.Listing)
		} else {
			fmt.Fprint(r.out, mt.seq.String())
			if r.dump {
				spew.Fdump(r.out, mt.seq.Entries())
			}
		}
		fmt.Fprintln(r.out)
		return nil
	}
}

func (r *runner) encode(mt method) ([]byte, error) {
	if mt.cached != nil && len(mt.cached.Wire) > 0 {
		return mt.cached.Wire, nil
	}
	return wire.MarshalSequence(mt.name, mt.seq)
}
