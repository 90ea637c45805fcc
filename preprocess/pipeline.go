package preprocess

import (
	"time"

	"github.com/nvr-ai/go-helmet/accel"
	"github.com/nvr-ai/go-helmet/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Pipeline runs the configured operations in order on one stream. Every operation is
// complete, and the stream synchronized, before the next one starts.
type Pipeline struct {
	ops    []Operator
	stream accel.Stream
	log    *logrus.Entry
}

// New resolves the configured operation names into a pipeline.
//
// Arguments:
//   - cfg: The configuration; Pipeline.Ops is resolved once here.
//   - stream: The per-instance stream shared by every operation.
//   - log: Logger for per-operation timings, may be nil.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: ErrUnknownOp or an operation precondition failure.
func New(cfg *config.Config, stream accel.Stream, log *logrus.Entry) (*Pipeline, error) {
	if log == nil {
		log = logrus.WithField("component", "preprocess")
	}
	p := &Pipeline{stream: stream, log: log}
	for _, name := range cfg.Pipeline.Ops {
		op, err := ParseOp(name)
		if err != nil {
			p.Close()
			return nil, err
		}
		impl, err := opTable[op](cfg)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.ops = append(p.ops, impl)
	}
	return p, nil
}

// Ops lists the resolved operations in execution order.
func (p *Pipeline) Ops() []Op {
	out := make([]Op, len(p.ops))
	for i, o := range p.ops {
		out[i] = o.Op()
	}
	return out
}

// Run applies every operation to the batch in place.
//
// Arguments:
//   - b: The batch produced by Upload.
//
// Returns:
//   - error: The first failing operation, wrapped with its name.
func (p *Pipeline) Run(b *Batch) error {
	for _, o := range p.ops {
		start := time.Now()
		if err := o.Apply(b); err != nil {
			return errors.Wrap(err, o.Op().String())
		}
		if err := p.stream.Synchronize(); err != nil {
			return errors.Wrapf(err, "%s: synchronize", o.Op())
		}
		p.log.WithFields(logrus.Fields{
			"op":      o.Op().String(),
			"size":    b.Size(),
			"elapsed": time.Since(start),
		}).Debug("preprocess")
	}
	return nil
}

// Close releases per-operation resources and returns the first failure.
func (p *Pipeline) Close() error {
	var first error
	for _, o := range p.ops {
		if err := o.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close %s", o.Op())
		}
	}
	p.ops = nil
	return first
}
