package preprocess

import (
	"github.com/nvr-ai/go-helmet/config"
	"github.com/pkg/errors"
)

// ErrUnknownOp is returned for operation names outside the closed set.
var ErrUnknownOp = errors.New("unknown preprocessing operation")

// Op identifies one preprocessing operation.
type Op int

const (
	// OpTopDownEvalAffine resizes unconditionally to the training size.
	OpTopDownEvalAffine Op = iota
	// OpResize scales towards the target size, optionally keeping the aspect ratio.
	OpResize
	// OpLetterBoxResize scales uniformly and pads to the target size.
	OpLetterBoxResize
	// OpNormalizeImage applies per-channel mean/std normalization.
	OpNormalizeImage
	// OpPadStride pads bottom/right to a multiple of the stride.
	OpPadStride
	// OpPermute is a no-op; channels are split when frames are bound to the engine.
	OpPermute

	numOps
)

var opNames = [numOps]string{
	OpTopDownEvalAffine: "TopDownEvalAffine",
	OpResize:            "Resize",
	OpLetterBoxResize:   "LetterBoxResize",
	OpNormalizeImage:    "NormalizeImage",
	OpPadStride:         "PadStride",
	OpPermute:           "Permute",
}

// String returns the configuration name of the operation.
func (o Op) String() string {
	if o < 0 || o >= numOps {
		return "Op(?)"
	}
	return opNames[o]
}

// ParseOp resolves a configuration name.
//
// Arguments:
//   - name: One of the registered operation names.
//
// Returns:
//   - Op: The operation.
//   - error: ErrUnknownOp if the name is not registered.
func ParseOp(name string) (Op, error) {
	for i, n := range opNames {
		if n == name {
			return Op(i), nil
		}
	}
	return 0, errors.Wrap(ErrUnknownOp, name)
}

// Operator applies one operation to a batch in place.
type Operator interface {
	Op() Op
	Apply(b *Batch) error
	Close() error
}

// opTable maps every Op to its constructor. It is indexed by Op, so a new Op without an
// entry fails at construction.
var opTable = [numOps]func(cfg *config.Config) (Operator, error){
	OpTopDownEvalAffine: newTopDownEvalAffine,
	OpResize:            newResize,
	OpLetterBoxResize:   newLetterBoxResize,
	OpNormalizeImage:    newNormalizeImage,
	OpPadStride:         newPadStride,
	OpPermute:           newPermute,
}

type permute struct{}

func newPermute(*config.Config) (Operator, error) { return permute{}, nil }

func (permute) Op() Op             { return OpPermute }
func (permute) Apply(*Batch) error { return nil }
func (permute) Close() error       { return nil }
