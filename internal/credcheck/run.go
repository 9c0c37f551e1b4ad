package credcheck

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/credence/internal/model"
	"github.com/ppiankov/credence/internal/score"
)

// Envelope is the boundary response of a verification
type Envelope struct {
	OK     bool                  `json:"ok"`
	Result *model.OverallVerdict `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// Run parses payload, verifies it under the policy named mode ("" or
// "full", "bypass") and wraps the outcome. It never panics; the returned
// error is also reported in the envelope and matches ErrInvalidInput for
// bad requests.
func (v *Verifier) Run(ctx context.Context, payload []byte, mode string) (env Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("verification panicked", zap.Any("panic", r))
			err = fmt.Errorf("internal error: %v", r)
			env = Envelope{Error: "Internal Server Error"}
		}
	}()

	policy, ok := score.ByName(mode)
	if !ok {
		err = invalid(fmt.Sprintf("unknown mode %q", mode))
		return Envelope{Error: err.Error()}, err
	}

	in, err := ParseInput(payload)
	if err != nil {
		return Envelope{Error: err.Error()}, err
	}

	verdict, err := v.VerifyWith(ctx, in, policy)
	if err != nil {
		return Envelope{Error: err.Error()}, err
	}
	return Envelope{OK: true, Result: &verdict}, nil
}
