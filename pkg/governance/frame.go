package governance

import "context"

// origin names what opened an execution frame
type origin int

const (
	originBootstrap origin = iota + 1
	originProposal
)

// frame is the dispatcher's in-flight execution record. It only ever
// travels inside a context.Context; the key is unexported so no caller
// outside this package can forge one.
type frame struct {
	origin     origin
	proposalID uint64
	ref        string
	active     bool // set while an action is being applied
}

type frameKey struct{}

func withFrame(ctx context.Context, f frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

func frameFrom(ctx context.Context) (frame, bool) {
	f, ok := ctx.Value(frameKey{}).(frame)
	return f, ok
}

// InExecution reports whether ctx belongs to an action being applied
func InExecution(ctx context.Context) bool {
	f, ok := frameFrom(ctx)
	return ok && f.active
}

// guardEntry rejects governance entry points reached from inside an action
func guardEntry(ctx context.Context) error {
	if InExecution(ctx) {
		return ErrReentrantCall
	}
	return nil
}
