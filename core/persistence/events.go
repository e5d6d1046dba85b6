package persistence

import (
	"context"
	"time"

	"github.com/asaidimu/go-loom/core/hooks"
	"go.uber.org/zap"
)

// withEventEmission wraps an operation with start, success and failure
// events, and records it in the directory metrics.
func (c *Collection) withEventEmission(operation string, input any, queryParam any, fn func() *Envelope) *Envelope {
	types := operationEvents[operation]
	startTime := time.Now()

	c.dir.emit(createEvent(types[0], operation, c.Name(), input, nil, queryParam, nil, nil, startTime))

	env := fn()
	c.dir.metrics.ObserveOperation(c.Name(), operation, env.OK, startTime)

	if !env.OK {
		errStr := env.Err().Error()
		c.dir.emit(createEvent(types[2], operation, c.Name(), input, nil, queryParam, &errStr, env.ValidationMessages, startTime))
		c.logger.Debug("Operation failed",
			zap.String("operation", operation),
			zap.String("error", errStr),
		)
		return env
	}

	c.dir.emit(createEvent(types[1], operation, c.Name(), input, env.Output, queryParam, nil, nil, startTime))
	return env
}

// runBefore runs a before phase over req. A hook may hand on a replacement
// *T; any other value is ignored. It reports false, with env failed, when
// the phase aborted.
func runBefore[T any](ctx context.Context, c *Collection, phase hooks.Phase, env *Envelope, req *T) (*T, bool) {
	res, err := c.hooks.Run(ctx, phase, req)
	if err != nil {
		env.Error = err
		env.invalid("invalid hooks", err.Error())
		return nil, false
	}
	if res.Aborted {
		c.hookAborted(phase, res)
		env.invalid("invalid hooks", "invalid hooks before")
		return nil, false
	}
	if next, ok := res.Param.(*T); ok && next != nil {
		return next, true
	}
	c.logger.Warn("Hook result ignored, unexpected parameter type",
		zap.String("phase", string(phase)),
	)
	return req, true
}

// runAfter runs an after phase over env. The store changes of the operation
// stay in place when the phase aborts; the envelope is marked failed.
func (c *Collection) runAfter(ctx context.Context, phase hooks.Phase, env *Envelope) *Envelope {
	res, err := c.hooks.Run(ctx, phase, env)
	if err != nil {
		env.Error = err
		return env.invalid("invalid hooks", err.Error())
	}
	if res.Aborted {
		c.hookAborted(phase, res)
		return env.invalid("invalid hooks", "invalid hooks after")
	}
	if next, ok := res.Param.(*Envelope); ok && next != nil {
		return next
	}
	return env
}

func (c *Collection) hookAborted(phase hooks.Phase, res hooks.Result) {
	c.dir.metrics.IncrementHookAborts(c.Name(), string(phase))
	c.logger.Warn("Hook aborted operation",
		zap.String("phase", string(phase)),
		zap.String("hook", res.Hook),
		zap.String("reason", res.Reason),
	)
	reason := res.Reason
	c.dir.emit(createEvent(HookAbort, string(phase), c.Name(), nil, res.Hook, nil, &reason, nil, time.Time{}))
}
