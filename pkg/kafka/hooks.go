package kafka

import (
	"context"
	"fmt"
	"time"

	"TeeRelay/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook wraps message handling. A BeforeHandle error skips the handler and is
// treated like a handler failure (OnError, dead-letter, commit).
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	return ctx, km, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, []byte, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, []byte, error) {}

// HookError classifies a failure raised inside a hook.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs adapts plain functions; nil members are no-ops.
type HookFuncs struct {
	Before func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error)
	After  func(context.Context, string, kafka.Message, []byte, error)
	Err    func(context.Context, string, kafka.Message, []byte, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	if h.Before == nil {
		return ctx, km, data, nil
	}
	return h.Before(ctx, topic, km, data)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.After != nil {
		h.After(ctx, topic, km, data, err)
	}
}

func (h HookFuncs) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	if h.Err != nil {
		h.Err(ctx, topic, km, data, err)
	}
}

// HookChain runs Before hooks in order and After hooks in reverse. A panicking hook is
// converted to an ERR_PANIC HookError and never reaches the worker.
type HookChain struct {
	hooks []ConsumerHook
}

func NewHookChain(hooks ...ConsumerHook) *HookChain {
	kept := make([]ConsumerHook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &HookChain{hooks: kept}
}

func (c *HookChain) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	for _, h := range c.hooks {
		nctx, nmsg, ndata, err := safeBefore(h, ctx, topic, km, data)
		if err != nil {
			c.OnError(ctx, topic, km, data, err)
			return ctx, km, data, err
		}
		ctx, km, data = nctx, nmsg, ndata
	}
	return ctx, km, data, nil
}

func (c *HookChain) AfterHandle(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		h := c.hooks[i]
		func() {
			defer func() { _ = recover() }()
			h.AfterHandle(ctx, topic, km, data, err)
		}()
	}
}

func (c *HookChain) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	for _, h := range c.hooks {
		func() {
			defer func() { _ = recover() }()
			h.OnError(ctx, topic, km, data, err)
		}()
	}
}

func safeBefore(h ConsumerHook, ctx context.Context, topic string, km kafka.Message, data []byte) (rctx context.Context, rmsg kafka.Message, rdata []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			rctx, rmsg, rdata = ctx, km, data
			err = &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
		}
	}()
	return h.BeforeHandle(ctx, topic, km, data)
}

type ctxKey string

const (
	ctxStartTime ctxKey = "kafka_start_time"
	ctxRequestID ctxKey = "kafka_request_id"
)

// HeaderRequestID carries the HTTP request id that produced an event.
const HeaderRequestID = "request_id"

// RequestIDFrom returns the request id a TracingHook put on ctx.
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

func header(km kafka.Message, key string) string {
	for _, h := range km.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// TracingHook stamps the start time and the producer's request id on the handler context.
func TracingHook() ConsumerHook {
	return HookFuncs{
		Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
			ctx = context.WithValue(ctx, ctxStartTime, time.Now())
			if id := header(km, HeaderRequestID); id != "" {
				ctx = context.WithValue(ctx, ctxRequestID, id)
			}
			return ctx, km, data, nil
		},
	}
}

// LoggingHook logs slow handling and every failed attempt.
func LoggingHook(l *logger.Logger, slow time.Duration) ConsumerHook {
	return HookFuncs{
		After: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			start, ok := ctx.Value(ctxStartTime).(time.Time)
			if !ok {
				return
			}
			if took := time.Since(start); err == nil && slow > 0 && took > slow {
				l.Warn("slow kafka handler",
					logger.String("topic", topic),
					logger.Int64("offset", km.Offset),
					logger.Duration("took", took),
				)
			}
		},
		Err: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
			l.Warn("kafka handler attempt failed",
				logger.String("topic", topic),
				logger.Int64("offset", km.Offset),
				logger.String("request_id", RequestIDFrom(ctx)),
				logger.Error(err),
			)
		},
	}
}
