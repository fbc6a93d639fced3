package queue

import "context"

// Job handles one message type. Returning an error schedules a retry until RetryLimit,
// after which the message is parked on the dead-letter list.
type Job interface {
	Name() string
	Type() string
	Handle(ctx context.Context, payload interface{}) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	JobType string
	Fn      func(ctx context.Context, payload interface{}) error
}

func (j JobFunc) Name() string { return j.JobName }
func (j JobFunc) Type() string { return j.JobType }

func (j JobFunc) Handle(ctx context.Context, payload interface{}) error {
	return j.Fn(ctx, payload)
}
