package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type confirmPayload struct {
	Digest string `json:"digest"`
}

func TestParsePayloadShapes(t *testing.T) {
	want := confirmPayload{Digest: "abc"}

	got, err := ParsePayload[confirmPayload](json.RawMessage(`{"digest":"abc"}`))
	require.NoError(t, err)
	require.Equal(t, want, *got)

	got, err = ParsePayload[confirmPayload](map[string]interface{}{"digest": "abc"})
	require.NoError(t, err)
	require.Equal(t, want, *got)

	got, err = ParsePayload[confirmPayload](want)
	require.NoError(t, err)
	require.Equal(t, want, *got)

	_, err = ParsePayload[confirmPayload](42)
	require.Error(t, err)
}

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	base := 2 * time.Second
	require.Equal(t, 2*time.Second, retryDelay(base, 1))
	require.Equal(t, 8*time.Second, retryDelay(base, 3))
	require.Equal(t, time.Hour, retryDelay(base, 30))
}

func TestJobFunc(t *testing.T) {
	var seen string
	j := JobFunc{JobName: "confirm", JobType: "tx.confirm", Fn: func(_ context.Context, p interface{}) error {
		c, err := ParsePayload[confirmPayload](p)
		if err != nil {
			return err
		}
		seen = c.Digest
		return nil
	}}
	require.Equal(t, "tx.confirm", j.Type())
	require.NoError(t, j.Handle(context.Background(), json.RawMessage(`{"digest":"d1"}`)))
	require.Equal(t, "d1", seen)
}
