package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	sets     map[string]string
	ttls     map[string]time.Duration
	channels []string
	err      error
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.sets[key] = string(value.([]byte))
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, _ interface{}) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	return redis.NewIntResult(1, nil)
}

type fakeNATS struct {
	subjects []string
	payloads [][]byte
	closed   bool
	err      error
}

func (f *fakeNATS) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subj)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeNATS) Close() { f.closed = true }

func testEvent() Event {
	return Event{
		Device: "bench.1",
		RunID:  "run-1",
		Topic:  TopicStats,
		At:     time.Unix(1700000000, 0).UTC(),
		Data:   map[string]int{"pairs": 3},
	}
}

func TestRedisPublish(t *testing.T) {
	fr := &fakeRedis{sets: map[string]string{}, ttls: map[string]time.Duration{}}
	p := NewRedis(fr, "vndstream", time.Minute)

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	key := "vndstream:bench.1:stats"
	require.Contains(t, fr.sets, key)
	assert.Equal(t, time.Minute, fr.ttls[key])
	assert.Equal(t, []string{key}, fr.channels)

	var got Event
	require.NoError(t, json.Unmarshal([]byte(fr.sets[key]), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, TopicStats, got.Topic)

	fr.err = errors.New("connection refused")
	err := p.Publish(context.Background(), testEvent())
	assert.ErrorContains(t, err, "redis set")
	assert.NoError(t, p.Close())
}

func TestNATSPublish(t *testing.T) {
	fc := &fakeNATS{}
	p := NewNATS(fc, "vndstream.")

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	assert.Equal(t, []string{"vndstream.stats", "vndstream.bench_1.stats"}, fc.subjects)

	ev := testEvent()
	ev.Device = ""
	ev.Topic = TopicReport
	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, "vndstream.report", fc.subjects[2])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, ev), context.Canceled)

	require.NoError(t, p.Close())
	assert.True(t, fc.closed)
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &fakeNATS{}
	bad := &fakeNATS{err: errors.New("no responders")}
	p := Combine(NewNATS(ok, "a"), nil, NewNATS(bad, "b"))

	err := p.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
	assert.Len(t, ok.subjects, 2)
	require.NoError(t, p.Close())
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
}

func TestCombine(t *testing.T) {
	assert.Equal(t, Nop{}, Combine())
	assert.Equal(t, Nop{}, Combine(nil, nil))

	single := NewNATS(&fakeNATS{}, "x")
	assert.Same(t, single, Combine(single).(*NATS))
	assert.Len(t, Combine(single, Nop{}).(Fanout), 2)
}
