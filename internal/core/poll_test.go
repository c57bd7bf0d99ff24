package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	prov "github.com/3cpo-dev/bootnode/internal/providers"
)

func fixedPoll(timeout time.Duration) PollOptions {
	return PollOptions{Backoff: prov.Backoff{Initial: time.Second, Factor: 1}, Timeout: timeout}
}

func TestWaitForAddressThirdTick(t *testing.T) {
	log := &eventLog{}
	c := &fakeCompute{events: log, replies: []reply{{}, {}, {addr: "54.66.1.2"}}}

	addr, queries, err := WaitForAddress(context.Background(), c, "i-1", DefaultPollOptions(), log.sleep)
	require.NoError(t, err)
	assert.Equal(t, "54.66.1.2", addr)
	assert.Equal(t, 3, queries)
	assert.Equal(t, 3, c.queries)
	assert.Equal(t, []string{
		"sleep 1s", "describe",
		"sleep 1.5s", "describe",
		"sleep 2.25s", "describe",
	}, log.list())
}

func TestWaitForAddressPredicate(t *testing.T) {
	tests := []struct {
		name    string
		replies []reply
		want    string
		queries int
	}{
		{"ipv4", []reply{{addr: "203.0.113.9"}}, "203.0.113.9", 1},
		{"ipv6", []reply{{addr: ""}, {addr: "2001:db8::1"}}, "2001:db8::1", 2},
		{"no separator is not an address", []reply{{addr: "pending"}, {addr: "10.0.0.1"}}, "10.0.0.1", 2},
		{"not found keeps polling", []reply{{err: prov.ErrNotFound}, {err: prov.ErrNotFound}, {addr: "1.2.3.4"}}, "1.2.3.4", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &eventLog{}
			c := &fakeCompute{replies: tt.replies}
			addr, queries, err := WaitForAddress(context.Background(), c, "i-1", fixedPoll(time.Minute), log.sleep)
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr)
			assert.Equal(t, tt.queries, queries)
		})
	}
}

func TestWaitForAddressDescribeError(t *testing.T) {
	denied := errors.New("UnauthorizedOperation")
	log := &eventLog{}
	c := &fakeCompute{replies: []reply{{}, {err: denied}, {addr: "1.2.3.4"}}}

	_, queries, err := WaitForAddress(context.Background(), c, "i-1", fixedPoll(time.Minute), log.sleep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, denied))
	assert.False(t, errors.Is(err, ErrTimedOut))
	assert.Equal(t, 2, queries)
}

func TestWaitForAddressTimeout(t *testing.T) {
	log := &eventLog{}
	c := &fakeCompute{}

	_, queries, err := WaitForAddress(context.Background(), c, "i-1", fixedPoll(5*time.Second), log.sleep)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimedOut))
	assert.Equal(t, 5, queries)
	assert.Equal(t, 5, c.queries)
}

func TestWaitForAddressCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &fakeCompute{replies: []reply{{addr: "1.2.3.4"}}}

	_, queries, err := WaitForAddress(ctx, c, "i-1", fixedPoll(time.Minute), prov.Sleep)
	require.Error(t, err)
	assert.Equal(t, 0, queries)
	assert.Equal(t, 0, c.queries)
}
