package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	evmrpc "github.com/Alert17/zkclear-core/internal/chain/evm/rpc"
)

func TestClassify_ExplicitMarkers(t *testing.T) {
	transient := Classify(Transient(errors.New("rpc timed out")))
	assert.Equal(t, ClassTransient, transient.Class)
	assert.Equal(t, "explicit_transient", transient.Reason)

	terminal := Classify(Terminal(errors.New("invalid params")))
	assert.Equal(t, ClassTerminal, terminal.Class)
	assert.Equal(t, "explicit_terminal", terminal.Reason)
}

func TestClassify_RepresentativeRuntimeErrors(t *testing.T) {
	testCases := []struct {
		name          string
		err           error
		expectedClass Class
	}{
		{
			name:          "grpc unavailable transient",
			err:           status.Error(codes.Unavailable, "collector unavailable"),
			expectedClass: ClassTransient,
		},
		{
			name:          "context deadline transient",
			err:           context.DeadlineExceeded,
			expectedClass: ClassTransient,
		},
		{
			name:          "jsonrpc server range transient",
			err:           &evmrpc.RPCError{Code: -32002, Message: "getLogs capped"},
			expectedClass: ClassTransient,
		},
		{
			name:          "jsonrpc invalid params terminal",
			err:           &evmrpc.RPCError{Code: -32602, Message: "invalid params"},
			expectedClass: ClassTerminal,
		},
		{
			name:          "proof rejection terminal",
			err:           errors.New("prover rejected witness: invalid proof"),
			expectedClass: ClassTerminal,
		},
		{
			name:          "rate limit transient",
			err:           errors.New("http status 429: too many requests"),
			expectedClass: ClassTransient,
		},
		{
			name:          "unknown defaults terminal",
			err:           errors.New("unexpected failure"),
			expectedClass: ClassTerminal,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			decision := Classify(tc.err)
			assert.Equal(t, tc.expectedClass, decision.Class)
		})
	}
}

func TestDelay(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	assert.Equal(t, base, Delay(1, base, max))
	assert.Equal(t, 200*time.Millisecond, Delay(2, base, max))
	assert.Equal(t, 400*time.Millisecond, Delay(3, base, max))
	assert.Equal(t, max, Delay(10, base, max))
	assert.Equal(t, 100*time.Millisecond, Delay(1, 0, 0))
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, Sleep(context.Background(), 0))
}
