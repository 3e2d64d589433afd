package capture

import (
	"context"
	"fmt"

	"github.com/cartloom/capture-service/internal/gateway"
)

type captureCall struct {
	intentID string
	amount   int64
	key      string
}

// fakeGateway records every call so tests can assert on exact gateway
// traffic, including the all-important zero-call cases.
type fakeGateway struct {
	holdStates  map[string]gateway.HoldState
	captureErrs map[string]error
	cancelErrs  map[string]error

	retrieves []string
	captures  []captureCall
	cancels   []string
}

var _ gateway.Client = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		holdStates:  make(map[string]gateway.HoldState),
		captureErrs: make(map[string]error),
		cancelErrs:  make(map[string]error),
	}
}

func (f *fakeGateway) RetrieveHold(_ context.Context, intentID string) (gateway.HoldState, error) {
	f.retrieves = append(f.retrieves, intentID)
	st, ok := f.holdStates[intentID]
	if !ok {
		return gateway.HoldState{}, fmt.Errorf("no such intent %s", intentID)
	}
	return st, nil
}

func (f *fakeGateway) Capture(_ context.Context, intentID string, amount int64, key string) (gateway.CaptureResult, error) {
	f.captures = append(f.captures, captureCall{intentID: intentID, amount: amount, key: key})
	if err := f.captureErrs[intentID]; err != nil {
		return gateway.CaptureResult{}, err
	}
	return gateway.CaptureResult{Status: gateway.HoldCompleted}, nil
}

func (f *fakeGateway) CancelPayment(_ context.Context, paymentID string) error {
	f.cancels = append(f.cancels, paymentID)
	return f.cancelErrs[paymentID]
}

func (f *fakeGateway) gatewayCalls() int {
	return len(f.retrieves) + len(f.captures) + len(f.cancels)
}
