package mocks

import (
	"context"

	"github.com/dukex/drip/pkg/delivery"
	"github.com/stretchr/testify/mock"
)

// MockGateway is a mock implementation of delivery.Gateway interface.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Send(ctx context.Context, message delivery.OutboundMessage) delivery.Result {
	args := m.Called(ctx, message)

	return args.Get(0).(delivery.Result)
}

func (m *MockGateway) MaxLength() int {
	args := m.Called()

	return args.Int(0)
}
