package environment

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockI2CBus is a mock implementation of sensorpipe.I2CBus using testify/mock.
// Reads copy the first return value into the caller's buffer.
type MockI2CBus struct {
	mock.Mock
}

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(buffer) {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockI2CBus) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockI2CBus) expectRegister(addr, register byte, data []byte) {
	m.On("WriteToAddr", mock.Anything, addr, []byte{register}).Return(nil).Once()
	m.On("ReadFromAddr", mock.Anything, addr, mock.Anything).Return(data, nil).Once()
}
