package interceptors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

func TestUnary_PassesThrough(t *testing.T) {
	interceptor := NewLoggingInterceptor(logger.Nop()).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := interceptor(context.Background(), "req", info, func(_ context.Context, req interface{}) (interface{}, error) {
		return req.(string) + "-ok", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "req-ok", resp)
}

func TestUnary_RecoversPanic(t *testing.T) {
	interceptor := NewLoggingInterceptor(logger.Nop()).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Panic"}

	resp, err := interceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		panic("boom")
	})

	assert.Nil(t, resp)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestUnary_KeepsHandlerError(t *testing.T) {
	interceptor := NewLoggingInterceptor(logger.Nop()).Unary()
	info := &grpc.UnaryServerInfo{FullMethod: "/test/Fail"}

	_, err := interceptor(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "missing")
	})

	assert.Equal(t, codes.NotFound, status.Code(err))
}
