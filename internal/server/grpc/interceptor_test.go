package grpc

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/gophscribe/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordingLogger struct {
	logging.Logger
	warns, debugs int
}

func (r *recordingLogger) Debug(context.Context, string, ...any) { r.debugs++ }
func (r *recordingLogger) Warn(context.Context, string, ...any)  { r.warns++ }

func TestLoggingInterceptor(t *testing.T) {
	log := &recordingLogger{Logger: logging.Nop()}
	s := &HealthServer{logger: log}
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	resp, err := s.loggingInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}

	_, err = s.loggingInterceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("error not passed through: %v", err)
	}
	if log.debugs != 1 || log.warns != 1 {
		t.Fatalf("debugs=%d warns=%d, want 1 and 1", log.debugs, log.warns)
	}
}
