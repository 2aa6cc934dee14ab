package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"connectrpc.com/connect"
)

// ErrPanicRecovered indicates an RPC handler panicked and was recovered.
var ErrPanicRecovered = errors.New("panic recovered in rpc handler")

// stackBufSize bounds the stack trace captured on panic.
const stackBufSize = 4096

// LoggingInterceptorOption returns a handler option installing the logging
// interceptor.
func LoggingInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(&loggingInterceptor{logger: logger})
}

// RecoveryInterceptorOption returns a handler option installing the
// recovery interceptor.
func RecoveryInterceptorOption(logger *slog.Logger) connect.HandlerOption {
	return connect.WithInterceptors(&recoveryInterceptor{logger: logger})
}

// loggingInterceptor logs every unary call and every handler stream with
// the procedure name, duration and error. Successful calls log at Info,
// failed calls at Warn.
type loggingInterceptor struct {
	logger *slog.Logger
}

var _ connect.Interceptor = (*loggingInterceptor)(nil)

func (i *loggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		i.log(ctx, req.Spec().Procedure, start, err)
		return resp, err
	}
}

func (i *loggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *loggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		err := next(ctx, conn)
		i.log(ctx, conn.Spec().Procedure, start, err)
		return err
	}
}

func (i *loggingInterceptor) log(ctx context.Context, procedure string, start time.Time, err error) {
	attrs := []slog.Attr{
		slog.String("procedure", procedure),
		slog.Duration("duration", time.Since(start)),
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		i.logger.LogAttrs(ctx, slog.LevelWarn, "rpc completed with error", attrs...)
		return
	}
	i.logger.LogAttrs(ctx, slog.LevelInfo, "rpc completed", attrs...)
}

// recoveryInterceptor turns handler panics into CodeInternal errors after
// logging the panic value and stack trace at Error level.
type recoveryInterceptor struct {
	logger *slog.Logger
}

var _ connect.Interceptor = (*recoveryInterceptor)(nil)

func (i *recoveryInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, retErr error) {
		defer i.recover(ctx, req.Spec().Procedure, &retErr)
		return next(ctx, req)
	}
}

func (i *recoveryInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *recoveryInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) (retErr error) {
		defer i.recover(ctx, conn.Spec().Procedure, &retErr)
		return next(ctx, conn)
	}
}

func (i *recoveryInterceptor) recover(ctx context.Context, procedure string, retErr *error) {
	r := recover()
	if r == nil {
		return
	}

	buf := make([]byte, stackBufSize)
	n := runtime.Stack(buf, false)

	i.logger.ErrorContext(ctx, "panic recovered in rpc handler",
		slog.String("procedure", procedure),
		slog.Any("panic", r),
		slog.String("stack", string(buf[:n])),
	)

	*retErr = connect.NewError(connect.CodeInternal, fmt.Errorf("%s: %w", procedure, ErrPanicRecovered))
}
