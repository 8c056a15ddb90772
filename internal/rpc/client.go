package rpc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/rpc"
	"time"

	"github.com/prxssh/mapreduce/internal/task"
)

// Kind classifies why a call did not succeed.
type Kind uint8

const (
	KindNone Kind = iota
	// KindUnreachable means no connection could be established.
	KindUnreachable
	// KindTimeout means the call exceeded its deadline.
	KindTimeout
	// KindCanceled means the caller gave up.
	KindCanceled
	// KindTransport covers reset connections and protocol errors.
	KindTransport
	// KindTask means the worker ran the task and reported a failure.
	KindTask
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnreachable:
		return "unreachable"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	case KindTransport:
		return "transport"
	case KindTask:
		return "task"
	default:
		return "unknown"
	}
}

// Outcome is the result of dispatching one task attempt.
type Outcome struct {
	OK   bool
	Kind Kind
	Err  error
}

func success() Outcome { return Outcome{OK: true} }

func failure(kind Kind, err error) Outcome {
	return Outcome{Kind: kind, Err: err}
}

const connected = "200 Connected to Go RPC"

// Dial connects to a Server at addr. The context bounds the connection
// handshake only.
func Dial(ctx context.Context, addr string) (*rpc.Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := io.WriteString(conn, "CONNECT "+rpc.DefaultRPCPath+" HTTP/1.0\n\n"); err != nil {
		_ = conn.Close()
		return nil, Error.Wrap(err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		_ = conn.Close()
		return nil, Error.Wrap(err)
	}
	if resp.Status != connected {
		_ = conn.Close()
		return nil, Error.New("unexpected HTTP response: %s", resp.Status)
	}

	_ = conn.SetDeadline(time.Time{})
	return rpc.NewClient(conn), nil
}

// Call dials addr, invokes method and waits for the reply or for ctx to end.
// Each call uses a fresh connection.
func Call(ctx context.Context, addr, method string, args, reply any) error {
	client, err := Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	call := client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return Error.Wrap(call.Error)
	case <-ctx.Done():
		return Error.Wrap(ctx.Err())
	}
}

// Client issues worker RPCs on behalf of the master. It never returns a
// transport error to the caller as a fault: every failure becomes an
// Outcome.
type Client struct {
	// Timeout bounds a single DoTask call. Zero means no limit beyond the
	// caller's context.
	Timeout time.Duration
}

// DoTask asks the worker at addr to run d.
func (c *Client) DoTask(ctx context.Context, addr string, d task.Descriptor) Outcome {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var reply DoTaskReply
	if err := Call(ctx, addr, MethodDoTask, &DoTaskArgs{Task: d}, &reply); err != nil {
		return failure(Classify(err), err)
	}
	if !reply.OK {
		return failure(KindTask, Error.New("%s on %s: %s", d, addr, reply.Err))
	}
	return success()
}

// Shutdown asks the worker at addr to stop and returns how many tasks it
// served.
func (c *Client) Shutdown(ctx context.Context, addr string) (int, error) {
	var reply ShutdownReply
	if err := Call(ctx, addr, MethodShutdown, &ShutdownArgs{}, &reply); err != nil {
		return 0, err
	}
	return reply.NTasks, nil
}

// Register announces a worker to the master at masterAddr.
func Register(ctx context.Context, masterAddr string, args *RegisterArgs) (RegisterReply, error) {
	var reply RegisterReply
	if err := Call(ctx, masterAddr, MethodRegister, args, &reply); err != nil {
		return RegisterReply{}, err
	}
	return reply, nil
}

// Classify maps a call error to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return KindTimeout
		}
		if opErr.Op == "dial" {
			return KindUnreachable
		}
	}

	return KindTransport
}
