package rpc

import (
	"github.com/google/uuid"

	"github.com/prxssh/mapreduce/internal/task"
)

// Service method names. Field names of the argument and reply types must
// stay exported for gob.
const (
	MethodRegister = "Master.Register"
	MethodDoTask   = "Worker.DoTask"
	MethodShutdown = "Worker.Shutdown"
)

// RegisterArgs is sent by a worker to the master once it is ready to serve
// tasks.
type RegisterArgs struct {
	// Worker is the RPC address the master dials to reach the worker.
	Worker string

	// ID identifies the worker process instance in logs.
	ID uuid.UUID
}

type RegisterReply struct {
	// Seq is the master's registration sequence number for this call.
	Seq int64
}

type DoTaskArgs struct {
	Task task.Descriptor
}

// DoTaskReply reports the result of one task attempt. A task-local failure
// is a normal reply with OK unset, not an RPC error.
type DoTaskReply struct {
	OK  bool
	Err string
}

type ShutdownArgs struct{}

// ShutdownReply holds the number of tasks the worker has processed since it
// was started.
type ShutdownReply struct {
	NTasks int
}
