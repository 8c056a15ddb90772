package master

import (
	"github.com/prxssh/mapreduce/internal/rpc"
)

// Register is an RPC method that is called by workers after they have
// started up to report that they are ready to receive tasks. It may be called
// before or during a job.
func (m *Master) Register(args *rpc.RegisterArgs, reply *rpc.RegisterReply) error {
	if args.Worker == "" {
		return Error.New("register: empty worker address")
	}

	m.logger.Debug("register request", "worker-addr", args.Worker, "worker-id", args.ID.String())
	reply.Seq = m.register(args.Worker, "rpc")
	return nil
}
