// Package discovery lets workers announce themselves to the master over a
// gossip membership protocol instead of, or in addition to, the Register RPC.
//
// Every worker node advertises its task RPC address as node metadata. The
// master node hands each newly joined address to its join callback, which
// feeds the same pool the Register RPC feeds. Departures are only logged:
// the pool has no notion of dead workers, a worker that stops answering is
// dropped by the scheduler on its first failed task.
package discovery

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"github.com/zeebo/errs"
)

// Error is the error class for membership failures.
var Error = errs.Class("discovery")

// Config for a membership node.
type Config struct {
	// Name uniquely identifies the node in the cluster. Empty picks a random
	// one.
	Name string

	// BindAddr and BindPort are where the gossip listener binds. Port 0
	// picks a free port.
	BindAddr string
	BindPort int

	// Join lists gossip addresses ("host:port") of existing members.
	Join []string

	// Meta is advertised to all members. Workers put their task RPC address
	// here; the master leaves it empty.
	Meta string
}

// JoinFunc is called with the metadata of every member that joins and
// advertises a non-empty Meta.
type JoinFunc func(name, meta string)

// Node is one member of the gossip cluster.
type Node struct {
	ml     *memberlist.Memberlist
	logger *slog.Logger
	meta   []byte
	onJoin JoinFunc
}

// New creates a node and joins cfg.Join if given.
func New(cfg Config, onJoin JoinFunc, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = uuid.NewString()
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1"
	}

	n := &Node{
		logger: logger.With("node", cfg.Name),
		meta:   []byte(cfg.Meta),
		onJoin: onJoin,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.Name
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.ProbeInterval = 1 * time.Second
	mlConfig.ProbeTimeout = 500 * time.Millisecond
	mlConfig.GossipInterval = 200 * time.Millisecond
	mlConfig.Delegate = n
	mlConfig.Events = n
	mlConfig.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelDebug)

	if len(n.meta) > memberlist.MetaMaxSize {
		return nil, Error.New("meta exceeds %d bytes", memberlist.MetaMaxSize)
	}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, Error.New("create memberlist: %v", err)
	}
	n.ml = ml

	if len(cfg.Join) > 0 {
		joined, err := ml.Join(cfg.Join)
		if err != nil {
			_ = ml.Shutdown()
			return nil, Error.New("join %v: %v", cfg.Join, err)
		}
		n.logger.Info("joined cluster", "contacted", joined, "members", ml.NumMembers())
	}

	return n, nil
}

// Addr returns the gossip address other nodes can join.
func (n *Node) Addr() string {
	return n.ml.LocalNode().Address()
}

// NumMembers returns the number of live members, including this node.
func (n *Node) NumMembers() int {
	return n.ml.NumMembers()
}

// Leave announces departure and stops the node.
func (n *Node) Leave(timeout time.Duration) error {
	return errs.Combine(Error.Wrap(n.ml.Leave(timeout)), Error.Wrap(n.ml.Shutdown()))
}

// NotifyJoin implements memberlist.EventDelegate.
func (n *Node) NotifyJoin(node *memberlist.Node) {
	meta := string(node.Meta)
	n.logger.Info("member joined", "member", node.Name, "gossip-addr", node.Address(), "meta", meta)
	if meta != "" && n.onJoin != nil {
		n.onJoin(node.Name, meta)
	}
}

// NotifyLeave implements memberlist.EventDelegate.
func (n *Node) NotifyLeave(node *memberlist.Node) {
	n.logger.Info("member left", "member", node.Name, "meta", string(node.Meta))
}

// NotifyUpdate implements memberlist.EventDelegate.
func (n *Node) NotifyUpdate(node *memberlist.Node) {
	n.logger.Debug("member updated", "member", node.Name)
}

// NodeMeta implements memberlist.Delegate.
func (n *Node) NodeMeta(limit int) []byte {
	if len(n.meta) > limit {
		return nil
	}
	return n.meta
}

// NotifyMsg implements memberlist.Delegate. No user messages are exchanged.
func (n *Node) NotifyMsg([]byte) {}

// GetBroadcasts implements memberlist.Delegate.
func (n *Node) GetBroadcasts(overhead, limit int) [][]byte { return nil }

// LocalState implements memberlist.Delegate.
func (n *Node) LocalState(join bool) []byte { return nil }

// MergeRemoteState implements memberlist.Delegate.
func (n *Node) MergeRemoteState(buf []byte, join bool) {}
