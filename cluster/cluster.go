// Package cluster implements the Replication Core: a hashicorp/raft group
// parameterized on a raftfsm.FSM, fronted by the cluster-management
// operations named in SPEC_FULL.md §4.7/§6 (add-voter, change-membership,
// init, metrics) plus the client write path (Propose).
//
// cluster.Node owns the *raft.Raft handle and its log/stable/snapshot
// stores; raftfsm.FSM is constructed independently and handed to
// raft.NewRaft by dependency injection, so no cycle survives between the
// state machine and the replication core the way the reference's Arc-based
// design has one.
package cluster

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"cargohold/raftfsm"
)

// Default Raft timers, chosen close to the reference's 250 ms heartbeat /
// min-299 ms election timeout (§5).
const (
	heartbeatTimeout = 250 * time.Millisecond
	electionTimeout  = 300 * time.Millisecond
	maxProposeRetry  = 3
)

// ErrNotLeader is returned by Propose when this node is not the Raft
// leader; LeaderAPIAddr carries the current leader's api-addr when known.
type ErrNotLeader struct {
	LeaderAPIAddr string
}

func (e *ErrNotLeader) Error() string {
	if e.LeaderAPIAddr == "" {
		return "cluster: not leader, no known leader api-addr"
	}
	return fmt.Sprintf("cluster: not leader, retry at %s", e.LeaderAPIAddr)
}

// Metrics is the projection returned by GET /cluster/metrics.
type Metrics struct {
	NodeID           string `json:"node_id"`
	Leader           string `json:"leader"`
	State            string `json:"state"`
	Term             uint64 `json:"term"`
	LastLogIndex     uint64 `json:"last_log_index"`
	LastAppliedIndex uint64 `json:"last_applied_index"`
}

// Node wraps a *raft.Raft instance together with the durable log/stable
// store, snapshot store, and TCP transport that back it, plus the
// auxiliary node-id -> api-addr map used for leader-redirect responses
// (hashicorp/raft itself only knows about rpc-addrs).
type Node struct {
	id   string
	raft *raft.Raft
	fsm  *raftfsm.FSM
	log  zerolog.Logger

	mu       sync.RWMutex
	apiAddrs map[raft.ServerID]string
}

// New constructs the Raft group rooted at <dataDir>/raft/<nodeID>, backed
// by raftboltdb for the log/stable store and a file snapshot store, and
// bound to rpcAddr via raft.NewTCPTransport. It does not bootstrap or join
// a cluster; call Init or AddVoter (from the leader) to do that.
func New(nodeID, dataDir, rpcAddr string, fsm *raftfsm.FSM, log zerolog.Logger) (*Node, error) {
	raftDir := filepath.Join(dataDir, "raft", nodeID)
	if err := os.MkdirAll(raftDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raft dir: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft-log.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft-stable.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft stable store: %w", err)
	}
	snapshots, err := raft.NewFileSnapshotStore(raftDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("open raft snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", rpcAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve rpc-addr %q: %w", rpcAddr, err)
	}
	transport, err := raft.NewTCPTransport(rpcAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("open raft transport: %w", err)
	}

	conf := raft.DefaultConfig()
	conf.LocalID = raft.ServerID(nodeID)
	conf.HeartbeatTimeout = heartbeatTimeout
	conf.ElectionTimeout = electionTimeout
	conf.LeaderLeaseTimeout = heartbeatTimeout
	conf.Logger = raftHCLogAdapter(log)

	r, err := raft.NewRaft(conf, fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("new raft: %w", err)
	}

	return &Node{
		id:       nodeID,
		raft:     r,
		fsm:      fsm,
		log:      log,
		apiAddrs: map[raft.ServerID]string{},
	}, nil
}

// Init bootstraps a brand-new single-node cluster with this node as the
// sole voter.
func (n *Node) Init(apiAddr, rpcAddr string) error {
	cfg := raft.Configuration{
		Servers: []raft.Server{{
			ID:      raft.ServerID(n.id),
			Address: raft.ServerAddress(rpcAddr),
		}},
	}
	if err := n.raft.BootstrapCluster(cfg).Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
	n.setAPIAddr(raft.ServerID(n.id), apiAddr)
	return nil
}

// AddVoter registers nodeID at rpcAddr as a full voting member, performing
// in one call what the reference's openraft-based design does as a
// separate add-learner-then-change-membership pair (§9 Open Question 8).
func (n *Node) AddVoter(nodeID, apiAddr, rpcAddr string) error {
	fut := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(rpcAddr), 0, 10*time.Second)
	if err := fut.Error(); err != nil {
		return fmt.Errorf("add voter %s: %w", nodeID, err)
	}
	n.setAPIAddr(raft.ServerID(nodeID), apiAddr)
	return nil
}

// ChangeMembership is a documented no-op, kept only for wire compatibility
// with the reference's two-step join flow; AddVoter already performs the
// full promotion (§9 Open Question 8, DESIGN.md).
func (n *Node) ChangeMembership() error {
	return nil
}

// Propose CBOR-encodes cmd via raftfsm.EncodeCommand and applies it through
// Raft. On a non-leader, it returns *ErrNotLeader carrying the known
// api-addr of the current leader (if any). Propose makes a single attempt;
// no code in this module retries or forwards the write to the leader (the
// api package's propose helper logs the error and drops it).
func (n *Node) Propose(cmd raftfsm.Command) (raftfsm.Result, error) {
	if n.raft.State() != raft.Leader {
		return raftfsm.Result{}, &ErrNotLeader{LeaderAPIAddr: n.currentLeaderAPIAddr()}
	}

	data, err := raftfsm.EncodeCommand(cmd)
	if err != nil {
		return raftfsm.Result{}, fmt.Errorf("encode command: %w", err)
	}

	fut := n.raft.Apply(data, 10*time.Second)
	if err := fut.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return raftfsm.Result{}, &ErrNotLeader{LeaderAPIAddr: n.currentLeaderAPIAddr()}
		}
		return raftfsm.Result{}, fmt.Errorf("raft apply: %w", err)
	}

	res, _ := fut.Response().(raftfsm.Result)
	return res, nil
}

// MaxProposeRetry is the leader-redirect retry bound of 3 attempts (§5).
// Propose does not read it, and nothing in this module retries.
const MaxProposeRetry = maxProposeRetry

// IsLeader reports whether this node currently holds Raft leadership.
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// Metrics projects raft.Raft.Stats() into the wire shape served by
// GET /cluster/metrics.
func (n *Node) Metrics() Metrics {
	stats := n.raft.Stats()
	return Metrics{
		NodeID:           n.id,
		Leader:           string(n.raft.Leader()),
		State:            n.raft.State().String(),
		Term:             parseStatUint(stats["term"]),
		LastLogIndex:     parseStatUint(stats["last_log_index"]),
		LastAppliedIndex: parseStatUint(stats["applied_index"]),
	}
}

// Shutdown gracefully stops the Raft group.
func (n *Node) Shutdown() error {
	return n.raft.Shutdown().Error()
}

func (n *Node) setAPIAddr(id raft.ServerID, apiAddr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.apiAddrs[id] = apiAddr
}

func (n *Node) currentLeaderAPIAddr() string {
	leaderRPC := n.raft.Leader()
	if leaderRPC == "" {
		return ""
	}
	cfgFut := n.raft.GetConfiguration()
	if err := cfgFut.Error(); err != nil {
		return ""
	}
	var leaderID raft.ServerID
	for _, srv := range cfgFut.Configuration().Servers {
		if srv.Address == leaderRPC {
			leaderID = srv.ID
			break
		}
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.apiAddrs[leaderID]
}

func parseStatUint(s string) uint64 {
	var v uint64
	_, _ = fmt.Sscanf(s, "%d", &v)
	return v
}
