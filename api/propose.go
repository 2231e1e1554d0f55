package api

import (
	"github.com/gin-gonic/gin"

	"cargohold/raftfsm"
)

// propose submits cmd to the Replication Core. Raft-level propose failures
// (not leader, leadership lost, transport errors) are logged and swallowed
// here — the handler proceeds as if the write succeeded, per the
// propagation policy this implementation intentionally preserves (§7/§9
// note 1). The FSM-level Result.Err channel is NOT swallowed: callers
// still see multipart-finalize Conflicts and other apply-time failures.
func (s *Server) propose(c *gin.Context, cmd raftfsm.Command) raftfsm.Result {
	res, err := s.node.Propose(cmd)
	if err != nil {
		s.log.Warn().Err(err).Str("op", string(cmd.Op)).Msg("propose error swallowed")
		return raftfsm.Result{}
	}
	return res
}
