package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleClusterInit bootstraps this node as the sole voter of a brand-new
// cluster. The request body is ignored (the reference's own body is `{}`);
// the addresses come from this node's own configuration.
func (s *Server) handleClusterInit(c *gin.Context) {
	if err := s.node.Init(s.apiAddr, s.rpcAddr); err != nil {
		s.log.Error().Err(err).Msg("cluster init failed")
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}

// handleClusterAddLearner promotes a joining node to full voting member in
// one call (cluster.AddVoter; see SPEC_FULL.md §9 note 8). The body is
// a 3-element JSON array: [node_id, api_addr, rpc_addr].
func (s *Server) handleClusterAddLearner(c *gin.Context) {
	var fields [3]string
	if err := json.NewDecoder(c.Request.Body).Decode(&fields); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	nodeID, apiAddr, rpcAddr := fields[0], fields[1], fields[2]
	if nodeID == "" || rpcAddr == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if err := s.node.AddVoter(nodeID, apiAddr, rpcAddr); err != nil {
		s.log.Error().Err(err).Str("node_id", nodeID).Msg("add-learner failed")
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusOK)
}

// handleClusterChangeMembership is a documented no-op, kept for wire
// compatibility with the reference's two-step join flow.
func (s *Server) handleClusterChangeMembership(c *gin.Context) {
	_ = s.node.ChangeMembership()
	c.Status(http.StatusOK)
}

func (s *Server) handleClusterMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.node.Metrics())
}
