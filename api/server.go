// Package api implements the Request Adapter: a gin-gonic/gin HTTP server
// translating the S3-style path grammar into either a direct read against
// the Object Catalog / Chunk Store, or a mutation proposed to the
// Replication Core.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cargohold/catalog"
	"cargohold/chunkstore"
	"cargohold/cluster"
	"cargohold/multipart"
	"cargohold/sigv4"
)

// Server wires the storage components and the Replication Core into a
// gin.Engine. It holds no mutable state of its own beyond what its
// collaborators already own.
type Server struct {
	node    *cluster.Node
	cat     *catalog.Catalog
	chunks  *chunkstore.Store
	mp      *multipart.Store
	log     zerolog.Logger
	apiAddr string
	rpcAddr string
}

// New returns a Server ready to build a Router. apiAddr/rpcAddr are this
// node's own addresses, used by handleClusterInit to bootstrap a
// single-node cluster (the reference's POST /cluster/init carries an empty
// body, so the addresses can only come from the node's own configuration).
func New(node *cluster.Node, cat *catalog.Catalog, chunks *chunkstore.Store, mp *multipart.Store, log zerolog.Logger, apiAddr, rpcAddr string) *Server {
	return &Server{node: node, cat: cat, chunks: chunks, mp: mp, log: log, apiAddr: apiAddr, rpcAddr: rpcAddr}
}

// Router builds the gin.Engine. corsOrigins generalizes the teacher's two
// hardcoded origins into a configurable allow-list; creds parameterizes
// the sigv4 Auth Gate.
func (s *Server) Router(corsOrigins []string, creds sigv4.Credentials) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "PUT", "POST", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "x-amz-date", "x-amz-content-sha256", "x-amz-copy-source", "Content-Type"},
		ExposeHeaders:    []string{"ETag", "Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsOrigins) == 1 && corsOrigins[0] == "*" {
		// gin-contrib/cors rejects AllowCredentials combined with a literal
		// "*" in AllowOrigins; AllowAllOrigins is its wildcard escape hatch,
		// but credentialed requests can't be wildcarded, so drop the flag.
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = corsOrigins
	}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) { c.String(200, "ok") })

	cg := r.Group("/cluster")
	{
		cg.POST("/init", s.handleClusterInit)
		cg.POST("/add-learner", s.handleClusterAddLearner)
		cg.POST("/change-membership", s.handleClusterChangeMembership)
		cg.GET("/metrics", s.handleClusterMetrics)
	}

	g := r.Group("/")
	g.Use(sigv4.Middleware(creds))
	{
		g.GET("/", s.handleListBuckets)

		g.GET("/:bucket", s.handleListObjects)
		g.HEAD("/:bucket", s.handleHeadBucket)
		g.PUT("/:bucket", s.handleCreateBucket)
		g.DELETE("/:bucket", s.handleDeleteBucket)

		g.POST("/:bucket/*key", s.handlePostObject)
		g.HEAD("/:bucket/*key", s.handleHeadObject)
		g.PUT("/:bucket/*key", s.handlePutObject)
		g.DELETE("/:bucket/*key", s.handleDeleteObject)
		g.GET("/:bucket/*key", s.handleGetObject)
	}

	return r
}
