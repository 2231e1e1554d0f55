package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cargohold/catalog"
	"cargohold/raftfsm"
)

func (s *Server) handleListBuckets(c *gin.Context) {
	infos, err := s.cat.ListBuckets()
	if err != nil {
		s.log.Error().Err(err).Msg("list buckets failed")
		c.Status(http.StatusInternalServerError)
		return
	}
	resp := listBucketRespXML{ID: "cargohold"}
	for _, info := range infos {
		resp.Buckets.Bucket = append(resp.Buckets.Bucket, bucketXML{
			Name:         info.Name,
			CreationDate: info.Created.Format(wireTimeLayout),
		})
	}
	c.XML(http.StatusOK, resp)
}

func (s *Server) handleListObjects(c *gin.Context) { s.listObjectsImpl(c, c.Param("bucket")) }

func (s *Server) listObjectsImpl(c *gin.Context, bucket string) {
	entries, err := s.cat.List(bucket, c.Query("prefix"))
	if err != nil {
		if err == catalog.ErrNotFound {
			c.XML(http.StatusNotFound, headNotFoundRespXML{NoExist: "1"})
			return
		}
		s.log.Error().Err(err).Str("bucket", bucket).Msg("list objects failed")
		c.Status(http.StatusInternalServerError)
		return
	}
	resp := listBucketResultXML{Name: bucket, Prefix: c.Query("prefix"), MaxKeys: 100000, IsTruncated: false}
	for _, e := range entries {
		resp.Contents = append(resp.Contents, contentXML{
			Key:          e.Key,
			LastModified: e.LastModified.Format(wireTimeLayout),
			Size:         e.Size,
		})
	}
	c.XML(http.StatusOK, resp)
}

func (s *Server) handleHeadBucket(c *gin.Context) { s.headBucketImpl(c, c.Param("bucket")) }

func (s *Server) headBucketImpl(c *gin.Context, bucket string) {
	if !s.cat.BucketExists(bucket) {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) handleCreateBucket(c *gin.Context) { s.createBucketImpl(c, c.Param("bucket")) }

func (s *Server) createBucketImpl(c *gin.Context, bucket string) {
	if strings.TrimSpace(bucket) == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	s.propose(c, raftfsm.Command{Op: raftfsm.OpCreateBucket, Bucket: bucket})
	c.Status(http.StatusOK)
}

func (s *Server) handleDeleteBucket(c *gin.Context) { s.deleteBucketImpl(c, c.Param("bucket")) }

func (s *Server) deleteBucketImpl(c *gin.Context, bucket string) {
	s.propose(c, raftfsm.Command{Op: raftfsm.OpDeleteBucket, Bucket: bucket})
	c.Status(http.StatusOK)
}
