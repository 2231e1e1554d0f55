package api

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cargohold/catalog"
	"cargohold/chunkstore"
	"cargohold/multipart"
	"cargohold/raftfsm"
)

// objectKey strips the leading '/' gin's *key wildcard always carries.
func objectKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

func (s *Server) handlePostObject(c *gin.Context) {
	bucket, key := c.Param("bucket"), objectKey(c)
	if key == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if uploadID := c.Query("uploadId"); uploadID != "" {
		s.completeMultipart(c, bucket, key, uploadID)
		return
	}
	s.initiateMultipart(c, bucket, key)
}

func (s *Server) initiateMultipart(c *gin.Context, bucket, key string) {
	uploadID := uuid.New().String()
	s.propose(c, raftfsm.Command{
		Op:       raftfsm.OpInitChunk,
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
		Now:      time.Now().UnixNano(),
	})
	c.XML(http.StatusOK, initiateMultipartUploadResultXML{Bucket: bucket, ObjectKey: key, UploadID: uploadID})
}

func (s *Server) completeMultipart(c *gin.Context, bucket, key, uploadID string) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	var req completeMultipartUploadXML
	if err := xml.Unmarshal(body, &req); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	parts := make([]multipart.Part, len(req.Parts))
	for i, p := range req.Parts {
		parts[i] = multipart.Part{Number: p.PartNumber, ETag: p.ETag}
	}

	res := s.propose(c, raftfsm.Command{
		Op:       raftfsm.OpCombineChunk,
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
		Parts:    parts,
		Now:      time.Now().UnixNano(),
	})
	if res.Err != nil {
		if errors.Is(res.Err, multipart.ErrNotInitialized) || errors.Is(res.Err, multipart.ErrIncompleteParts) {
			s.log.Warn().Err(res.Err).Str("upload_id", uploadID).Msg("multipart finalize conflict")
			c.String(http.StatusInternalServerError, "multipart finalize failed: %s", res.Err.Error())
			return
		}
		s.log.Error().Err(res.Err).Str("upload_id", uploadID).Msg("multipart finalize failed")
		c.Status(http.StatusInternalServerError)
		return
	}

	etag := md5.Sum([]byte(bucket + "/" + key))
	c.XML(http.StatusOK, completeMultipartUploadResultXML{
		BucketName: bucket,
		ObjectKey:  key,
		ETag:       hex.EncodeToString(etag[:]),
	})
}

func (s *Server) handleHeadObject(c *gin.Context) {
	bucket, key := c.Param("bucket"), objectKey(c)
	if key == "" {
		s.headBucketImpl(c, bucket)
		return
	}
	head, err := s.cat.Head(bucket, key)
	if err != nil {
		c.XML(http.StatusNotFound, headNotFoundRespXML{NoExist: "1"})
		return
	}
	setObjectHeaders(c, head)
	c.Status(http.StatusOK)
}

func (s *Server) handleGetObject(c *gin.Context) {
	bucket, key := c.Param("bucket"), objectKey(c)
	if key == "" {
		s.listObjectsImpl(c, bucket)
		return
	}
	rec, err := s.cat.Load(bucket, key)
	if err != nil {
		c.XML(http.StatusNotFound, headNotFoundRespXML{NoExist: "1"})
		return
	}
	setObjectHeaders(c, catalog.Head{Name: rec.Name, Size: rec.Size, FileType: rec.FileType, Time: rec.Time})

	rc := s.chunks.GetStream(rec.Chunks)
	defer rc.Close()
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}

func setObjectHeaders(c *gin.Context, head catalog.Head) {
	c.Header("Content-Length", strconv.FormatUint(head.Size, 10))
	c.Header("Last-Modified", head.Time.Format(wireTimeLayout))
	c.Header("Content-Type", head.FileType)
	c.Header("Content-Disposition", `attachment; filename="`+head.Name+`"`)
}

func (s *Server) handlePutObject(c *gin.Context) {
	bucket, key := c.Param("bucket"), objectKey(c)
	if key == "" {
		s.createBucketImpl(c, bucket)
		return
	}

	if uploadID := c.Query("uploadId"); uploadID != "" && c.Query("partNumber") != "" {
		s.uploadPart(c, uploadID, bucket, key)
		return
	}
	if src := c.GetHeader("x-amz-copy-source"); src != "" {
		s.copyObject(c, src, bucket, key)
		return
	}
	s.uploadWhole(c, bucket, key)
}

func (s *Server) uploadWhole(c *gin.Context, bucket, key string) {
	var buf bytes.Buffer
	buf.Grow(chunkstore.DefaultChunkSize)
	if _, err := io.Copy(&buf, c.Request.Body); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	s.propose(c, raftfsm.Command{
		Op:     raftfsm.OpUploadFile,
		Bucket: bucket,
		Key:    key,
		Body:   buf.Bytes(),
		Now:    time.Now().UnixNano(),
	})
	c.Status(http.StatusOK)
}

func (s *Server) uploadPart(c *gin.Context, uploadID, bucket, key string) {
	partNumber, err := strconv.Atoi(c.Query("partNumber"))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	var buf bytes.Buffer
	buf.Grow(chunkstore.DefaultChunkSize)
	if _, err := io.Copy(&buf, c.Request.Body); err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	hash := chunkstore.SumHash(buf.Bytes())
	s.propose(c, raftfsm.Command{
		Op:         raftfsm.OpUploadChunk,
		UploadID:   uploadID,
		PartNumber: partNumber,
		Hash:       hash,
		Body:       buf.Bytes(),
	})
	c.Header("ETag", hash)
	c.Status(http.StatusOK)
}

func (s *Server) copyObject(c *gin.Context, copySource, destBucket, destKey string) {
	s.propose(c, raftfsm.Command{
		Op:         raftfsm.OpCopyFile,
		CopySource: copySource,
		DestBucket: destBucket,
		DestKey:    destKey,
		Now:        time.Now().UnixNano(),
	})
	c.Status(http.StatusOK)
}

func (s *Server) handleDeleteObject(c *gin.Context) {
	bucket, key := c.Param("bucket"), objectKey(c)
	if key == "" {
		s.deleteBucketImpl(c, bucket)
		return
	}
	s.propose(c, raftfsm.Command{Op: raftfsm.OpDeleteFile, Bucket: bucket, Key: key})
	c.Status(http.StatusOK)
}
