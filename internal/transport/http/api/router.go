// Package apihttp exposes the latest extraction and the run ledger over HTTP.
package apihttp

import (
	"context"
	"net/http"
	"strconv"

	"pbroadmap/internal/logger"
	"pbroadmap/internal/roadmap"
	"pbroadmap/internal/store"
	"pbroadmap/internal/store/runlog"

	"github.com/gin-gonic/gin"
)

// RunLister lists recent extraction runs.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]runlog.Run, error)
}

// Router 暴露 /api 下的查询接口。
type Router struct {
	Records   store.KeyValueStore
	Snapshots store.KeyValueStore
	OutputKey string
	Runs      RunLister
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/roadmap", r.handleSnapshot)
	group.GET("/roadmap/:id", r.handleFeature)
	group.GET("/runs", r.handleRuns)
}

func (r *Router) handleSnapshot(c *gin.Context) {
	if r.Snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not enabled"})
		return
	}
	var tree roadmap.Tree
	found, err := r.Snapshots.GetValue(c.Request.Context(), r.OutputKey, &tree)
	if err != nil {
		logger.Errorf("读取快照失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no extraction has completed yet"})
		return
	}
	if tree == nil {
		tree = roadmap.Tree{}
	}
	c.JSON(http.StatusOK, tree)
}

func (r *Router) handleFeature(c *gin.Context) {
	if r.Records == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store not enabled"})
		return
	}
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feature id required"})
		return
	}
	var feature roadmap.Feature
	found, err := r.Records.GetValue(c.Request.Context(), id, &feature)
	if err != nil {
		logger.Errorf("读取 feature %s 失败: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "feature not found"})
		return
	}
	c.JSON(http.StatusOK, feature)
}

func (r *Router) handleRuns(c *gin.Context) {
	if r.Runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run ledger not enabled"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > 200 {
		limit = 200
	}
	runs, err := r.Runs.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("读取运行记录失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []runlog.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
