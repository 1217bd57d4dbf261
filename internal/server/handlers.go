package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"myroom/internal/domain"
)

type textSearchRequest struct {
	Query    string `json:"query" binding:"required"`
	TopK     int    `json:"top_k" binding:"omitempty,min=1"`
	Category string `json:"category"`
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"status": "error", "message": msg})
}

func (s *Server) health(c *gin.Context) {
	stats, err := s.search.Statistics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"uptime":     time.Since(s.started).Round(time.Second).String(),
		"entries":    stats.LiveItems,
		"generation": stats.Generation,
	})
}

func (s *Server) categories(c *gin.Context) {
	cats, err := s.search.Categories(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "categories": cats, "count": len(cats)})
}

func (s *Server) categoryItems(c *gin.Context) {
	category := c.Param("category")
	items, err := s.search.CategoryItems(c.Request.Context(), category)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []domain.Hit{}
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "category": category, "items": items, "count": len(items)})
}

func (s *Server) statistics(c *gin.Context) {
	stats, err := s.search.Statistics(c.Request.Context())
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "statistics": stats})
}

func (s *Server) lookup(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("catalog_id"), 10, 64)
	if err != nil || id <= 0 {
		errorJSON(c, http.StatusBadRequest, "catalog_id must be a positive integer")
		return
	}
	entry, found, err := s.search.Lookup(c.Request.Context(), id)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		errorJSON(c, http.StatusNotFound, "catalog entry not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "entry": entry})
}

func (s *Server) ownerItems(c *gin.Context) {
	ownerID, err := strconv.ParseInt(c.Param("owner_id"), 10, 64)
	if err != nil || ownerID <= 0 {
		errorJSON(c, http.StatusBadRequest, "owner_id must be a positive integer")
		return
	}
	items, err := s.search.OwnerItems(c.Request.Context(), ownerID)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "owner_id": ownerID, "items": items, "count": len(items)})
}

func (s *Server) latest(c *gin.Context) {
	limit := 1
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	items, err := s.search.Latest(c.Request.Context(), limit)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err.Error())
		return
	}
	if len(items) == 0 {
		errorJSON(c, http.StatusNotFound, "catalog has no searchable entries")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "items": items, "count": len(items)})
}

func (s *Server) searchText(c *gin.Context) {
	var req textSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	resp := s.search.SearchByText(c.Request.Context(), req.Query, req.TopK, req.Category)
	s.respond(c, resp, gin.H{"query": req.Query})
}

func (s *Server) searchImage(c *gin.Context) {
	image, err := s.readImage(c, true)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	topK, err := formInt(c, "top_k")
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	resp := s.search.SearchByImage(c.Request.Context(), image, topK, c.PostForm("category"))
	s.respond(c, resp, nil)
}

func (s *Server) searchHybrid(c *gin.Context) {
	query := c.PostForm("query")
	image, err := s.readImage(c, false)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	if query == "" && len(image) == 0 {
		errorJSON(c, http.StatusBadRequest, "query or image is required")
		return
	}
	topK, err := formInt(c, "top_k")
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	resp := s.search.HybridSearch(c.Request.Context(), query, image, topK, c.PostForm("category"))
	s.respond(c, resp, gin.H{"query": query})
}

// analyze accepts a room photo as the "image" form file and recommends
// furniture of the form's category.
func (s *Server) analyze(c *gin.Context) {
	image, err := s.readImage(c, true)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	topK, err := formInt(c, "top_k")
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err.Error())
		return
	}

	analysis, rec, err := s.recommend.Recommend(c.Request.Context(), image, c.PostForm("category"), topK)
	if err != nil {
		s.logger.Warn("room analysis failed", "error", err)
		status := http.StatusBadGateway
		if !domain.Retryable(err) {
			status = http.StatusUnprocessableEntity
		}
		errorJSON(c, status, err.Error())
		return
	}

	body := gin.H{"status": "success", "room_analysis": analysis, "recommendation": rec}
	if rec.Status == domain.SearchWarning {
		body["status"] = "warning"
		body["message"] = rec.Warning
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) respond(c *gin.Context, resp domain.SearchResponse, extra gin.H) {
	body := gin.H{"results": resp.Results, "count": len(resp.Results)}
	for k, v := range extra {
		body[k] = v
	}
	if resp.Status == domain.SearchWarning {
		body["status"] = "warning"
		body["message"] = resp.Warning
	} else {
		body["status"] = "success"
	}
	c.JSON(http.StatusOK, body)
}

var errNoImage = errors.New("image file is required")

// readImage returns the uploaded "image" form file, or nil when it is
// optional and absent.
func (s *Server) readImage(c *gin.Context, required bool) ([]byte, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		if !required && errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, errNoImage
	}
	if s.cfg.MaxUploadBytes > 0 && fh.Size > s.cfg.MaxUploadBytes {
		return nil, errors.New("image file is too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func formInt(c *gin.Context, key string) (int, error) {
	raw := c.PostForm(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a positive integer")
	}
	return n, nil
}
