package api

import (
	"github.com/gin-gonic/gin"
	"github.com/haruki/chronosearch/internal/api/handler"
	"github.com/haruki/chronosearch/internal/api/middleware"
	"github.com/haruki/chronosearch/internal/repository"
	"github.com/haruki/chronosearch/internal/service"
	"github.com/haruki/chronosearch/internal/storage"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	searchService *service.SearchService,
	indexerService *service.IndexerService,
	videoRepo *repository.VideoRepository,
	blobs storage.ObjectStorage,
	mode string,
	cors middleware.CORSConfig,
) *gin.Engine {
	// Set Gin mode
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cors))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	searchHandler := handler.NewSearchHandler(searchService)
	videoHandler := handler.NewVideoHandler(videoRepo, blobs, indexerService)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Search
		v1.POST("/search", searchHandler.Search)
		v1.POST("/search_global", searchHandler.SearchGlobal)

		// Videos
		v1.POST("/videos", videoHandler.Upload)
		v1.GET("/videos/:id", videoHandler.Get)
		v1.GET("/videos/:id/status", videoHandler.Status)
		v1.POST("/videos/:id/reindex", videoHandler.Reindex)
		v1.PATCH("/videos/:id/visibility", videoHandler.UpdateVisibility)
		v1.DELETE("/videos/:id", videoHandler.Delete)

		// Listings
		v1.GET("/feed", videoHandler.Feed)
		v1.GET("/my_videos", videoHandler.MyVideos)
	}

	return r
}
