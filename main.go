package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"monthend_back/authorization"
	"monthend_back/store"
	"monthend_back/workflow"
)

func mustLoadEnv() {
	_ = godotenv.Load()
}

func main() {
	mustLoadEnv()

	db, err := store.OpenFromEnv()
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	r := gin.Default()
	r.Use(cors.New(corsConfig()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authModule, err := authorization.RegisterRoutes(r, db)
	if err != nil {
		log.Fatalf("register auth routes: %v", err)
	}

	if _, err := workflow.RegisterRoutes(r, authModule.Guard(), db); err != nil {
		log.Fatalf("register workflow routes: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	if err := r.Run(":" + port); err != nil {
		log.Fatalf("start server: %v", err)
	}
}

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization")
	if origins := strings.TrimSpace(os.Getenv("CORS_ALLOW_ORIGINS")); origins != "" {
		cfg.AllowOrigins = strings.Split(origins, ",")
	} else {
		cfg.AllowAllOrigins = true
	}
	return cfg
}
