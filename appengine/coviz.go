package coviz

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"google.golang.org/appengine"

	"github.com/googlegenomics/coviz/internal/server"
)

func init() {
	cfg, err := server.FromEnv(os.Getenv)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if err := cfg.Build(context.Background(), router); err != nil {
		log.Fatalf("Failed to start coviz: %v", err)
	}
	http.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		router.ServeHTTP(w, req.WithContext(appengine.NewContext(req)))
	})
}
