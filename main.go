package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"sitesmith/db"
	"sitesmith/handlers"
	"sitesmith/services"
	"sitesmith/sitefiles"
	"sitesmith/workflows"
)

func main() {
	// Load Env Vars (.env takes precedence over system env)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or defaults")
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatalln("OPENAI_API_KEY environment variable not set")
	}

	port := getenv("APP_PORT", "3000")
	baseURL := getenv("BASE_URL", "http://localhost:"+port)
	uploadDir := getenv("UPLOAD_DIR", "uploads")
	sitesDir := getenv("SITES_DIR", "generated_sites")
	dbPath := getenv("DB_PATH", "sitesmith.db")

	// Init Database
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()
	runStore := db.NewRunStore(database)

	// Init Services
	llm := services.NewLLMService(apiKey, os.Getenv("OPENAI_MODEL"))
	imageSvc := services.NewImageService(apiKey, os.Getenv("DALLE_MODEL"))
	fetcher, err := services.NewImageFetcher(imageSvc, uploadDir, baseURL)
	if err != nil {
		log.Fatalf("Failed to initialize image storage: %v", err)
	}
	if err := fetcher.EnsurePlaceholder(); err != nil {
		log.Printf("Could not write placeholder image: %v", err)
	}

	siteManager, err := sitefiles.NewManager(sitesDir)
	if err != nil {
		log.Fatalf("Failed to initialize site storage: %v", err)
	}

	// Init Pipeline
	catalog := workflows.NewCatalog()
	pipeline := &workflows.Pipeline{
		Planner:   llm,
		Text:      llm,
		Images:    fetcher,
		Sites:     siteManager,
		Runs:      runStore,
		Fallbacks: catalog,
	}
	if v := os.Getenv("SITE_GIT_INIT"); v == "1" || strings.EqualFold(v, "true") {
		pipeline.Publisher = services.NewGitService()
	}

	// Init Router and Handlers
	r := chi.NewRouter()
	r.Use(middleware.Logger, middleware.Recoverer)
	limiter := handlers.NewRateLimiter(5, 10)
	r.Use(limiter.Middleware)

	h := handlers.NewHandler(pipeline, llm, fetcher, runStore, catalog, uploadDir, sitesDir)
	h.RegisterRoutes(r)

	// Start HTTP Server
	addr := ":" + port
	log.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
