// main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/geopulse/geo-workflows/internal/config"
	"github.com/geopulse/geo-workflows/internal/store"
	"github.com/geopulse/geo-workflows/services"
	"github.com/geopulse/geo-workflows/workflows"
	"github.com/inngest/inngestgo"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/qdrant/go-client/qdrant"
	"github.com/typesense/typesense-go/v2/typesense"
)

// connectDatabase opens the Postgres pool using our config structure
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, "postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("dev.env"); err != nil {
			log.Printf("Note: No .env or dev.env file loaded: %v", err)
		} else {
			log.Printf("Loaded dev.env file for local development")
		}
	} else {
		log.Printf("Loaded .env file")
	}

	cfg := config.Load()

	log.Printf("Environment: %s", cfg.Environment)
	log.Printf("Port: %s", cfg.Port)
	log.Printf("Database Host: %s", cfg.Database.Host)
	log.Printf("Database Name: %s", cfg.Database.Name)

	if len(cfg.Tagging.GeminiAPIKeys) == 0 {
		log.Printf("WARNING: No Gemini API keys loaded, tagging will fail!")
	} else {
		log.Printf("Gemini credentials loaded: %d keys in rotation", len(cfg.Tagging.GeminiAPIKeys))
	}
	if cfg.OpenAIAPIKey == "" {
		log.Printf("WARNING: OpenAI API key not loaded!")
	} else {
		log.Printf("OpenAI API key loaded (length: %d)", len(cfg.OpenAIAPIKey))
	}

	ctx := context.Background()
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("Successfully connected to database")

	setStore := store.NewPostgresQuestionSetStore(db)
	metricsStore := store.NewPostgresMetricsStore(db)
	log.Printf("Document stores initialized")

	if cfg.Environment == "development" || cfg.Environment == "" {
		os.Unsetenv("INNGEST_SIGNING_KEY")
		cfg.InngestSigningKey = ""
		log.Printf("Running in development mode - signing key verification disabled")
	}

	// Core services.
	costService := services.NewCostService()
	geminiProvider := services.NewGeminiProvider(cfg, cfg.Tagging.Model, costService)
	openAIService := services.NewOpenAIProvider(cfg, "gpt-4.1", costService)

	var credentials []services.Credential
	for i, key := range cfg.Tagging.GeminiAPIKeys {
		credentials = append(credentials, services.Credential{
			Name: fmt.Sprintf("gemini-key-%d", i+1),
			Key:  key,
		})
	}
	if len(credentials) == 0 {
		// Boot anyway; tagging calls will fail with a clear error instead
		// of the whole service refusing to start.
		credentials = []services.Credential{{Name: "gemini-key-missing", Key: ""}}
	}
	rotator, err := services.NewCredentialRotator(credentials, geminiProvider)
	if err != nil {
		log.Fatalf("Failed to create credential rotator: %v", err)
	}

	taggingService := services.NewTaggingService(geminiProvider, rotator, setStore, cfg)
	metricsService := services.NewMetricsService(metricsStore)
	answerProvider := services.NewProviderForModel(cfg, cfg.AnswerModel, costService)
	answerService := services.NewAnswerService(answerProvider, setStore)
	analysisService := services.NewAnalysisService(openAIService)
	log.Printf("Pipeline services initialized")

	// Optional answer index on Qdrant + Typesense.
	var indexService services.AnswerIndexService
	if cfg.AnswerIndex {
		log.Println("Attempting to initialize Qdrant client...")
		qdrantClient, err := qdrant.NewClient(&qdrant.Config{
			Host: cfg.Qdrant.Host,
			Port: cfg.Qdrant.Port,
		})
		if err != nil {
			log.Fatalf("Failed to create Qdrant client: %v", err)
		}

		typesenseClient := typesense.NewClient(
			typesense.WithServer(fmt.Sprintf("http://%s:%d", cfg.Typesense.Host, cfg.Typesense.Port)),
			typesense.WithAPIKey(cfg.Typesense.APIKey),
		)

		indexService = services.NewAnswerIndexService(qdrantClient, typesenseClient, openAIService)
		if err := indexService.EnsureCollections(ctx); err != nil {
			log.Fatalf("Failed to prepare answer index collections: %v", err)
		}
		log.Printf("Answer index service initialized")
	} else {
		log.Printf("Answer index disabled")
	}

	// Create Inngest client
	client, err := inngestgo.NewClient(
		inngestgo.ClientOpts{
			AppID:    "geo-workflows",
			EventKey: inngestgo.StrPtr(cfg.InngestEventKey),
			Env:      inngestgo.StrPtr(cfg.Environment),
		},
	)
	if err != nil {
		log.Fatalf("Failed to create Inngest client: %v", err)
	}

	// Initialize and register workflows
	log.Printf("Initializing and registering workflows...")

	geoProcessor := workflows.NewGeoProcessor(setStore, answerService, taggingService, metricsService, indexService, cfg)
	geoProcessor.SetClient(client)
	geoProcessor.ProcessQuestionSet()

	websiteAnalyzer := workflows.NewWebsiteAnalyzer(analysisService, setStore)
	websiteAnalyzer.SetClient(client)
	websiteAnalyzer.AnalyzeWebsite()

	scheduledProcessor := workflows.NewScheduledProcessor(setStore)
	scheduledProcessor.SetClient(client)
	scheduledProcessor.WeeklyRefreshProcessor()

	log.Printf("All processors initialized and functions registered")

	h := client.Serve()
	mux := http.NewServeMux()
	mux.Handle("/api/inngest", h)

	// Root endpoint for ALB health check
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"service":"geo-workflows","status":"running"}`))
	})

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.HandleFunc("/test/trigger-set", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		setID := r.URL.Query().Get("question_set_id")
		if setID == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"question_set_id query parameter is required"}`))
			return
		}
		evt := inngestgo.Event{
			Name: "geo/question-set.process",
			Data: map[string]interface{}{"question_set_id": setID, "triggered_by": "manual_test"},
		}
		result, err := client.Send(r.Context(), evt)
		if err != nil {
			log.Printf("Failed to send test event: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(fmt.Sprintf(`{"error":"Failed to send event: %v"}`, err)))
			return
		}
		log.Printf("Test event sent successfully: %+v", result)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(fmt.Sprintf(`{"status":"success","message":"Pipeline triggered for set %s","event_ids":["%s"]}`, setID, result)))
	})

	port := cfg.Port
	log.Printf("Starting GEO Workflows service on port %s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Fatal(err)
	}
}
