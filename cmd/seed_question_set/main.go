package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/geopulse/geo-workflows/internal/config"
	"github.com/geopulse/geo-workflows/internal/models"
	"github.com/geopulse/geo-workflows/internal/store"
	"github.com/google/uuid"
	"github.com/inngest/inngestgo"
)

// Standalone seeding tool: intentionally duplicates DB bootstrapping from main.go
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

// seedFile is the on-disk shape this tool loads. Questions without answers
// get the pending sentinel so the pipeline knows to generate them.
type seedFile struct {
	BrandName   string   `json:"brand_name"`
	WebsiteURL  string   `json:"website_url"`
	Context     string   `json:"context"`
	Nation      string   `json:"nation"`
	State       string   `json:"state"`
	Competitors []string `json:"competitors"`
	Questions   []struct {
		Question     string `json:"question"`
		Answer       string `json:"answer"`
		CategoryName string `json:"category_name"`
	} `json:"questions"`
}

func main() {
	var (
		filePath = flag.String("file", "", "path to the seed JSON file")
		trigger  = flag.Bool("trigger", false, "send a geo/question-set.process event after seeding")
	)
	flag.Parse()

	if *filePath == "" {
		log.Fatal("usage: seed_question_set -file set.json [-trigger]")
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("Note: no .env file loaded: %v", err)
	}
	cfg := config.Load()

	raw, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatalf("Failed to read seed file: %v", err)
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		log.Fatalf("Failed to parse seed file: %v", err)
	}
	if seed.BrandName == "" {
		log.Fatal("Seed file must set brand_name")
	}
	if len(seed.Questions) == 0 {
		log.Fatal("Seed file has no questions")
	}

	set := &models.QuestionSet{
		BrandName:   seed.BrandName,
		WebsiteURL:  seed.WebsiteURL,
		Context:     seed.Context,
		Nation:      seed.Nation,
		State:       seed.State,
		Competitors: seed.Competitors,
	}
	for _, q := range seed.Questions {
		answer := q.Answer
		if answer == "" {
			answer = models.AnswerPending
		}
		set.Qna = append(set.Qna, models.QnaRecord{
			UUID:         uuid.New().String(),
			Question:     q.Question,
			Answer:       answer,
			CategoryName: q.CategoryName,
		})
	}

	ctx := context.Background()
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	setStore := store.NewPostgresQuestionSetStore(db)
	if err := setStore.Create(ctx, set); err != nil {
		log.Fatalf("Failed to create question set: %v", err)
	}
	fmt.Printf("Created question set %s (%s) with %d questions\n", set.ID, set.BrandName, len(set.Qna))

	if !*trigger {
		return
	}

	client, err := inngestgo.NewClient(inngestgo.ClientOpts{
		AppID:    "geo-workflows-seeder",
		EventKey: inngestgo.StrPtr(cfg.InngestEventKey),
		Env:      inngestgo.StrPtr(cfg.Environment),
	})
	if err != nil {
		log.Fatalf("Failed to create Inngest client: %v", err)
	}

	result, err := client.Send(ctx, inngestgo.Event{
		Name: "geo/question-set.process",
		Data: map[string]interface{}{
			"question_set_id": set.ID.String(),
			"triggered_by":    "seed_tool",
		},
	})
	if err != nil {
		log.Fatalf("Failed to send process event: %v", err)
	}
	fmt.Printf("Pipeline triggered, event id: %s\n", result)
}
