package services

import (
	"context"
	"testing"

	"github.com/geopulse/geo-workflows/internal/models"
	"github.com/google/uuid"
)

func TestAnalyzeWebsiteParsesResponse(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{
		{text: `{"brandName":"Acme Robotics","niche":"industrial automation","purpose":"Builds warehouse robots.","services":["robot arms","fleet software"]}`},
	}}
	svc := NewAnalysisService(provider)

	analysis, err := svc.AnalyzeWebsite(context.Background(), "acmerobotics.com", "US", "CA", "")
	if err != nil {
		t.Fatalf("AnalyzeWebsite failed: %v", err)
	}
	if analysis.BrandName != "Acme Robotics" {
		t.Errorf("brand = %q", analysis.BrandName)
	}
	if len(analysis.Services) != 2 {
		t.Errorf("services = %v", analysis.Services)
	}
}

func TestAnalyzeWebsiteFallback(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{
		{text: "I'm sorry, I can't browse the web."},
	}}
	svc := NewAnalysisService(provider)

	analysis, err := svc.AnalyzeWebsite(context.Background(), "https://acme-robotics.com/about", "", "", "")
	if err != nil {
		t.Fatalf("fallback path must not error: %v", err)
	}
	if analysis.BrandName != "Acme Robotics" {
		t.Errorf("fallback brand = %q, want Acme Robotics", analysis.BrandName)
	}
}

func TestAnalyzeWebsiteRequiresDomain(t *testing.T) {
	svc := NewAnalysisService(&scriptedProvider{})
	if _, err := svc.AnalyzeWebsite(context.Background(), "  ", "", "", ""); err == nil {
		t.Error("expected error for empty domain")
	}
}

func TestGenerateQuestions(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{
		{text: `{"Discovery":["Best warehouse robots?","Who sells robot arms?"],"Trust":["Are Acme robots reliable?"]}`},
	}}
	svc := NewAnalysisService(provider)
	analysis := &models.WebsiteAnalysis{BrandName: "Acme", Niche: "robots"}
	set := &models.QuestionSet{ID: uuid.New(), BrandName: "Acme", Nation: "US"}

	records, err := svc.GenerateQuestions(context.Background(), analysis, set)
	if err != nil {
		t.Fatalf("GenerateQuestions failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	categories := map[string]int{}
	for _, rec := range records {
		if rec.UUID == "" {
			t.Error("record missing uuid")
		}
		if rec.Answer != models.AnswerPending {
			t.Errorf("answer = %q, want pending sentinel", rec.Answer)
		}
		categories[rec.CategoryName]++
	}
	if categories["Discovery"] != 2 || categories["Trust"] != 1 {
		t.Errorf("category split wrong: %v", categories)
	}
}

func TestGenerateQuestionsEmptyMatrix(t *testing.T) {
	provider := &scriptedProvider{script: []scriptStep{{text: `{}`}}}
	svc := NewAnalysisService(provider)
	set := &models.QuestionSet{ID: uuid.New(), BrandName: "Acme"}

	if _, err := svc.GenerateQuestions(context.Background(), &models.WebsiteAnalysis{BrandName: "Acme"}, set); err == nil {
		t.Error("expected error for empty matrix")
	}
}
