package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/goodjob-alarm/internal/config"
	"github.com/shinyyama/goodjob-alarm/internal/db"
	"github.com/shinyyama/goodjob-alarm/internal/model"
	"gorm.io/gorm"
)

type seedJob struct {
	Title   string
	Company string
	// days until the application deadline, relative to today
	DueIn int
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := db.Migrate(gdb, true); err != nil {
		return err
	}

	canSeed, err := shouldSeed(ctx, gdb)
	if err != nil {
		return err
	}
	if !canSeed {
		log.Printf("jobs already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}

	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	jobs := buildSeedJobs()

	err = gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"recommend_scores", "applications", "cvs", "jobs"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		rows := make([]model.Job, 0, len(jobs))
		for _, j := range jobs {
			rows = append(rows, model.Job{Title: j.Title, CompanyName: j.Company, IsPublic: true, CreatedAt: now})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert jobs: %w", err)
		}

		cvs := []model.Cv{
			{UserID: 1, FileName: "backend_resume.pdf", UploadedAt: now},
			{UserID: 1, FileName: "frontend_resume.pdf", UploadedAt: now},
			{UserID: 2, FileName: "data_resume.pdf", UploadedAt: now},
		}
		if err := tx.Create(&cvs).Error; err != nil {
			return fmt.Errorf("insert cvs: %w", err)
		}

		var apps []model.Application
		for i, j := range jobs {
			if j.DueIn < 0 {
				continue
			}
			due := today.AddDate(0, 0, j.DueIn)
			apps = append(apps, model.Application{UserID: uint64(i%2 + 1), JobID: rows[i].ID, ApplyDueDate: &due, Status: "APPLIED"})
		}
		if len(apps) > 0 {
			if err := tx.Create(&apps).Error; err != nil {
				return fmt.Errorf("insert applications: %w", err)
			}
		}

		var scores []model.RecommendScore
		for ci, cv := range cvs {
			for ji, job := range rows {
				score := float64(60 + (ji*7+ci*13)%40)
				scores = append(scores, model.RecommendScore{CvID: cv.ID, JobID: job.ID, Score: score, CreatedAt: now})
			}
		}
		if err := tx.Create(&scores).Error; err != nil {
			return fmt.Errorf("insert scores: %w", err)
		}
		log.Printf("seeded %d jobs, %d cvs, %d applications, %d scores", len(rows), len(cvs), len(apps), len(scores))
		return nil
	})
	return err
}

func buildSeedJobs() []seedJob {
	return []seedJob{
		{Title: "Backend Engineer (Go)", Company: "Acme", DueIn: 0},
		{Title: "Platform Engineer", Company: "Acme", DueIn: 1},
		{Title: "Frontend Engineer", Company: "Beta Labs", DueIn: 2},
		{Title: "Data Engineer", Company: "Gamma", DueIn: 5},
		{Title: "SRE", Company: "Delta", DueIn: -1},
		{Title: "Mobile Engineer", Company: "Epsilon", DueIn: 0},
		{Title: "ML Engineer", Company: "Zeta", DueIn: -1},
		{Title: "QA Engineer", Company: "", DueIn: 1},
	}
}

func shouldSeed(ctx context.Context, gdb *gorm.DB) (bool, error) {
	var cnt int64
	if err := gdb.WithContext(ctx).Model(&model.Job{}).Count(&cnt).Error; err != nil {
		return false, fmt.Errorf("count jobs: %w", err)
	}
	if cnt == 0 {
		return true, nil
	}
	force := os.Getenv("FORCE_SEED")
	return strings.EqualFold(force, "true"), nil
}
