package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/service"
)

func main() {
	file := flag.String("file", "", "Path to the test definition YAML")
	dryRun := flag.Bool("dry-run", false, "Validate the file without writing to the database")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if *file == "" {
		fmt.Println("Usage: seed-test -file <test.yaml> [-dry-run]")
		os.Exit(1)
	}

	tf, err := loadTestFile(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read test file")
	}
	test, err := tf.toModel()
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Invalid test definition")
	}

	if *dryRun {
		fmt.Printf("OK: '%s' has %d sections, %d questions, %d minutes, max score %.2f\n",
			test.Name, len(test.Sections), len(test.Questions()), test.DurationMinutes(), test.MaxScore())
		return
	}

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	testRepo := repository.NewTestRepository(pool)
	if err := testRepo.Create(ctx, test); err != nil {
		log.Fatal().Err(err).Msg("Failed to insert test")
	}

	// A reseeded ID may still have a stale cached definition.
	catalog := service.NewCatalogService(testRepo, rdb, log)
	if err := catalog.Invalidate(ctx, test.ID); err != nil {
		log.Warn().Err(err).Str("test_id", test.ID.String()).Msg("Failed to invalidate cached test")
	}

	fmt.Printf("\nSuccess! Test '%s' created with ID: %s\n", test.Name, test.ID)
}
