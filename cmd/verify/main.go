package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/autoall/lacedore-verifier/internal/business/verify"
	"github.com/autoall/lacedore-verifier/internal/platform/config"
	firestoreclient "github.com/autoall/lacedore-verifier/internal/platform/firestore"
	"github.com/autoall/lacedore-verifier/internal/platform/lacedore"
	"github.com/autoall/lacedore-verifier/internal/repository"
	"github.com/autoall/lacedore-verifier/pkg/model"
)

func main() {
	idsFlag := flag.String("ids", "", "Comma-separated verification ids")
	fileFlag := flag.String("file", "", "File with one verification id per line")
	polled := flag.Bool("polled", false, "Use per-id task submission with interleaved polling")
	status := flag.Bool("status", false, "Only probe system status and quota")
	redeem := flag.String("redeem", "", "Redeem a credit code and exit")
	flag.Parse()

	_ = godotenv.Load(".env.local", ".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.LogLevel, true)

	ctx := context.Background()

	fsClient, credsSource, err := firestoreclient.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("firestore init")
	}
	defer fsClient.Close()

	settingsRepo := repository.NewSettingsRepository(fsClient)

	client := lacedore.New(&http.Client{Timeout: cfg.HTTPTimeout}, lacedore.Config{
		BaseURL:      cfg.LacedoreBaseURL,
		APIKey:       cfg.LacedoreAPIKey,
		MaxRetries:   cfg.RetryAttempts,
		RetryBackoff: cfg.RetryBackoff,
	}, log)

	verifier := verify.NewVerifier(client, settingsRepo, verify.Options{
		ChunkSize:       cfg.ChunkSize,
		ChunkPause:      cfg.ChunkPause,
		SubmitDelay:     cfg.SubmitDelay,
		PollBase:        cfg.PollBase,
		PollIncrement:   cfg.PollIncrement,
		PollMax:         cfg.PollMax,
		PollMaxAttempts: cfg.PollMaxAttempts,
	}, log)

	fmt.Println("=== Lacedore Batch Verification ===")
	fmt.Printf("API: %s (firestore: %s credentials)\n\n", cfg.LacedoreBaseURL, credsSource)

	if *redeem != "" {
		res := verifier.RedeemCode(ctx, *redeem)
		if !res.Success {
			log.Fatal().Str("message", res.Message).Msg("redeem failed")
		}
		fmt.Printf("Redeemed. Added: %s, total: %s\n", intOrDash(res.CreditsAdded), intOrDash(res.CreditsTotal))
		return
	}

	rec := verifier.Probe(ctx)
	fmt.Printf("System status: %s", rec.Status)
	if rec.Message != "" {
		fmt.Printf(" (%s)", rec.Message)
	}
	if rec.CurrentQuota != nil {
		fmt.Printf(", credits: %d", *rec.CurrentQuota)
	}
	fmt.Println()

	if *status {
		return
	}
	if rec.Status != "ok" {
		log.Fatal().Msg("upstream not available, aborting")
	}

	ids, err := collectIDs(*idsFlag, *fileFlag, flag.Args())
	if err != nil {
		log.Fatal().Err(err).Msg("collect ids")
	}
	if len(ids) == 0 {
		log.Fatal().Msg("no verification ids provided (use -ids, -file, or arguments)")
	}

	fmt.Printf("\nStarting verification of %d id(s)...\n", len(ids))
	startTime := time.Now()

	sink := verify.ProgressFunc(func(id, text string) bool {
		if id == "" {
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), text)
		} else {
			fmt.Printf("[%s] %s: %s\n", time.Now().Format("15:04:05"), id, text)
		}
		return true
	})

	var results map[string]model.Result
	if *polled {
		results = verifier.VerifyBatchPolled(ctx, ids, sink)
	} else {
		results = verifier.VerifyBatch(ctx, ids, sink)
	}

	stats := model.AggregateRunStats(results)
	fmt.Println("\n=== Results ===")
	fmt.Printf("Duration: %s\n", time.Since(startTime).Round(time.Second))
	fmt.Printf("Total: %d\n", stats.Total)
	fmt.Printf("Succeeded: %d\n", stats.Succeeded)
	fmt.Printf("Failed: %d\n", stats.Failed)
	fmt.Printf("Timed out: %d\n", stats.TimedOut)

	for _, id := range ids {
		res := results[id]
		fmt.Printf("  %s: %s", id, res.Step)
		if res.Message != "" {
			fmt.Printf(" (%s)", res.Message)
		}
		fmt.Println()
	}
}

func collectIDs(csv, file string, args []string) ([]string, error) {
	var ids []string
	appendTrimmed := func(val string) {
		if s := strings.TrimSpace(val); s != "" {
			ids = append(ids, s)
		}
	}

	for _, part := range strings.Split(csv, ",") {
		appendTrimmed(part)
	}
	ids = append(ids, args...)

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("open id file: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			appendTrimmed(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read id file: %w", err)
		}
	}
	return ids, nil
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
