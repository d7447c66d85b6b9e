package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fiapx/fiapx-flowscore-service/internal/bootstrap"
	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/config"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/imagefs"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/model"
	"github.com/fiapx/fiapx-flowscore-service/internal/pipeline"
	"github.com/fiapx/fiapx-flowscore-service/pkg/logger"
	"github.com/schollz/progressbar/v3"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

const usage = `usage:
  flowscore [-work DIR] [-workers N] [-v] VIDEO
  flowscore -rescore RASTER_DIR [-v]
`

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("flowscore", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage); fs.PrintDefaults() }
	workDir := fs.String("work", ".", "root holding frame/ and optical_result/")
	workers := fs.Int("workers", 0, "parallel frame pairs (default PAIR_WORKERS)")
	rescore := fs.String("rescore", "", "score an existing raster directory instead of a video")
	verbose := fs.Bool("v", false, "print per-raster probabilities")
	noProgress := fs.Bool("no-progress", false, "disable the progress bar")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}
	if (*rescore == "") == (fs.NArg() != 1) {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	cfg.WorkDir = *workDir
	if *workers > 0 {
		cfg.PairWorkers = *workers
	}

	log, err := logger.New(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := model.NewSession(bootstrap.SessionConfig(cfg), log.Named("model"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load models:", err)
		return 1
	}
	defer session.Close()

	scorer, err := bootstrap.NewScorer(cfg, session, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var result *entity.ScoreResult
	if *rescore != "" {
		paths, err := imagefs.ListImages(*rescore)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list rasters:", err)
			return 1
		}
		result, err = scorer.ScoreRasters(ctx, paths)
		if err != nil {
			return report(err)
		}
	} else {
		video := fs.Arg(0)
		var progress pipeline.ProgressFunc
		if !*noProgress {
			progress = newProgress()
		}
		result, err = scorer.ScoreVideo(ctx, video, cfg.WorkDir, progress)
		if err != nil {
			return report(err)
		}
	}

	if *verbose {
		for i, p := range result.Probabilities {
			name := fmt.Sprint(i)
			if i < len(result.Rasters) {
				name = filepath.Base(result.Rasters[i].Path)
			}
			fmt.Printf("%s\t%.6f\n", name, p)
		}
	}
	fmt.Printf("score: %.6f\n", float64(result.Score))
	log.Info("done", zap.Int("pairs", result.PairCount))
	return 0
}

// newProgress draws a bar over frame pairs, created once the total is known.
func newProgress() pipeline.ProgressFunc {
	var once sync.Once
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		once.Do(func() {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("optical flow"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		})
		_ = bar.Add(1)
	}
}

func report(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	switch {
	case errors.Is(err, context.Canceled):
		return 130
	case entity.IsMediaOpen(err):
		return 3
	case entity.IsDegenerateSequence(err):
		return 4
	case entity.IsModelInference(err):
		return 5
	}
	return 1
}
