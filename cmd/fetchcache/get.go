package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vertextoedge/fetchcache/internal/domain"
	"github.com/vertextoedge/fetchcache/internal/domain/vo"
	"github.com/vertextoedge/fetchcache/internal/util/throttle"
)

var getOpts struct {
	output      string
	retries     int
	concurrency int
	quiet       bool
}

var getCmd = &cobra.Command{
	Use:     "get [space-delimited URLs]",
	Short:   "Fetch files through the cache, resuming interrupted transfers",
	Example: "fetchcache get -o ./downloads --retries 5 https://example.com/a.iso https://example.com/b.iso",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runGet,
}

func init() {
	getCmd.Flags().StringVarP(&getOpts.output, "output", "o", "", `copy fetched files into this directory, or "-" for stdout`)
	getCmd.Flags().IntVar(&getOpts.retries, "retries", 3, "retries per URL after a retryable failure")
	getCmd.Flags().IntVarP(&getOpts.concurrency, "concurrency", "n", 4, "max URLs fetched at once")
	getCmd.Flags().BoolVarP(&getOpts.quiet, "quiet", "q", false, "do not print progress")
}

func runGet(cmd *cobra.Command, args []string) error {
	if getOpts.output == "-" && len(args) > 1 {
		return errors.New(`output "-" takes a single URL`)
	}
	if getOpts.concurrency < 1 {
		return errors.New("concurrency must be positive")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(getOpts.concurrency)

	for _, rawURL := range args {
		g.Go(func() error {
			res, err := fetchWithRetries(ctx, a, rawURL)
			if err != nil {
				return fmt.Errorf("%s: %w", rawURL, err)
			}
			return deliver(rawURL, res)
		})
	}

	return g.Wait()
}

// fetchWithRetries repeats a failed fetch; the coordinator resumes from the
// token the previous attempt left behind.
func fetchWithRetries(ctx context.Context, a *app, rawURL string) (domain.Result, error) {
	var onProgress func(domain.Progress)
	if !getOpts.quiet {
		onProgress = throttle.Progress(500*time.Millisecond, printProgress)
	}

	for attempt := 0; ; attempt++ {
		res, err := a.coordinator.FetchWait(ctx, rawURL, onProgress)
		if err == nil {
			return res, nil
		}

		var failure domain.Failure
		if !errors.As(err, &failure) || attempt >= getOpts.retries {
			return domain.Result{}, err
		}
		if !failure.ResumeCaptured && !domain.IsRetryable(failure) {
			return domain.Result{}, err
		}

		backoff := time.Duration(attempt+1) * time.Second
		if d, ok := domain.GetRetryAfter(failure); ok && d > 0 {
			backoff = d
		}

		a.logger.Warn("fetch failed, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", failure.Attempt),
			zap.Bool("resume_captured", failure.ResumeCaptured),
			zap.Duration("backoff", backoff),
			zap.Error(failure.Reason))

		select {
		case <-ctx.Done():
			return domain.Result{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// deliver reports where the file lives and copies it out when asked
func deliver(rawURL string, res domain.Result) error {
	switch getOpts.output {
	case "":
		fmt.Fprintf(os.Stderr, "%s -> %s (%s, %s)\n", rawURL, res.Location, humanize.Bytes(uint64(len(res.Data))), res.Source)
		return nil
	case "-":
		_, err := os.Stdout.Write(res.Data)
		return err
	}

	name := vo.NameFromRaw(rawURL)
	if err := os.MkdirAll(getOpts.output, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	target := filepath.Join(getOpts.output, name)
	if err := os.WriteFile(target, res.Data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	fmt.Fprintf(os.Stderr, "%s -> %s (%s, %s)\n", rawURL, target, humanize.Bytes(uint64(len(res.Data))), res.Source)
	return nil
}

func printProgress(p domain.Progress) {
	if p.TotalBytes > 0 {
		fmt.Fprintf(os.Stderr, "%s: %s / %s (%.0f%%)\n",
			p.URL, humanize.Bytes(uint64(p.BytesReceived)), humanize.Bytes(uint64(p.TotalBytes)), p.Fraction()*100)
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", p.URL, humanize.Bytes(uint64(p.BytesReceived)))
}
