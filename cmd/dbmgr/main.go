package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"text/tabwriter"

	"github.com/ditto-assistant/txt2img/cfg/envs"
	"github.com/ditto-assistant/txt2img/cfg/secr"
	"github.com/ditto-assistant/txt2img/pkg/db"
	"github.com/ditto-assistant/txt2img/pkg/utils/numfmt"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
	var shutdown sync.WaitGroup
	defer shutdown.Wait()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	globalFlags := flag.NewFlagSet("global", flag.ExitOnError)
	envFlag := globalFlags.String("env", envs.EnvLocal.String(), "txt2img environment")
	globalFlags.Parse(os.Args[1:])
	if globalFlags.NArg() < 1 {
		log.Fatalf("usage: %s [-env <environment>] <migrate|receipt|usage> [args]", os.Args[0])
	}
	os.Setenv("TXT2IMG_ENV", *envFlag)
	subcommand := globalFlags.Arg(0)

	var jobID string
	switch subcommand {
	case "migrate", "usage":
	case "receipt":
		receiptFlags := flag.NewFlagSet("receipt", flag.ExitOnError)
		receiptFlags.Usage = func() {
			fmt.Fprintf(os.Stderr, "usage: dbmgr [-env <environment>] receipt <job-id>\n")
		}
		receiptFlags.Parse(globalFlags.Args()[1:])
		if receiptFlags.NArg() < 1 {
			receiptFlags.Usage()
			os.Exit(1)
		}
		jobID = receiptFlags.Arg(0)
	default:
		log.Fatalf("unknown command: %s", subcommand)
	}

	if err := secr.Setup(ctx); err != nil {
		log.Fatalf("failed to initialize secrets: %s", err)
	}
	// Setup runs the migration.
	if err := db.Setup(ctx, &shutdown, db.ModeFor(envs.DB_URL)); err != nil {
		log.Fatalf("failed to initialize database: %s", err)
	}

	switch subcommand {
	case "migrate":
		slog.Info("database migrated", "url", envs.DB_URL)
	case "receipt":
		if err := printReceipt(ctx, jobID); err != nil {
			log.Fatal(err)
		}
	case "usage":
		if err := printUsage(ctx); err != nil {
			log.Fatal(err)
		}
	}
}

func printReceipt(ctx context.Context, jobID string) error {
	r := db.Receipt{JobID: jobID}
	if err := r.GetByJobID(ctx, db.D); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "job\t%s\n", r.JobID)
	fmt.Fprintf(w, "model\t%s\n", r.Model)
	fmt.Fprintf(w, "size\t%dx%d\n", r.Width, r.Height)
	fmt.Fprintf(w, "images\t%d\n", r.NumImages)
	fmt.Fprintf(w, "seed\t%d\n", r.Seed)
	fmt.Fprintf(w, "cost\t%s\n", numfmt.USDPrecise(r.Cost, 8))
	fmt.Fprintf(w, "key\t%s\n", r.StorageKey)
	fmt.Fprintf(w, "content type\t%s\n", r.ContentType)
	fmt.Fprintf(w, "duration\t%.2fs\n", r.DurationSeconds)
	return w.Flush()
}

func printUsage(ctx context.Context) error {
	usage, err := db.GetUsage(ctx, db.D)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tJOBS\tCOST")
	var (
		jobs  int64
		total float64
	)
	for _, u := range usage {
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.Model, numfmt.LargeNumber(int64(u.Jobs)), numfmt.USDPrecise(u.Cost, 6))
		jobs += int64(u.Jobs)
		total += u.Cost
	}
	fmt.Fprintf(w, "total\t%s\t%s\n", numfmt.LargeNumber(jobs), numfmt.USD(total))
	return w.Flush()
}
