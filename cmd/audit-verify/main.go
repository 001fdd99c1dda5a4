// Command audit-verify recomputes the event log hash chain of a tracecore
// store and, optionally, of its blob archive, then reports the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"tracecore/internal/blob"
	"tracecore/internal/config"
	"tracecore/internal/core"
	"tracecore/pkg/domain"
)

var exitFunc = os.Exit

// report is printed on stdout whether or not verification succeeds.
type report struct {
	Store        *core.ChainReport `json:"store,omitempty"`
	Archive      *core.ChainReport `json:"archive,omitempty"`
	ArchiveMatch *bool             `json:"archive_matches_store,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorCode    uint32            `json:"error_code,omitempty"`
}

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit-verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv(config.EnvConfigFile), "path to YAML configuration")
	archive := fs.Bool("archive", false, "also verify the configured blob archive")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := config.LoadFrom(*configPath, os.LookupEnv)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "configuration invalid: %v\n", err)
		return 1
	}
	rep, err := run(context.Background(), cfg, *archive)
	if err != nil {
		rep.Error = err.Error()
		rep.ErrorCode = domain.Code(err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(rep); encErr != nil {
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Audit verification failed: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, withArchive bool) (rep report, err error) {
	store, closeStore, err := core.OpenPersistentStore(core.StorageConfig{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		Deployer:    domain.ActorID(cfg.Deployer),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	})
	if err != nil {
		return rep, err
	}
	defer func() {
		if cerr := closeStore(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()

	storeReport, err := core.NewService(store).VerifyEventChain(ctx)
	if err != nil {
		return rep, err
	}
	rep.Store = &storeReport
	if !withArchive {
		return rep, nil
	}
	if cfg.Blob.Driver == "none" {
		return rep, errors.New("no blob archive configured")
	}
	archive, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.Blob.Driver),
		FSRoot: cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Bucket:          cfg.Blob.S3.Bucket,
			Region:          cfg.Blob.S3.Region,
			Endpoint:        cfg.Blob.S3.Endpoint,
			AccessKeyID:     cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
			PathStyle:       cfg.Blob.S3.PathStyle,
		},
	})
	if err != nil {
		return rep, fmt.Errorf("open archive: %w", err)
	}
	archiveReport, err := core.VerifyArchive(ctx, archive)
	if err != nil {
		return rep, err
	}
	rep.Archive = &archiveReport
	match := archiveReport.Events == storeReport.Events && archiveReport.HeadHash == storeReport.HeadHash
	rep.ArchiveMatch = &match
	if !match {
		return rep, fmt.Errorf("archive holds %d events ending %s, store holds %d ending %s",
			archiveReport.Events, archiveReport.HeadHash, storeReport.Events, storeReport.HeadHash)
	}
	return rep, nil
}
