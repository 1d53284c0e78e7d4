package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"alert-historian/historian"

	"github.com/google/uuid"
)

type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }
func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath string
	var stateDB string
	var artifactsDir string
	var reportsDir string
	var source string
	var inputs multiFlag
	var ffURL string
	var ffUser string
	var ffPass string
	var batchSize int
	var domainTags bool
	var sourceName string
	var debug bool
	var runID string

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&stateDB, "state-db", "historian.db", "SQLite state database path.")
	flag.StringVar(&artifactsDir, "artifacts-dir", "artifacts", "Canonical artifact output folder.")
	flag.StringVar(&reportsDir, "reports-dir", "reports", "Daily report output folder.")
	flag.StringVar(&source, "source", "INBOX", "Checkpoint scope (mailbox folder or export name).")
	flag.Var(&inputs, "input", "JSON export input path. Can be repeated.")
	flag.StringVar(&ffURL, "findfirst-url", "http://localhost:9000", "FindFirst base URL.")
	flag.StringVar(&ffUser, "findfirst-user", "", "FindFirst username.")
	flag.StringVar(&ffPass, "findfirst-pass", "", "FindFirst password.")
	flag.IntVar(&batchSize, "batch-size", 100, "Bulk sync batch size (clamped to [1,100]).")
	flag.BoolVar(&domainTags, "domain-tags", true, "Attach domain/<host> tags to bookmarks.")
	flag.StringVar(&sourceName, "source-name", "google-alerts", "Value behind the source/<name> tag.")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.StringVar(&runID, "run-id", "", "Run id (defaults to a random UUID).")
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	// Base config from file (optional)
	fileCfg := &historian.FileConfig{}
	if configPath != "" {
		cfg, err := historian.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		fileCfg = cfg
	}

	// Merge config + CLI overrides
	finalStateDB := fileCfg.StateDB
	if finalStateDB == "" || visited["state-db"] {
		finalStateDB = stateDB
	}
	finalArtifacts := fileCfg.ArtifactsDir
	if finalArtifacts == "" || visited["artifacts-dir"] {
		finalArtifacts = artifactsDir
	}
	finalReports := fileCfg.ReportsDir
	if finalReports == "" || visited["reports-dir"] {
		finalReports = reportsDir
	}
	finalSource := fileCfg.Source
	if finalSource == "" || visited["source"] {
		finalSource = source
	}
	finalInputs := fileCfg.Inputs.Paths
	if visited["input"] {
		finalInputs = inputs
	}
	finalFFURL := fileCfg.FindFirst.BaseURL
	if finalFFURL == "" || visited["findfirst-url"] {
		finalFFURL = ffURL
	}
	finalFFUser := fileCfg.FindFirst.Username
	if visited["findfirst-user"] {
		finalFFUser = ffUser
	}
	finalFFPass := fileCfg.FindFirst.Password
	if visited["findfirst-pass"] {
		finalFFPass = ffPass
	}
	finalBatchSize := fileCfg.Sync.BatchSize
	if finalBatchSize == 0 || visited["batch-size"] {
		finalBatchSize = batchSize
	}
	finalDomainTags := true
	if fileCfg.Sync.UseDomainTags != nil {
		finalDomainTags = *fileCfg.Sync.UseDomainTags
	}
	if visited["domain-tags"] {
		finalDomainTags = domainTags
	}
	finalSourceName := fileCfg.Sync.SourceName
	if finalSourceName == "" || visited["source-name"] {
		finalSourceName = sourceName
	}
	finalDebug := fileCfg.Debug
	if visited["debug"] {
		finalDebug = debug
	}

	cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	if cmd == "" {
		cmd = "daily"
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	if (cmd == "ingest" || cmd == "daily") && len(finalInputs) == 0 {
		fmt.Fprintln(os.Stderr, "missing inputs (use config.yaml inputs or --input)")
		os.Exit(2)
	}

	db, err := historian.OpenDB(finalStateDB)
	if err != nil {
		log.Fatalf("open state db: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	store := historian.NewStateStore(db)

	ingestCfg := historian.IngestConfig{
		Inputs:       finalInputs,
		ArtifactsDir: finalArtifacts,
		Source:       finalSource,
	}
	engineCfg := historian.EngineConfig{
		Source:        finalSource,
		SourceName:    finalSourceName,
		BatchSize:     finalBatchSize,
		UseDomainTags: finalDomainTags,
		Debug:         finalDebug,
	}

	switch cmd {
	case "ingest":
		inserted := runIngest(ingestCfg, store, runID)
		log.Printf("[ingest] run_id=%s inserted=%d", runID, inserted)
	case "sync":
		counters := runSync(engineCfg, store, finalFFURL, finalFFUser, finalFFPass, runID)
		log.Printf("[sync] run_id=%s %+v", runID, counters)
	case "report":
		counters, err := store.RunStats(runID)
		if err != nil {
			log.Fatalf("run stats: %v", err)
		}
		path, err := historian.BuildDailyReport(store, finalReports, runID, 0, counters)
		if err != nil {
			log.Fatalf("build report: %v", err)
		}
		log.Printf("[report] path=%s", path)
	case "daily":
		inserted := runIngest(ingestCfg, store, runID)
		log.Printf("[ingest] run_id=%s inserted=%d", runID, inserted)
		counters := runSync(engineCfg, store, finalFFURL, finalFFUser, finalFFPass, runID)
		log.Printf("[sync] run_id=%s %+v", runID, counters)
		path, err := historian.BuildDailyReport(store, finalReports, runID, inserted, counters)
		if err != nil {
			log.Fatalf("build report: %v", err)
		}
		log.Printf("[report] path=%s", path)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want ingest, sync, report or daily)\n", cmd)
		os.Exit(2)
	}
}

func runIngest(cfg historian.IngestConfig, store *historian.StateStore, runID string) int {
	inserted, err := historian.Ingest(cfg, store, runID)
	if err != nil {
		log.Fatalf("ingest: %v", err)
	}
	return inserted
}

func runSync(cfg historian.EngineConfig, store *historian.StateStore, baseURL, user, pass, runID string) historian.Counters {
	client, err := historian.NewFindFirstClient(baseURL, user, pass)
	if err != nil {
		log.Fatalf("init findfirst client: %v", err)
	}
	engine := historian.NewSyncEngine(cfg, store, client)
	counters, err := engine.Run(runID)
	if err != nil {
		log.Fatalf("sync: %v", err)
	}
	return counters
}
