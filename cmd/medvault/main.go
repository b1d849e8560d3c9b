// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	medvault "github.com/poiesic/medvault"
	"github.com/poiesic/medvault/ai"
	"github.com/poiesic/medvault/anonymize"
	"github.com/poiesic/medvault/core"
	"github.com/poiesic/medvault/ingest"
)

func main() {
	app := &cli.App{
		Name:   "medvault",
		Usage:  "Encrypted semantic search over anonymized clinical records",
		Before: setup,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Ingest raw records from a JSONL file",
				Action: ingestCommand,
				Flags: append(engineFlags(),
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "JSONL file with one raw record per line (source_id, text, metadata)",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of concurrent ingest workers",
						Value: ingest.DefaultPoolSize,
					},
				),
			},
			{
				Name:   "query",
				Usage:  "Search for records similar to the query text",
				Action: queryCommand,
				Flags: append(engineFlags(),
					&cli.StringFlag{
						Name:     "text",
						Aliases:  []string{"q"},
						Usage:    "Query text",
						Required: true,
					},
					&cli.IntFlag{
						Name:    "top",
						Aliases: []string{"k"},
						Usage:   "Number of results to return",
						Value:   10,
					},
					&cli.Float64Flag{
						Name:  "min-similarity",
						Usage: "Exclude results scoring below this cosine similarity",
					},
				),
			},
			{
				Name:   "delete",
				Usage:  "Tombstone the record for a token",
				Action: deleteCommand,
				Flags: append(engineFlags(),
					&cli.StringFlag{
						Name:     "token",
						Usage:    "Record token (hex)",
						Required: true,
					},
				),
			},
			{
				Name:   "compact",
				Usage:  "Purge tombstoned ciphertext from storage",
				Action: compactCommand,
				Flags:  engineFlags(),
			},
			{
				Name:  "audit",
				Usage: "Inspect the audit ledger",
				Subcommands: []*cli.Command{
					{
						Name:   "verify",
						Usage:  "Verify the audit hash chain over a sequence range",
						Action: auditVerifyCommand,
						Flags:  append(engineFlags(), rangeFlags()...),
					},
					{
						Name:   "export",
						Usage:  "Export audit events as JSON",
						Action: auditExportCommand,
						Flags:  append(engineFlags(), rangeFlags()...),
					},
					{
						Name:   "summary",
						Usage:  "Summarize audited activity over a sequence range",
						Action: auditSummaryCommand,
						Flags:  append(engineFlags(), rangeFlags()...),
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// engineFlags are shared by every command that opens the engine.
func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to BadgerDB database directory",
			EnvVars:  []string{"MEDVAULT_DB"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "key-file",
			Usage:    "File holding the 32-byte index key (raw or hex)",
			EnvVars:  []string{"MEDVAULT_KEY_FILE"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "salt",
			Usage:    "Anonymization salt for token derivation",
			EnvVars:  []string{"MEDVAULT_SALT"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "actor",
			Usage:   "Actor identity recorded (hashed) in the audit ledger",
			EnvVars: []string{"MEDVAULT_ACTOR"},
			Value:   "cli",
		},
		&cli.StringFlag{
			Name:    "embedding-host",
			Usage:   "Embedding service host URL",
			EnvVars: []string{"MEDVAULT_EMBEDDING_HOST"},
			Value:   "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:    "embedding-model",
			Usage:   "Embedding model name",
			EnvVars: []string{"MEDVAULT_EMBEDDING_MODEL"},
			Value:   "all-minilm",
		},
		&cli.IntFlag{
			Name:  "dimension",
			Usage: "Embedding dimension",
			Value: medvault.DefaultDimension,
		},
	}
}

func rangeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{
			Name:  "from",
			Usage: "First audit sequence number",
			Value: 1,
		},
		&cli.Uint64Flag{
			Name:  "to",
			Usage: "Last audit sequence number (0 = latest)",
		},
	}
}

func openEngine(c *cli.Context) (*medvault.Engine, error) {
	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("embedding-host")),
		ai.WithModel(c.String("embedding-model")),
	)
	if err := aiConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid AI configuration: %w", err)
	}

	minSim := float32(c.Float64("min-similarity"))
	return medvault.Open(medvault.Config{
		DBPath:        c.String("db"),
		KeyFile:       c.String("key-file"),
		Salt:          []byte(c.String("salt")),
		Dimension:     c.Int("dimension"),
		MinSimilarity: minSim,
		AI:            aiConfig,
	})
}

// rawLine is the JSONL input form of a raw record.
type rawLine struct {
	SourceID string            `json:"source_id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func ingestCommand(c *cli.Context) error {
	ctx := context.Background()

	file, err := os.Open(c.String("input"))
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer file.Close()

	var records []anonymize.RawRecord
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var raw rawLine
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, anonymize.RawRecord{
			SourceID: raw.SourceID,
			Text:     raw.Text,
			Metadata: raw.Metadata,
		})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no records in input")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	pipeline, err := engine.NewPipeline(ingest.WithPoolSize(c.Int("workers")))
	if err != nil {
		return err
	}

	result, err := pipeline.Run(ctx, c.String("actor"), records)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Ingested %d of %d records\n", result.Succeeded(), len(records))
	for _, recordErr := range result.Errors {
		fmt.Fprintf(os.Stderr, "  failed: %v\n", recordErr)
	}
	if result.Failed() > 0 {
		return fmt.Errorf("%d records failed", result.Failed())
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	results, err := engine.Query(context.Background(), c.String("actor"), c.String("text"), c.Int("top"))
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, result := range results {
		fmt.Printf("%2d. [%.4f] %s\n", i+1, result.Score, result.Token)
		fmt.Printf("    %s\n", result.Text)
		for k, v := range result.Metadata {
			fmt.Printf("    %s=%s\n", k, v)
		}
	}
	return nil
}

func deleteCommand(c *cli.Context) error {
	token, err := core.ParseToken(c.String("token"))
	if err != nil {
		return err
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Delete(context.Background(), c.String("actor"), token); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Tombstoned %s\n", token)
	return nil
}

func compactCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	removed, err := engine.Compact(context.Background(), c.String("actor"))
	if err != nil {
		return fmt.Errorf("compact failed: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Removed %d tombstoned entries\n", removed)
	return nil
}

func auditRange(c *cli.Context, engine *medvault.Engine) (uint64, uint64) {
	from := c.Uint64("from")
	to := c.Uint64("to")
	if to == 0 {
		to = engine.LastAuditSeq()
	}
	return from, to
}

func auditVerifyCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	from, to := auditRange(c, engine)
	if to == 0 {
		fmt.Println("Ledger is empty; nothing to verify.")
		return nil
	}

	ok, err := engine.VerifyAudit(context.Background(), from, to)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("audit chain INVALID over [%d, %d]; writes halted", from, to)
	}
	fmt.Printf("Audit chain valid over [%d, %d]\n", from, to)
	return nil
}

func auditExportCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	from, to := auditRange(c, engine)
	if to == 0 {
		fmt.Println("[]")
		return nil
	}

	events, err := engine.AuditExport(context.Background(), from, to)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exportable(events))
}

// exportable maps audit events to a JSON-friendly shape with hex hashes
// and string enums.
func exportable(events []core.AuditEvent) []map[string]any {
	out := make([]map[string]any, len(events))
	for i, event := range events {
		out[i] = map[string]any{
			"seq":        event.Seq,
			"timestamp":  event.Timestamp,
			"operation":  event.Operation.String(),
			"request_id": event.RequestID,
			"actor_hash": event.ActorHash,
			"query_hash": event.QueryHash,
			"query_len":  event.QueryLen,
			"outcome":    event.Outcome.String(),
			"latency_ms": event.LatencyMS,
			"prev_hash":  fmt.Sprintf("%x", event.PrevHash),
			"hash":       fmt.Sprintf("%x", event.Hash),
		}
		if event.FailureKind != "" {
			out[i]["failure_kind"] = event.FailureKind
		}
		if event.RefSeq != 0 {
			out[i]["ref_seq"] = event.RefSeq
		}
	}
	return out
}

func auditSummaryCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	from, to := auditRange(c, engine)
	if to == 0 {
		fmt.Println("Ledger is empty.")
		return nil
	}

	summary, err := engine.AuditSummary(context.Background(), from, to)
	if err != nil {
		return fmt.Errorf("summary failed: %w", err)
	}

	fmt.Printf("Events:    %d (seq %d-%d)\n", summary.Events, summary.FirstSeq, summary.LastSeq)
	fmt.Printf("Succeeded: %d\n", summary.Successes)
	fmt.Printf("Failed:    %d\n", summary.Failures)
	fmt.Printf("Avg ms:    %.2f\n", summary.AvgLatencyMS)
	for op, n := range summary.ByOperation {
		fmt.Printf("  %-8s %d\n", op, n)
	}
	for kind, n := range summary.ByFailure {
		fmt.Printf("  fail/%-8s %d\n", kind, n)
	}
	return nil
}

func setup(c *cli.Context) error {
	// .env is optional; flags and real env vars win
	_ = godotenv.Load()

	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
