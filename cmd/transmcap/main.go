package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/transmcap/transmcap/internal/config"
	"github.com/transmcap/transmcap/internal/export"
	"github.com/transmcap/transmcap/internal/logger"
	"github.com/transmcap/transmcap/internal/mcap"
	"github.com/transmcap/transmcap/internal/pipeline"
	"github.com/transmcap/transmcap/pkg/value"
)

// Version is set at build time
var Version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, `transmcap %s - convert MCAP recordings to columnar formats

Usage:
  transmcap convert -f <file.mcap> [flags]  Convert topics to jsonl, csv, or parquet
  transmcap topics -f <file.mcap>           List topics with schemas and counts
  transmcap schema -f <file.mcap> -t <t>    Print the derived column schema of a topic

Run "transmcap <command> -h" for command flags.
`, Version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var runErr error
	switch os.Args[1] {
	case "convert":
		runErr = runConvert(cfg, os.Args[2:])
	case "topics":
		runErr = runTopics(cfg, os.Args[2:])
	case "schema":
		runErr = runSchema(cfg, os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("Command failed")
		os.Exit(1)
	}
}

func runConvert(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	file := fs.String("f", "", "Input container file (required)")
	topicsFlag := fs.String("t", "", "Comma-separated topics to convert (default: all)")
	format := fs.String("format", cfg.Convert.Format, "Output format: jsonl, csv, or parquet")
	output := fs.String("o", cfg.Convert.Output, "Output path; \"-\" writes to stdout, a directory fans out per topic")
	batchSize := fs.Int("batch-size", cfg.Convert.BatchSize, "Rows per emitted batch")
	listPolicy := fs.String("list-policy", cfg.Convert.ListPolicy, "Sequence handling: keep, drop, or flatten-fixed")
	arrayPolicy := fs.String("array-policy", cfg.Convert.ArrayPolicy, "Fixed array handling: keep, drop, or flatten")
	mapPolicy := fs.String("map-policy", cfg.Convert.MapPolicy, "Map handling: keep or drop")
	listFlattenSize := fs.Int("list-flatten-size", cfg.Convert.ListFlattenSize, "Column count for flatten-fixed lists")
	logLevel := fs.String("log-level", cfg.Log.Level, "Log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("convert requires -f <file>")
	}
	path := *file

	cfg.Convert.Format = *format
	cfg.Convert.Output = *output
	cfg.Convert.BatchSize = *batchSize
	cfg.Convert.ListPolicy = *listPolicy
	cfg.Convert.ArrayPolicy = *arrayPolicy
	cfg.Convert.MapPolicy = *mapPolicy
	cfg.Convert.ListFlattenSize = *listFlattenSize
	cfg.Log.Level = *logLevel
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	opts := pipeline.Options{BatchSize: cfg.Convert.BatchSize, Policy: policy}

	topics, err := resolveTopics(path, *topicsFlag)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		return fmt.Errorf("%s contains no topics", path)
	}

	sinks, err := planSinks(topics, cfg.Convert.Format, cfg.Convert.Output)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for topic, dst := range sinks {
		g.Go(func() error {
			if err := convertTopic(ctx, path, topic, dst, cfg.Convert.Format, opts); err != nil {
				return fmt.Errorf("topic %q: %w", topic, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// resolveTopics expands an empty selection to every topic in the file.
func resolveTopics(path, flagValue string) ([]string, error) {
	if flagValue != "" {
		var topics []string
		for _, t := range strings.Split(flagValue, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
		return topics, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := mcap.NewReader(f)
	if err != nil {
		return nil, err
	}
	infos, err := r.Topics()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var topics []string
	for _, info := range infos {
		if !seen[info.Topic] {
			seen[info.Topic] = true
			topics = append(topics, info.Topic)
		}
	}
	return topics, nil
}

// planSinks maps each topic to its output destination. A single topic may
// write to stdout or to one file; multiple topics require a directory so
// each topic gets its own file.
func planSinks(topics []string, format, output string) (map[string]string, error) {
	sinks := make(map[string]string, len(topics))

	if output == "-" {
		if format == "parquet" {
			return nil, fmt.Errorf("parquet output requires a file path, not stdout")
		}
		if len(topics) > 1 {
			return nil, fmt.Errorf("writing %d topics to stdout would interleave them; use -o <dir>", len(topics))
		}
		sinks[topics[0]] = "-"
		return sinks, nil
	}

	if info, err := os.Stat(output); err == nil && info.IsDir() {
		for _, t := range topics {
			sinks[t] = filepath.Join(output, topicFileName(t, format))
		}
		return sinks, nil
	}

	if len(topics) > 1 {
		return nil, fmt.Errorf("-o %q must be an existing directory when converting %d topics", output, len(topics))
	}
	sinks[topics[0]] = output
	return sinks, nil
}

// topicFileName turns "/sensors/imu" into "sensors_imu.jsonl".
func topicFileName(topic, format string) string {
	name := strings.Trim(topic, "/")
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	if name == "" {
		name = "root"
	}
	return name + "." + format
}

func convertTopic(ctx context.Context, path, topic, dst string, format string, opts pipeline.Options) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := mcap.NewReader(f)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if dst != "-" {
		of, err := os.Create(dst)
		if err != nil {
			return err
		}
		defer of.Close()
		out = of
	}

	w, err := export.New(format, out)
	if err != nil {
		return err
	}

	rows := int64(0)
	batches := 0
	err = pipeline.ForEachBatch(ctx, r, topic, opts, func(rec arrow.Record) error {
		rows += rec.NumRows()
		batches++
		return w.Write(rec)
	})
	if err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	ev := log.Info().Str("topic", topic).Int64("rows", rows).Int("batches", batches)
	if dst != "-" {
		ev = ev.Str("output", dst)
	}
	ev.Msg("Topic converted")
	return nil
}

func runTopics(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("topics", flag.ExitOnError)
	file := fs.String("f", "", "Input container file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("topics requires -f <file>")
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := mcap.NewReader(f)
	if err != nil {
		return err
	}
	infos, err := r.Topics()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tCHANNEL\tMESSAGES\tSCHEMA\tSCHEMA ENC\tMESSAGE ENC")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
			info.Topic, info.ChannelID, info.MessageCount,
			orDash(info.SchemaName), orDash(info.SchemaEncoding), info.MessageEncoding)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runSchema(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	file := fs.String("f", "", "Input container file (required)")
	topic := fs.String("t", "", "Topic whose derived schema to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("schema requires -f <file>")
	}
	if *topic == "" {
		return fmt.Errorf("schema requires -t <topic>")
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := mcap.NewReader(f)
	if err != nil {
		return err
	}

	fields, err := pipeline.TopicFields(r, *topic, nil)
	if err != nil {
		var notFound *pipeline.ErrTopicNotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w (run \"transmcap topics\" to list topics)", err)
		}
		return err
	}

	fmt.Print(value.Format(fields))
	return nil
}
