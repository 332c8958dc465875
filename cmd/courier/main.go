package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"llmcourier/internal/adapter/journal"
	"llmcourier/internal/adapter/llm"
	"llmcourier/internal/domain"
	"llmcourier/internal/infra/config"
	"llmcourier/internal/infra/logger"
	"llmcourier/internal/infra/tracer"
	"llmcourier/internal/usecase/dispatch"
)

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "embed":
		if err := runEmbed(); err != nil {
			fmt.Fprintf(os.Stderr, "embed: %v\n", err)
			os.Exit(1)
		}
	case "batch":
		if err := runBatch(); err != nil {
			fmt.Fprintf(os.Stderr, "batch: %v\n", err)
			os.Exit(1)
		}
	case "transcribe":
		if err := runTranscribe(); err != nil {
			fmt.Fprintf(os.Stderr, "transcribe: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'courier --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`courier - Concurrent client for OpenAI-compatible chat APIs

USAGE:
    courier [COMMAND] [FLAGS]

COMMANDS:
    embed       Compute embeddings for the given text arguments
    transcribe  Transcribe an audio file to text
    batch       Server-side batch jobs
                Subcommands: submit, status, wait, results

    (no command) - Dispatch chat completions from a prompts file

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --prompts PATH     Prompts file, one prompt per line (default: stdin)
    --model NAME       Model name override (e.g. gpt-4o-mini)
    --stream           Stream responses over SSE instead of buffering
    --concurrency N    Max in-flight requests
    --journal          Record results to the journal database

CONFIGURATION:
    Config file: ./config.yaml
    Environment: COURIER_* variables override config

EXAMPLES:
    courier --prompts prompts.txt              # One completion per line
    courier --stream --prompts prompts.txt     # Stream deltas as they arrive
    courier embed "first text" "second text"   # Embedding vectors
    courier transcribe meeting.mp3             # Audio to text
    courier batch submit --prompts prompts.txt # Submit a server-side batch
    courier batch wait batch_abc123            # Poll until terminal`)
}

// cliFlags holds optional CLI flags parsed from os.Args.
type cliFlags struct {
	Prompts     string
	Model       string
	Stream      bool
	Concurrency int
	Journal     bool
}

// parseFlags extracts --prompts, --model, --stream, --concurrency, --journal
// from os.Args.
func parseFlags() cliFlags {
	var flags cliFlags
	for i := 1; i < len(os.Args); i++ {
		switch {
		case os.Args[i] == "--prompts" && i+1 < len(os.Args):
			flags.Prompts = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--prompts="):
			flags.Prompts = strings.TrimPrefix(os.Args[i], "--prompts=")
		case os.Args[i] == "--model" && i+1 < len(os.Args):
			flags.Model = os.Args[i+1]
			i++
		case strings.HasPrefix(os.Args[i], "--model="):
			flags.Model = strings.TrimPrefix(os.Args[i], "--model=")
		case os.Args[i] == "--concurrency" && i+1 < len(os.Args):
			flags.Concurrency, _ = strconv.Atoi(os.Args[i+1])
			i++
		case strings.HasPrefix(os.Args[i], "--concurrency="):
			flags.Concurrency, _ = strconv.Atoi(strings.TrimPrefix(os.Args[i], "--concurrency="))
		case os.Args[i] == "--stream":
			flags.Stream = true
		case os.Args[i] == "--journal":
			flags.Journal = true
		}
	}
	return flags
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("COURIER_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// readPrompts loads one prompt per non-blank line from path, or from stdin
// when path is empty.
func readPrompts(path string) ([]string, error) {
	var r *os.File
	if path == "" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open prompts: %w", err)
		}
		defer f.Close()
		r = f
	}

	var prompts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		prompts = append(prompts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return prompts, nil
}

// components bundles the wired client stack shared by all commands.
type components struct {
	cfg     *config.Config
	client  *llm.Client
	log     *slog.Logger
	cleanup func()
}

func initComponents(ctx context.Context, flags cliFlags) (*components, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if flags.Model != "" {
		cfg.Provider.Model = flags.Model
	}
	if flags.Concurrency > 0 {
		cfg.Dispatch.MaxConcurrency = flags.Concurrency
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, fmt.Errorf("tracer: %w", err)
	}

	var transport domain.Transport = llm.NewHTTPTransport(cfg.Provider)
	if cfg.Provider.CircuitBreaker.Enabled {
		transport = llm.NewBreakerTransport(transport, cfg.Provider.Name, cfg.Provider.CircuitBreaker, log)
	}

	return &components{
		cfg:    cfg,
		client: llm.New(cfg.Provider, transport, log),
		log:    log,
		cleanup: func() {
			tracerShutdown(context.Background())
			logCloser()
		},
	}, nil
}

func run() error {
	flags := parseFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comp, err := initComponents(ctx, flags)
	if err != nil {
		return err
	}
	defer comp.cleanup()
	cfg := comp.cfg

	prompts, err := readPrompts(flags.Prompts)
	if err != nil {
		return err
	}
	if len(prompts) == 0 {
		return fmt.Errorf("no prompts given")
	}

	tasks := make([]domain.RequestTask, 0, len(prompts))
	for _, p := range prompts {
		task, err := comp.client.ChatTask(domain.ChatRequest{
			Messages: []domain.Message{{Role: domain.RoleUser, Content: p}},
			Stream:   flags.Stream,
		})
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
	}

	dispatchCfg := dispatch.Config{
		MaxConcurrency:       cfg.Dispatch.MaxConcurrency,
		MaxRetries:           cfg.Dispatch.MaxRetries,
		BaseBackoff:          cfg.Dispatch.BaseBackoff,
		BackoffMultiplier:    cfg.Dispatch.BackoffMultiplier,
		RetryableStatusCodes: cfg.Dispatch.RetryableStatusCodes,
		PerRequestTimeout:    cfg.Dispatch.PerRequestTimeout,
		RequestsPerMin:       cfg.Dispatch.RequestsPerMin,
		Burst:                cfg.Dispatch.Burst,
	}
	if flags.Stream && len(tasks) == 1 {
		// Single streamed prompt: print deltas as they arrive.
		dispatchCfg.OnEvent = func(_ string, ev domain.StreamEvent) {
			if ev.Kind == domain.EventDelta {
				fmt.Print(ev.DeltaText)
			}
		}
	}

	d := dispatch.New(comp.client.Transport(), llm.DecodeStream, dispatchCfg, comp.log)
	results := d.DispatchAll(ctx, tasks)

	failures := 0
	for i, res := range results {
		if !res.Ok() {
			failures++
			fmt.Fprintf(os.Stderr, "[%d] failed after %d attempt(s): %v\n", i, res.AttemptsMade, res.Err)
			continue
		}
		if flags.Stream {
			if len(tasks) > 1 {
				acc := llm.NewStreamAccumulator()
				for _, ev := range res.Events {
					acc.Feed(ev)
				}
				fmt.Printf("[%d] %s\n", i, acc.Text())
			} else {
				fmt.Println()
			}
			continue
		}
		resp, err := llm.ParseChatResponse(res.Body)
		if err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "[%d] %v\n", i, err)
			continue
		}
		fmt.Printf("[%d] %s\n", i, resp.Message.Content)
	}

	if flags.Journal || cfg.Journal.Enabled {
		j, err := journal.NewSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer j.Close()
		runID := domain.NewTaskID()
		if err := j.RecordRun(ctx, runID, results); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		fmt.Fprintf(os.Stderr, "journaled run %s (%d results)\n", runID, len(results))
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d tasks failed", failures, len(results))
	}
	return nil
}

func runEmbed() error {
	flags := parseFlags()

	var inputs []string
	for _, arg := range os.Args[2:] {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		inputs = append(inputs, arg)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("usage: courier embed TEXT [TEXT...]")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comp, err := initComponents(ctx, flags)
	if err != nil {
		return err
	}
	defer comp.cleanup()

	resp, err := comp.client.Embeddings(ctx, domain.EmbeddingRequest{Input: inputs})
	if err != nil {
		return err
	}
	for _, emb := range resp.Data {
		fmt.Printf("[%d] %d dimensions\n", emb.Index, len(emb.Vector))
	}
	fmt.Printf("tokens used: %d\n", resp.Usage.TotalTokens)
	return nil
}

func runTranscribe() error {
	flags := parseFlags()

	var audioPath string
	for _, arg := range os.Args[2:] {
		if !strings.HasPrefix(arg, "-") {
			audioPath = arg
			break
		}
	}
	if audioPath == "" {
		return fmt.Errorf("usage: courier transcribe AUDIO_FILE")
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comp, err := initComponents(ctx, flags)
	if err != nil {
		return err
	}
	defer comp.cleanup()

	resp, err := comp.client.Transcribe(ctx, domain.TranscriptionRequest{
		Audio:    f,
		Filename: filepath.Base(audioPath),
	})
	if err != nil {
		return err
	}
	fmt.Println(resp.Text)
	return nil
}

func runBatch() error {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: courier batch <submit|status|wait|results> [ID]")
		os.Exit(1)
	}
	flags := parseFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	comp, err := initComponents(ctx, flags)
	if err != nil {
		return err
	}
	defer comp.cleanup()

	switch os.Args[2] {
	case "submit":
		prompts, err := readPrompts(flags.Prompts)
		if err != nil {
			return err
		}
		if len(prompts) == 0 {
			return fmt.Errorf("no prompts given")
		}
		items := make([]domain.BatchRequestItem, 0, len(prompts))
		for i, p := range prompts {
			task, err := comp.client.ChatTask(domain.ChatRequest{
				Messages: []domain.Message{{Role: domain.RoleUser, Content: p}},
			})
			if err != nil {
				return err
			}
			items = append(items, domain.BatchRequestItem{
				CustomID: fmt.Sprintf("prompt-%d", i),
				Method:   "POST",
				URL:      "/v1/chat/completions",
				Body:     task.Payload,
			})
		}
		fileID, err := comp.client.UploadBatchInput(ctx, items, "courier-batch.jsonl")
		if err != nil {
			return err
		}
		job, err := comp.client.CreateBatch(ctx, fileID, "/v1/chat/completions")
		if err != nil {
			return err
		}
		fmt.Printf("submitted %s (%d requests)\n", job.ID, len(items))
		return nil

	case "status":
		job, err := comp.client.GetBatch(ctx, batchID())
		if err != nil {
			return err
		}
		printBatch(job)
		return nil

	case "wait":
		job, err := comp.client.WaitBatch(ctx, batchID(), 10*time.Second)
		if err != nil {
			return err
		}
		printBatch(job)
		return nil

	case "results":
		job, err := comp.client.GetBatch(ctx, batchID())
		if err != nil {
			return err
		}
		results, err := comp.client.BatchResults(ctx, job)
		if err != nil {
			return err
		}
		for _, item := range results {
			if item.Error != nil {
				fmt.Fprintf(os.Stderr, "%s: %s: %s\n", item.CustomID, item.Error.Code, item.Error.Message)
				continue
			}
			resp, err := llm.ParseChatResponse(item.Response.Body)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", item.CustomID, err)
				continue
			}
			fmt.Printf("%s: %s\n", item.CustomID, resp.Message.Content)
		}
		return nil

	default:
		return fmt.Errorf("unknown batch command: %s (want: submit, status, wait, results)", os.Args[2])
	}
}

func batchID() string {
	for _, arg := range os.Args[3:] {
		if !strings.HasPrefix(arg, "-") {
			return arg
		}
	}
	fmt.Fprintln(os.Stderr, "batch ID required")
	os.Exit(1)
	return ""
}

func printBatch(job *domain.BatchJob) {
	fmt.Printf("batch %s: %s (%d/%d completed, %d failed)\n",
		job.ID, job.Status, job.Counts.Completed, job.Counts.Total, job.Counts.Failed)
}
