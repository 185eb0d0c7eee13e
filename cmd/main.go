package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"prompt-rag/internal/blobstore"
	"prompt-rag/internal/config"
	"prompt-rag/internal/db"
	"prompt-rag/internal/embedding"
	"prompt-rag/internal/helper"
	"prompt-rag/internal/httpapi"
	"prompt-rag/internal/llmservice"
	"prompt-rag/internal/rag"
)

const defaultConfigPath = "./configs/config.yaml"

const usage = `Usage: prompt-rag <command> [flags]

Commands:
  serve          start the HTTP API
  create-prompt  create a prompt (-name, -text or -text-file)
  upload         attach files to a prompt (-file or -glob)
  reindex        rebuild embeddings of a prompt (-prompt) or of every prompt (-all)
  search         similarity search over chunks (-query)
  related        prompts related to a query (-query)
  context        formatted context of a prompt (-prompt, -query)
  apply          run a prompt against a text (-prompt, -text or -text-file)
  stats          embedding statistics of a tenant
`

// options holds every flag; each command reads the ones it needs
type options struct {
	configPath    string
	tenant        string
	promptID      string
	query         string
	topK          int
	minSimilarity *float64 // nil when the flag is absent

	name      string
	text      string
	textFile  string
	file      string
	glob      string
	mimeType  string
	all       bool
	maxChunks int

	format         string
	includeContext bool
	maxTokens      int
	temperature    *float64 // nil when the flag is absent
	model          string
}

func parseFlags(command string, args []string) *options {
	var o options
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	fs.StringVar(&o.configPath, "config", defaultConfigPath, "Path to the config file")
	fs.StringVar(&o.tenant, "tenant", "default", "Tenant id")
	fs.StringVar(&o.promptID, "prompt", "", "Prompt id")
	fs.StringVar(&o.query, "query", "", "Query text")
	fs.IntVar(&o.topK, "top-k", 0, "Maximum number of results (0 uses the configured default)")
	var minSimilarity, temperature float64
	fs.Float64Var(&minSimilarity, "min-similarity", 0, "Minimum similarity, may be negative (unset uses the configured default)")

	fs.StringVar(&o.name, "name", "", "Prompt name")
	fs.StringVar(&o.text, "text", "", "Prompt text, or the text to transform for apply")
	fs.StringVar(&o.textFile, "text-file", "", "Read the text from a file")
	fs.StringVar(&o.file, "file", "", "File to upload")
	fs.StringVar(&o.glob, "glob", "", "Glob pattern of files to upload, e.g. docs/**/*.md")
	fs.StringVar(&o.mimeType, "mime", "", "Content type of the uploaded file")
	fs.BoolVar(&o.all, "all", false, "Reindex every prompt of the tenant")
	fs.IntVar(&o.maxChunks, "max-chunks", 0, "Maximum context chunks (0 uses the configured default)")

	fs.StringVar(&o.format, "format", "plain", "Format of the text: plain, markdown or html")
	fs.BoolVar(&o.includeContext, "context", false, "Ground apply in the prompt's chunks")
	fs.IntVar(&o.maxTokens, "max-tokens", 0, "Completion token limit")
	fs.Float64Var(&temperature, "temperature", 0, "Sampling temperature (unset uses the configured default)")
	fs.StringVar(&o.model, "model", "", "Override the inference model")

	if err := fs.Parse(args); err != nil {
		log.Fatal().Err(err).Msg("Error parsing flags")
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "min-similarity":
			o.minSimilarity = &minSimilarity
		case "temperature":
			o.temperature = &temperature
		}
	})
	return &o
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]
	opts := parseFlags(command, os.Args[2:])

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogging(cfg.Log)
	log.Debug().Str("driver", cfg.Database.Driver).Str("embedding", cfg.Embedding.Provider).Str("llm", cfg.LLM.Provider).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing")
	}
	defer a.close()

	switch command {
	case "serve":
		err = a.serve(ctx)
	case "create-prompt":
		err = a.createPrompt(ctx, opts)
	case "upload":
		err = a.upload(ctx, opts)
	case "reindex":
		err = a.reindex(ctx, opts)
	case "search":
		err = a.search(ctx, opts)
	case "related":
		err = a.related(ctx, opts)
	case "context":
		err = a.context(ctx, opts)
	case "apply":
		err = a.apply(ctx, opts)
	case "stats":
		err = a.stats(ctx, opts)
	default:
		fmt.Fprint(os.Stderr, usage)
		a.close()
		os.Exit(2)
	}
	if err != nil {
		a.close()
		log.Fatal().Err(err).Str("command", command).Msg("Command failed")
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// app wires the stores, providers and services built from the config
type app struct {
	cfg       *config.Config
	store     db.Store
	retriever *rag.Retriever
	indexer   *rag.Indexer
	service   *rag.PromptService
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	completer, err := llmservice.New(cfg.LLM)
	if err != nil {
		return nil, err
	}
	store, err := db.Open(ctx, cfg.Database, embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.NewLocal(cfg.Storage.Root)
	if err != nil {
		store.Close()
		return nil, err
	}

	retriever := rag.NewRetriever(store, embedder, cfg.RAG)
	indexer := rag.NewIndexer(store, blobs, embedder, cfg.RAG)
	applier := rag.NewApplier(retriever, completer, cfg.LLM)
	return &app{
		cfg:       cfg,
		store:     store,
		retriever: retriever,
		indexer:   indexer,
		service:   rag.NewPromptService(store, blobs, indexer, applier, cfg.Storage.SniffContentType),
	}, nil
}

// close waits for background reindexing before closing the store
func (a *app) close() {
	if a.store == nil {
		return
	}
	a.indexer.Wait()
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Error closing store")
	}
	a.store = nil
}

func (a *app) serve(ctx context.Context) error {
	srv := httpapi.NewServer(a.cfg.Server, httpapi.NewHandler(a.service, a.retriever))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func readText(o *options) (string, error) {
	if o.textFile == "" {
		return o.text, nil
	}
	data, err := os.ReadFile(o.textFile)
	if err != nil {
		return "", fmt.Errorf("failed to read text file: %w", err)
	}
	return string(data), nil
}

func requirePrompt(o *options) error {
	if o.promptID == "" {
		return errors.New("-prompt is required")
	}
	return nil
}

func (a *app) createPrompt(ctx context.Context, o *options) error {
	text, err := readText(o)
	if err != nil {
		return err
	}
	in := rag.CreatePromptInput{Name: o.name}
	if text != "" {
		in.Text = &text
	}
	p, err := a.service.CreatePrompt(ctx, o.tenant, in)
	if err != nil {
		return err
	}
	helper.PrettyPrint(os.Stdout, p)
	return nil
}

func (a *app) upload(ctx context.Context, o *options) error {
	if err := requirePrompt(o); err != nil {
		return err
	}
	var paths []string
	switch {
	case o.file != "":
		paths = []string{o.file}
	case o.glob != "":
		matches, err := doublestar.FilepathGlob(o.glob, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("invalid glob pattern: %w", err)
		}
		paths = matches
	default:
		return errors.New("-file or -glob is required")
	}
	if len(paths) == 0 {
		log.Warn().Str("glob", o.glob).Msg("No files matched")
		return nil
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		f, err := a.service.UploadFile(ctx, o.tenant, o.promptID, filepath.Base(path), o.mimeType, data)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", path, err)
		}
		helper.PrettyPrint(os.Stdout, f)
	}
	return nil
}

func (a *app) reindex(ctx context.Context, o *options) error {
	if !o.all {
		if err := requirePrompt(o); err != nil {
			return err
		}
		count, err := a.service.Reindex(ctx, o.tenant, o.promptID)
		if err != nil {
			return err
		}
		log.Info().Str("prompt_id", o.promptID).Int("chunks", count).Msg("Reindexed prompt")
		return nil
	}

	prompts, err := a.service.ListPrompts(ctx, o.tenant)
	if err != nil {
		return err
	}
	// the bar only renders on a terminal, piped runs log each prompt instead
	var bar *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.Default(int64(len(prompts)), "reindexing")
	}
	total, err := a.indexer.ReindexAll(ctx, o.tenant, func(promptID string, chunks int) {
		if bar != nil {
			_ = bar.Add(1)
			return
		}
		log.Info().Str("prompt_id", promptID).Int("chunks", chunks).Msg("Reindexed prompt")
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return err
	}
	log.Info().Int("prompts", len(prompts)).Int("chunks", total).Msg("Reindexed tenant")
	return nil
}

func (a *app) search(ctx context.Context, o *options) error {
	results, err := a.retriever.SimilaritySearch(ctx, o.tenant, o.query, rag.SearchOptions{
		TopK:          o.topK,
		MinSimilarity: o.minSimilarity,
		PromptID:      o.promptID,
	})
	if err != nil {
		return err
	}
	helper.PrettyPrint(os.Stdout, results)
	return nil
}

func (a *app) related(ctx context.Context, o *options) error {
	related, err := a.retriever.FindRelatedPrompts(ctx, o.tenant, o.query, o.topK, o.minSimilarity)
	if err != nil {
		return err
	}
	helper.PrettyPrint(os.Stdout, related)
	return nil
}

func (a *app) context(ctx context.Context, o *options) error {
	if err := requirePrompt(o); err != nil {
		return err
	}
	text, err := a.retriever.GetContext(ctx, o.tenant, o.promptID, o.query, o.maxChunks)
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func (a *app) apply(ctx context.Context, o *options) error {
	if err := requirePrompt(o); err != nil {
		return err
	}
	text, err := readText(o)
	if err != nil {
		return err
	}
	resp, err := a.service.Apply(ctx, o.tenant, o.promptID, rag.ApplyRequest{
		Query:          o.query,
		Text:           text,
		Format:         o.format,
		IncludeContext: o.includeContext,
		TopK:           o.topK,
		MinSimilarity:  o.minSimilarity,
		MaxTokens:      o.maxTokens,
		Temperature:    o.temperature,
		Model:          o.model,
	})
	if err != nil {
		return err
	}
	helper.PrettyPrint(os.Stdout, resp)
	return nil
}

func (a *app) stats(ctx context.Context, o *options) error {
	stats, err := a.retriever.GetStats(ctx, o.tenant)
	if err != nil {
		return err
	}
	helper.PrettyPrint(os.Stdout, stats)
	return nil
}
