// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// promptdeck is a terminal chat client for local and cloud LLMs with
// first-class context attachment (@file:, @folder:, @clipboard).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/morganforge/promptdeck/internal/chat"
	"github.com/morganforge/promptdeck/internal/config"
	appctx "github.com/morganforge/promptdeck/internal/context"
	"github.com/morganforge/promptdeck/internal/export"
	"github.com/morganforge/promptdeck/internal/metrics"
	"github.com/morganforge/promptdeck/internal/model"
	"github.com/morganforge/promptdeck/internal/provider"
	"github.com/morganforge/promptdeck/internal/provider/ollama"
	"github.com/morganforge/promptdeck/internal/provider/openrouter"
	"github.com/morganforge/promptdeck/internal/session"
	"github.com/morganforge/promptdeck/internal/storage"
	"github.com/morganforge/promptdeck/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// COMPOSITION ROOT
// =============================================================================

// app holds the wired components for the REPL.
type app struct {
	cfg        *config.Config
	registry   *provider.Registry
	aggregator *metrics.Aggregator
	contextSt  *appctx.Store
	resolver   *appctx.Resolver
	watcher    *appctx.StalenessWatcher
	controller *chat.Controller
	store      session.Store
	emitter    *telemetry.Emitter

	currentModel model.LLMModel
	params       model.LLMParameters
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	aggregator := metrics.NewAggregatorWithCaps(cfg.Metrics.RequestHistory, cfg.Metrics.ErrorHistory)

	registry := provider.NewRegistry()
	registry.Add(ollama.New(ollama.Config{
		BaseURL:             cfg.Local.OllamaURL,
		ContextWindowTokens: cfg.Local.ContextWindowTokens,
	}, aggregator))
	registry.Add(openrouter.New(openrouter.Config{
		BaseURL: cfg.Cloud.OpenRouterURL,
		APIKey:  cfg.Cloud.OpenRouterKey,
	}, aggregator))
	if err := registry.SetCurrent(cfg.DefaultProvider); err != nil {
		return err
	}

	var emitter *telemetry.Emitter
	if cfg.Storage.TelemetryPath != "" {
		if sink, err := telemetry.NewFileSink(cfg.Storage.TelemetryPath); err == nil {
			emitter = telemetry.NewEmitter(sink)
		}
	}
	emitter.Record(telemetry.EventAppLaunched, nil)
	defer func() {
		emitter.Record(telemetry.EventAppTerminated, nil)
		emitter.Close()
	}()

	var store session.Store
	if dbPath, err := cfg.DatabasePath(); err == nil {
		if s, err := storage.Open(dbPath); err == nil {
			store = s
			defer s.Close()
		} else {
			fmt.Fprintln(os.Stderr, "warning: session persistence disabled:", err)
		}
	}

	contextStore := appctx.NewStore()
	optimizer := appctx.NewOptimizer()
	optimizer.MinimumViableTokens = cfg.Context.MinimumViableTokens

	// Staleness tracking is advisory; the REPL runs without it if the
	// platform watcher cannot start.
	watcher, err := appctx.NewStalenessWatcher()
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: file watching disabled:", err)
	} else {
		defer watcher.Close()
	}

	a := &app{
		cfg:        cfg,
		registry:   registry,
		aggregator: aggregator,
		contextSt:  contextStore,
		resolver:   appctx.NewResolver("", nil),
		watcher:    watcher,
		store:      store,
		emitter:    emitter,
		params:     model.DefaultParameters(),
		controller: chat.NewController(chat.Config{
			Registry:  registry,
			Context:   contextStore,
			Optimizer: optimizer,
			Store:     store,
			Telemetry: emitter,
			Strategy:  appctx.StrategyTruncate,
		}),
	}

	if err := a.connect(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	return a.repl()
}

// connect authenticates the current provider and selects the startup model.
func (a *app) connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	current := a.registry.Current()
	if err := current.Authenticate(ctx, nil); err != nil {
		return fmt.Errorf("provider %s unavailable: %w", current.ID(), err)
	}

	models := current.Models(ctx)
	a.currentModel = models[0]
	for _, m := range models {
		if m.ID == a.cfg.DefaultModel {
			a.currentModel = m
			break
		}
	}
	fmt.Printf("Connected to %s (model %s)\n", current.Name(), a.currentModel.ID)
	return nil
}

// =============================================================================
// REPL
// =============================================================================

func (a *app) repl() error {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	historyFile := ""
	if dir, err := config.Dir(); err == nil {
		historyFile = filepath.Join(dir, "history")
		if f, err := os.Open(historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer saveHistory(line, historyFile)

	fmt.Println("Type a message, attach context with @file:, @folder:, @clipboard.")
	fmt.Println("Commands: /context /clear /provider /export /metrics /quit")

	for {
		input, err := line.Prompt("> ")
		if err == liner.ErrPromptAborted {
			continue
		}
		if err != nil {
			return nil // EOF
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := a.dispatch(input); quit {
				return nil
			}
			continue
		}

		a.send(input)
	}
}

func saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}

// dispatch handles a slash command; returns true on /quit.
func (a *app) dispatch(input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/q":
		return true
	case "/context":
		a.cmdContext(args)
	case "/clear":
		if a.watcher != nil {
			for _, item := range a.contextSt.Items() {
				if item.Kind == model.KindFile {
					a.watcher.Untrack(item.SourcePath)
				}
			}
		}
		a.contextSt.Clear()
		fmt.Println("Context cleared.")
	case "/provider":
		a.cmdProvider(args)
	case "/export":
		a.cmdExport(args)
	case "/metrics":
		a.cmdMetrics(args)
	default:
		fmt.Println("Unknown command:", cmd)
	}
	return false
}

func (a *app) cmdContext(args []string) {
	if len(args) > 0 {
		// Treat arguments as references to attach immediately.
		for _, ref := range args {
			a.attach(ref)
		}
		return
	}
	items := a.contextSt.Items()
	if len(items) == 0 {
		fmt.Println("No context attached.")
		return
	}
	for _, item := range items {
		stale := ""
		if a.watcher != nil && item.Kind == model.KindFile && a.watcher.IsStale(item.SourcePath) {
			stale = " (stale, re-attach to refresh)"
		}
		fmt.Printf("  %-30s %-15s %6d tokens%s\n", item.DisplayName, item.TypeLabel(), item.TokenCount, stale)
	}
	fmt.Printf("Total: %d tokens\n", a.contextSt.TotalTokens())
}

func (a *app) cmdProvider(args []string) {
	if len(args) == 0 {
		for _, p := range a.registry.List() {
			marker := " "
			if current := a.registry.Current(); current != nil && current.ID() == p.ID() {
				marker = "*"
			}
			fmt.Printf("%s %s (%s)\n", marker, p.ID(), p.Name())
		}
		return
	}

	if err := a.registry.SetCurrent(args[0]); err != nil {
		fmt.Println(err)
		return
	}
	if err := a.connect(); err != nil {
		fmt.Println("warning:", err)
	}
}

func (a *app) cmdExport(args []string) {
	sess := a.controller.Session()
	if sess == nil {
		fmt.Println("Nothing to export yet.")
		return
	}

	format := export.FormatMarkdown
	if len(args) > 0 {
		format = export.Format(args[0])
	}
	exporter, err := export.For(format)
	if err != nil {
		fmt.Println(err)
		return
	}
	data, err := exporter.Export(sess)
	if err != nil {
		fmt.Println("export failed:", err)
		return
	}

	name := "session_" + time.Now().Format("20060102_150405") + exporter.FileExtension()
	if err := os.WriteFile(name, data, 0644); err != nil {
		fmt.Println("write failed:", err)
		return
	}
	a.emitter.Record(telemetry.EventExportCompleted, map[string]string{"format": string(format)})
	fmt.Println("Exported to", name)
}

func (a *app) cmdMetrics(args []string) {
	format := metrics.FormatText
	if len(args) > 0 {
		switch args[0] {
		case "json":
			format = metrics.FormatJSON
		case "csv":
			format = metrics.FormatCSV
		}
	}
	data, err := metrics.Export(a.aggregator.Snapshot(), format)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(string(data))
}

// attach resolves one reference and adds it to the context store.
func (a *app) attach(ref string) bool {
	item, err := a.resolver.Resolve(ref)
	if err != nil {
		fmt.Println("context error:", err)
		return false
	}
	a.contextSt.Add(item)
	if a.watcher != nil && item.Kind == model.KindFile {
		a.watcher.Track(item.SourcePath)
	}
	a.emitter.Record(telemetry.EventContextAdded, map[string]string{"id": item.ID})
	fmt.Printf("Attached %s (%d tokens)\n", item.DisplayName, item.TokenCount)
	return true
}

// =============================================================================
// SENDING
// =============================================================================

func (a *app) send(input string) {
	// References embedded in the message are attached before sending; a
	// failed reference aborts the send rather than dropping context.
	for _, ref := range appctx.ExtractReferences(input) {
		if !a.attach(ref) {
			return
		}
	}

	updates, err := a.controller.Send(context.Background(), input, provider.SendConfig{
		Model:      a.currentModel,
		Parameters: a.params,
	})
	if err != nil {
		fmt.Println("send failed:", err)
		return
	}

	printed := 0
	for update := range updates {
		if len(update.Content) > printed {
			fmt.Print(update.Content[printed:])
			printed = len(update.Content)
		}
		if update.Done {
			fmt.Println()
			if update.Err != nil {
				fmt.Println("stream error:", update.Err)
			} else if update.Usage != nil {
				fmt.Printf("(%d in / %d out tokens)\n", update.Usage.Input, update.Usage.Output)
			}
		}
	}
}
