package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rahul/maestro/internal/agent"
	"github.com/rahul/maestro/internal/gateway"
	"github.com/rahul/maestro/internal/gmail"
	"github.com/rahul/maestro/internal/governance"
	"github.com/rahul/maestro/internal/llm"
	"github.com/rahul/maestro/internal/observability"
	"github.com/rahul/maestro/internal/store"
	"github.com/rahul/maestro/internal/tools"
	"github.com/rahul/maestro/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON or YAML config file")
	flag.Parse()

	cfg := config.LoadConfig(*configPath)

	observability.PrintBanner(cfg.App.Name)
	observability.InitializeTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	logger := observability.NewLogger()

	db, err := store.Open(cfg.Memory.Path)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	conversations := store.NewConversationStore(db)
	reminders := store.NewReminderStore(db)

	accounts := gmail.NewAccountCache()
	mailOpts := []gmail.Option{gmail.WithAccountCache(accounts)}
	if cfg.Gmail.BaseURL != "" {
		mailOpts = append(mailOpts, gmail.WithBaseURL(cfg.Gmail.BaseURL))
	}
	mail := gmail.NewClient(cfg.Gmail.APIKey, mailOpts...)
	if !mail.Operational() {
		log.Printf("Warning: Gmail API key missing, gmail_tool calls will fail")
	}
	sessions := &store.SessionResolver{Accounts: accounts, Conversations: conversations}

	// Initialize LLM (using default enabled provider)
	pName, pCfg := cfg.GetDefaultProvider()
	if pName == "" {
		log.Fatal("No enabled provider found in config")
	}

	var model llms.Model
	switch pName {
	case "openrouter":
		var opts []llm.OpenRouterOption
		if pCfg.BaseURL != "" {
			opts = append(opts, llm.WithBaseURL(pCfg.BaseURL))
		}
		model = llm.NewOpenRouterClient(pCfg.APIKey, pCfg.Model, opts...)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(pCfg.APIKey),
			openai.WithModel(pCfg.Model),
		}
		if pCfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pCfg.BaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("Provider %s not yet implemented in main", pName)
	}
	llmGateway := llm.NewGateway(model, pCfg.Model, logger)

	// Initialize Tools
	registry := tools.NewRegistry()
	scheduling := tools.NewSchedulerTools(reminders)
	categories := map[string][]tools.Function{
		"gmail_tool":     tools.NewGmailTools(mail, sessions).Functions(),
		"llm_tool":       tools.NewTextTools(llmGateway, cfg.Models.Specialist).Functions(),
		"scheduler_tool": scheduling.Functions(),
	}
	if web, err := tools.NewWebTools(); err != nil {
		log.Printf("Warning: Failed to initialize web tools: %v", err)
	} else {
		categories["web_tool"] = web.Functions()
	}
	for name, fns := range categories {
		if err := registry.RegisterCategory(name, fns); err != nil {
			log.Fatal(err)
		}
	}

	policy, err := governance.NewPolicyEngine(cfg.Governance.DeniedTools, cfg.Governance.DeniedPatterns)
	if err != nil {
		log.Fatal(err)
	}

	router := gateway.NewRouter()
	prompts := agent.NewPromptManager(cfg.App.Prompts)
	planner := agent.NewPlanner(llmGateway, cfg.Models.Specialist, registry, prompts, logger)
	worker := agent.NewWorker(registry, llmGateway, cfg.Models.Specialist, policy, logger)

	conductor := agent.NewConductor(llmGateway, cfg.Models.Conductor, conversations, prompts, planner, worker, logger)
	conductor.Summarizer = agent.NewSummarizer(llmGateway, cfg.Models.Summarizer, conversations, cfg.Memory.SummaryThreshold)
	conductor.Scheduler = scheduling
	conductor.Messenger = router

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := agent.NewScheduler(reminders, conversations, sessions, planner, worker, router, logger)
	scheduler.Interval = cfg.SchedulerInterval()
	go scheduler.Start(ctx)

	if every, ok := cfg.EmailMonitorInterval(); ok && mail.Operational() {
		monitor := agent.NewEmailMonitor(mail, conversations, sessions, router, logger)
		monitor.Interval = every
		monitor.VIPDomains = cfg.Gmail.VIPDomains
		go monitor.Start(ctx)
	} else {
		log.Printf("Email monitor disabled")
	}

	started := 0
	if tgCfg, ok := cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, conductor)
		if err != nil {
			log.Fatal(err)
		}
		router.Register(gateway.TelegramSessionPrefix, tg)
		started++
		go func() {
			if err := tg.Start(ctx); err != nil {
				log.Printf("\033[91m[ FAIL ] TELEGRAM GATEWAY ERROR: %v\033[0m", err)
				stop()
			}
		}()
	}

	if httpCfg, ok := cfg.GetHTTPConfig(); ok {
		web := gateway.NewHTTPGateway(httpCfg.Addr, conductor, conversations)
		web.Gmail = mail
		started++
		go func() {
			if err := web.Start(ctx); err != nil {
				log.Printf("\033[91m[ FAIL ] HTTP GATEWAY ERROR: %v\033[0m", err)
				stop()
			}
		}()
	}

	if started == 0 {
		log.Fatal("No gateway enabled: enable gateways.http or gateways.telegram in the config")
	}

	// Start Live Resource Dashboard (1-second updates)
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.PrintLiveStatus()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				logger.LogHeartbeat()
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	router.Stop()

	// Reset terminal aesthetics
	observability.CleanupTerminal()

	// Give a short time for final logs/syncs
	time.Sleep(500 * time.Millisecond)
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
}
