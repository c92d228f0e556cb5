// Mendbot - conversational medication companion
// License: MIT

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/mendhq/mendbot/pkg/agent"
	"github.com/mendhq/mendbot/pkg/bus"
	"github.com/mendhq/mendbot/pkg/channels"
	"github.com/mendhq/mendbot/pkg/config"
	"github.com/mendhq/mendbot/pkg/logger"
	"github.com/mendhq/mendbot/pkg/profile"
	"github.com/mendhq/mendbot/pkg/providers"
	"github.com/mendhq/mendbot/pkg/reminder"
	"github.com/mendhq/mendbot/pkg/session"
	"github.com/mendhq/mendbot/pkg/tools"
)

const version = "0.1.0"
const logo = "\U0001F48A" // pill

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := loadEnvFile(".env"); err != nil {
			fmt.Printf("Error loading .env: %v\n", err)
			os.Exit(1)
		}
	}

	switch os.Args[1] {
	case "onboard":
		onboard()
	case "agent":
		agentCmd()
	case "gateway":
		gatewayCmd()
	case "reminders":
		remindersCmd()
	case "status":
		statusCmd()
	case "version", "--version", "-v":
		fmt.Printf("%s mendbot v%s\n", logo, version)
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("%s mendbot - Medication Companion v%s\n\n", logo, version)
	fmt.Println("Usage: mendbot <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  onboard     Initialize mendbot configuration and workspace")
	fmt.Println("  agent       Talk to the companion directly")
	fmt.Println("  gateway     Start the channel gateway")
	fmt.Println("  reminders   Manage scheduled reminders")
	fmt.Println("  status      Show mendbot status")
	fmt.Println("  version     Show version information")
}

func getConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mendbot", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(getConfigPath())
}

func onboard() {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	workspace := cfg.WorkspacePath()
	for _, dir := range []string{"sessions", "profiles", "reminders"} {
		os.MkdirAll(filepath.Join(workspace, dir), 0755)
	}

	fmt.Printf("%s mendbot is ready!\n", logo)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your API key to", configPath)
	fmt.Println("     Get one at: https://openrouter.ai/keys")
	fmt.Println("  2. Chat: mendbot agent -m \"I take lisinopril every morning\"")
	fmt.Println("  3. Enable Telegram in the config and run: mendbot gateway")
}

// runtime bundles everything one agent process needs.
type runtime struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	loop      *agent.Loop
	reminders *reminder.Service
	icsTool   *tools.MedicationICSTool
}

func buildRuntime(cfg *config.Config) (*runtime, error) {
	workspace := cfg.WorkspacePath()

	sessionStore, err := session.NewFileStore(filepath.Join(workspace, "sessions"))
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	sessions := session.NewManager(sessionStore, session.Limits{
		Timeout:     time.Duration(cfg.Session.TimeoutMinutes) * time.Minute,
		MaxMessages: cfg.Session.MaxMessages,
		TokenBudget: cfg.Session.TokenBudget,
	})

	profiles, err := profile.NewStore(filepath.Join(workspace, "profiles"))
	if err != nil {
		return nil, fmt.Errorf("profile store: %w", err)
	}

	apiKey := cfg.GetAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("no provider API key configured, run: mendbot onboard")
	}
	provider := providers.NewOpenAICompatProvider(apiKey, cfg.GetAPIBase())

	reminders := reminder.NewService(filepath.Join(workspace, "reminders", "jobs.json"), nil)

	registry := tools.NewRegistry()
	registry.Register(tools.NewProfileTool(profiles))
	registry.Register(tools.NewTimezoneTool(profiles))
	registry.Register(tools.NewReminderTool(reminders))
	icsTool := tools.NewMedicationICSTool(profiles)
	registry.Register(icsTool)

	msgBus := bus.NewMessageBus()
	loop := agent.NewLoop(cfg, msgBus, provider, sessions, registry)

	return &runtime{
		cfg:       cfg,
		bus:       msgBus,
		loop:      loop,
		reminders: reminders,
		icsTool:   icsTool,
	}, nil
}

// wireReminders routes due jobs: plain reminders go straight out on
// the channel, agent jobs run a full turn first.
func wireReminders(rt *runtime) {
	rt.reminders.SetOnJob(func(job *reminder.Job) error {
		if job.Payload.Deliver {
			rt.bus.PublishOutbound(bus.OutboundMessage{
				Channel: job.Payload.Channel,
				ChatID:  job.Payload.To,
				Content: job.Payload.Message,
			})
			return nil
		}

		reply, err := rt.loop.ProcessDirect(context.Background(), job.Payload.Message, "reminder:"+job.Payload.To, job.Payload.Channel, job.Payload.To)
		if err != nil {
			return err
		}
		if job.Payload.Channel != "" && job.Payload.To != "" {
			rt.bus.PublishOutbound(bus.OutboundMessage{
				Channel: job.Payload.Channel,
				ChatID:  job.Payload.To,
				Content: reply,
			})
		}
		return nil
	})
}

func agentCmd() {
	message := ""
	userID := "cli:default"
	logLevel := ""

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--debug", "-d":
			logLevel = "debug"
		case "-m", "--message":
			if i+1 < len(args) {
				message = args[i+1]
				i++
			}
		case "-s", "--session":
			if i+1 < len(args) {
				userID = args[i+1]
				i++
			}
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	logger.Init(os.Stderr, logLevel)

	rt, err := buildRuntime(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if message != "" {
		response, err := rt.loop.ProcessDirect(context.Background(), message, userID, "cli", userID)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\n%s %s\n", logo, response)
		return
	}

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", logo)
	interactiveMode(rt.loop, userID)
}

func interactiveMode(loop *agent.Loop, userID string) {
	prompt := fmt.Sprintf("%s You: ", logo)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".mendbot_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(loop, userID)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nTake care!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if !handleInteractiveLine(loop, userID, line) {
			return
		}
	}
}

func simpleInteractiveMode(loop *agent.Loop, userID string) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s You: ", logo)
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println("\nTake care!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		if !handleInteractiveLine(loop, userID, line) {
			return
		}
	}
}

func handleInteractiveLine(loop *agent.Loop, userID, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Println("Take care!")
		return false
	}

	response, err := loop.ProcessDirect(context.Background(), input, userID, "cli", userID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return true
	}

	fmt.Printf("\n%s %s\n\n", logo, response)
	return true
}

func gatewayCmd() {
	logLevel := ""
	for _, arg := range os.Args[2:] {
		if arg == "--debug" || arg == "-d" {
			logLevel = "debug"
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	logger.Init(os.Stderr, logLevel)

	rt, err := buildRuntime(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	wireReminders(rt)

	channelManager, err := channels.NewManager(cfg, rt.bus)
	if err != nil {
		fmt.Printf("Error creating channel manager: %v\n", err)
		os.Exit(1)
	}

	rt.icsTool.SetFileSender(func(channel, chatID, filename string, content []byte, caption string) error {
		return channelManager.SendFile(context.Background(), channel, chatID, filename, content, caption)
	})

	enabled := channelManager.GetEnabledChannels()
	if len(enabled) > 0 {
		fmt.Printf("✓ Channels enabled: %s\n", strings.Join(enabled, ", "))
	} else {
		fmt.Println("⚠ Warning: no channels enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.reminders.Start(); err != nil {
		fmt.Printf("Error starting reminder service: %v\n", err)
	} else {
		fmt.Println("✓ Reminder service started")
	}

	if err := channelManager.StartAll(ctx); err != nil {
		fmt.Printf("Error starting channels: %v\n", err)
	}

	go rt.loop.Run(ctx)

	fmt.Println("✓ Gateway started")
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	rt.reminders.Stop()
	channelManager.StopAll(context.Background())
	fmt.Println("✓ Gateway stopped")
}

func remindersCmd() {
	if len(os.Args) < 3 {
		remindersHelp()
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}
	storePath := filepath.Join(cfg.WorkspacePath(), "reminders", "jobs.json")

	switch os.Args[2] {
	case "list":
		remindersListCmd(storePath)
	case "remove":
		if len(os.Args) < 4 {
			fmt.Println("Usage: mendbot reminders remove <job_id>")
			return
		}
		remindersRemoveCmd(storePath, os.Args[3])
	default:
		fmt.Printf("Unknown reminders command: %s\n", os.Args[2])
		remindersHelp()
	}
}

func remindersHelp() {
	fmt.Println("\nReminders commands:")
	fmt.Println("  list              List all scheduled reminders")
	fmt.Println("  remove <id>       Remove a reminder by ID")
	fmt.Println()
	fmt.Println("Reminders are usually created in conversation:")
	fmt.Println("  mendbot agent -m \"remind me to take metformin at 8am and 8pm\"")
}

func remindersListCmd(storePath string) {
	svc := reminder.NewService(storePath, nil)
	jobs := svc.ListJobs(true)

	if len(jobs) == 0 {
		fmt.Println("No scheduled reminders.")
		return
	}

	fmt.Println("\nScheduled Reminders:")
	fmt.Println("--------------------")
	for _, job := range jobs {
		var schedule string
		switch {
		case job.Schedule.Kind == "every" && job.Schedule.EveryMS != nil:
			schedule = fmt.Sprintf("every %ds", *job.Schedule.EveryMS/1000)
		case job.Schedule.Kind == "cron":
			schedule = job.Schedule.Expr
		default:
			schedule = "one-time"
		}

		nextRun := "scheduled"
		if job.State.NextRunAtMS != nil {
			nextRun = time.UnixMilli(*job.State.NextRunAtMS).Format("2006-01-02 15:04")
		}

		status := "enabled"
		if !job.Enabled {
			status = "disabled"
		}

		fmt.Printf("  %s (%s)\n", job.Name, job.ID)
		fmt.Printf("    Schedule: %s\n", schedule)
		fmt.Printf("    Status: %s\n", status)
		fmt.Printf("    Next run: %s\n", nextRun)
	}
}

func remindersRemoveCmd(storePath, jobID string) {
	svc := reminder.NewService(storePath, nil)
	if svc.RemoveJob(jobID) {
		fmt.Printf("✓ Removed reminder %s\n", jobID)
	} else {
		fmt.Printf("✗ Reminder %s not found\n", jobID)
	}
}

func statusCmd() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		return
	}

	configPath := getConfigPath()

	fmt.Printf("%s mendbot Status\n\n", logo)

	if _, err := os.Stat(configPath); err == nil {
		fmt.Println("Config:", configPath, "✓")
	} else {
		fmt.Println("Config:", configPath, "✗")
	}

	workspace := cfg.WorkspacePath()
	if _, err := os.Stat(workspace); err == nil {
		fmt.Println("Workspace:", workspace, "✓")
	} else {
		fmt.Println("Workspace:", workspace, "✗")
	}

	fmt.Printf("Model: %s\n", cfg.Agents.Defaults.Model)

	status := func(set bool) string {
		if set {
			return "✓"
		}
		return "not set"
	}
	fmt.Println("OpenRouter API:", status(cfg.Providers.OpenRouter.APIKey != ""))
	fmt.Println("OpenAI API:", status(cfg.Providers.OpenAI.APIKey != ""))
	fmt.Println("Anthropic API:", status(cfg.Providers.Anthropic.APIKey != ""))

	fmt.Println("Telegram channel:", status(cfg.Channels.Telegram.Enabled))
	fmt.Println("Bridge channel:", status(cfg.Channels.Bridge.Enabled))

	storePath := filepath.Join(workspace, "reminders", "jobs.json")
	jobs := reminder.NewService(storePath, nil).ListJobs(true)
	fmt.Printf("Reminders: %d scheduled\n", len(jobs))
}
