package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"toolbench/internal/config"
	"toolbench/internal/gateway"
	"toolbench/internal/logging"
	"toolbench/internal/persona"
	"toolbench/internal/repository"
	"toolbench/internal/store"
	"toolbench/internal/types"
	"toolbench/internal/workspace"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose      bool
	apiKey       string
	workspaceDir string
	timeout      time.Duration
	folderID     string
	messageText  string
	editText     string
	editFile     string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "toolbench",
	Short: "toolbench - project workspace for AI-assisted tools",
	Long: `toolbench keeps a collection of projects, each with four tool
sections: code review, chat studio, architect, and storefront copy.

Edits are debounced into a durable store; tool actions dispatch the
current section to the model service and write the result back, even
if you have navigated elsewhere by the time it arrives.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config into the workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.Path(workspaceDir)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a project with defaulted tool sections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		p, err := engine.Repository().CreateProject(args[0], folderID)
		if err != nil {
			return err
		}
		fmt.Printf("created %s (%s)\n", p.Name, p.ID)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects, most recently modified first",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		folders := make(map[string]string)
		for _, f := range engine.Repository().ListFolders() {
			folders[f.ID] = f.Name
		}
		for _, p := range engine.Repository().ListProjects() {
			group := folders[p.FolderID]
			if group == "" {
				group = "ungrouped"
			}
			fmt.Printf("%s  %-24s %-12s %s\n", p.ID, p.Name, group, p.LastModified.Format(time.RFC3339))
		}
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()
		return engine.DeleteProject(args[0])
	},
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename [id] [name]",
	Short: "Rename a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()
		return engine.Repository().RenameProject(args[0], args[1])
	},
}

var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage folders for grouping projects",
}

var folderCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		f, err := engine.Repository().CreateFolder(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("created folder %s (%s)\n", f.Name, f.ID)
		return nil
	},
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		for _, f := range engine.Repository().ListFolders() {
			fmt.Printf("%s  %s\n", f.ID, f.Name)
		}
		return nil
	},
}

var folderDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a folder; its projects become ungrouped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()
		return engine.Repository().DeleteFolder(args[0])
	},
}

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List personas and the actions each tool offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		router, err := persona.Load()
		if err != nil {
			return err
		}
		fmt.Println("personas:")
		for _, p := range router.Personas() {
			fmt.Printf("  %-10s %s\n", p.ID, p.Name)
		}
		for _, tool := range types.SectionKeys {
			actions := router.Actions(tool)
			if len(actions) == 0 {
				continue
			}
			fmt.Printf("%s actions:\n", tool)
			for _, a := range actions {
				fmt.Printf("  %-10s %s\n", a.ID, a.Label)
			}
		}
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit [project-id] [tool]",
	Short: "Replace a section's editable content",
	Long: `Replaces the primary content of one tool section. The content comes
from --text, --file, or stdin. The change is committed on exit.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent()
		if err != nil {
			return err
		}

		engine, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		tool := types.SectionKey(args[1])
		if err := engine.Open(args[0], tool); err != nil {
			return err
		}
		snap, err := engine.Snapshot()
		if err != nil {
			return err
		}
		payload, err := withContent(snap, content)
		if err != nil {
			return err
		}
		if err := engine.Edit(payload); err != nil {
			return err
		}
		return engine.Close()
	},
}

var runCmd = &cobra.Command{
	Use:   "run [project-id] [tool] [action]",
	Short: "Dispatch a tool action and print the result",
	Long: `Dispatches the section's current content to the model service using
the action's instruction template. Review actions speak in the voice of
the section's persona; the blueprint action returns structured JSON.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := engine.Open(args[0], types.SectionKey(args[1])); err != nil {
			return err
		}
		if err := engine.RunAction(ctx, args[2]); err != nil {
			return err
		}
		snap, err := engine.Snapshot()
		if err != nil {
			return err
		}
		fmt.Println(sectionOutput(snap))
		return engine.Close()
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [project-id]",
	Short: "Converse in a project's studio section",
	Long: `With --message, sends one chat turn and prints the reply. Without it,
starts an interactive session; type /clear to reset the transcript and
/quit to leave. Config changes are picked up live during the session.`,
	Args: cobra.ExactArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	engine, cfg, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.Open(args[0], types.SectionStudio); err != nil {
		return err
	}

	if messageText != "" {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := engine.SendMessage(ctx, messageText); err != nil {
			return err
		}
		printLastReply(engine)
		return engine.Close()
	}

	// Interactive session: watch the config so logging tweaks apply
	// without a restart.
	watcher, err := config.NewWatcher(config.Path(workspaceDir))
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher failed to start", zap.Error(err))
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	fmt.Printf("chatting with %s (model %s). /clear resets, /quit exits.\n", args[0], cfg.LLM.Model)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return engine.Close()
		case line == "/clear":
			if err := engine.ClearTranscript(); err != nil {
				fmt.Fprintf(os.Stderr, "clear: %v\n", err)
			}
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := engine.SendMessage(ctx, line)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		printLastReply(engine)
	}
	return engine.Close()
}

var showCmd = &cobra.Command{
	Use:   "show [project-id]",
	Short: "Print a project's sections",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := setup()
		if err != nil {
			return err
		}
		defer cleanup()

		p, err := engine.Repository().Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s), modified %s\n", p.Name, p.ID, p.LastModified.Format(time.RFC3339))
		fmt.Printf("  review:     %d bytes of code, persona %s\n", len(p.Data.Review.Code), p.Data.Review.PersonaID)
		fmt.Printf("  studio:     %d messages, model %s\n", len(p.Data.Studio.Messages), p.Data.Studio.Settings.Model)
		fmt.Printf("  architect:  brief %q, blueprint present: %v\n", truncate(p.Data.Architect.Brief, 40), p.Data.Architect.Blueprint != nil)
		fmt.Printf("  storefront: brief %q, tone %s\n", truncate(p.Data.Storefront.Brief, 40), p.Data.Storefront.Tone)
		return nil
	},
}

// setup wires config, store, repository, gateway, and router into an
// engine. The returned cleanup closes the store and flushes logs.
func setup() (*workspace.Engine, *config.Config, func(), error) {
	cfg, err := config.Load(config.Path(workspaceDir))
	if err != nil {
		return nil, nil, nil, err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}

	if err := logging.Initialize(workspaceDir, logging.Settings{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		logger.Warn("file logging unavailable", zap.Error(err))
	}

	dbPath := cfg.Storage.DatabasePath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(workspaceDir, dbPath)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, nil, err
	}

	repo, err := repository.New(st)
	if err != nil {
		_ = st.Close()
		return nil, nil, nil, err
	}

	router, err := persona.Load()
	if err != nil {
		_ = st.Close()
		return nil, nil, nil, err
	}

	client := gateway.NewGeminiClient(gateway.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.GetLLMTimeout(),
	})

	engine := workspace.New(repo, client, router, cfg.GetQuietPeriod())
	cleanup := func() {
		if err := engine.Close(); err != nil {
			logger.Warn("final flush failed", zap.Error(err))
		}
		_ = st.Close()
	}
	return engine, cfg, cleanup, nil
}

func readContent() (string, error) {
	switch {
	case editText != "":
		return editText, nil
	case editFile != "":
		data, err := os.ReadFile(editFile)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		data, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return "", fmt.Errorf("no --text or --file given and stdin unreadable: %w", err)
		}
		return string(data), nil
	}
}

// withContent puts new editable content into the section's primary
// slot.
func withContent(s types.Section, content string) (types.Section, error) {
	switch v := s.(type) {
	case types.ReviewSection:
		v.Code = content
		return v, nil
	case types.ArchitectSection:
		v.Brief = content
		return v, nil
	case types.StorefrontSection:
		v.Brief = content
		return v, nil
	default:
		return nil, fmt.Errorf("tool %q content is not editable from the command line", s.SectionKey())
	}
}

// sectionOutput picks the derived output slot for printing.
func sectionOutput(s types.Section) string {
	switch v := s.(type) {
	case types.ReviewSection:
		return v.Output
	case types.ArchitectSection:
		return v.RawOutput
	case types.StorefrontSection:
		return v.Copy
	default:
		return ""
	}
}

func printLastReply(engine *workspace.Engine) {
	snap, err := engine.Snapshot()
	if err != nil {
		return
	}
	studio, ok := snap.(types.StudioSection)
	if !ok || len(studio.Messages) == 0 {
		return
	}
	last := studio.Messages[len(studio.Messages)-1]
	fmt.Println(last.Text)
}

// truncate shortens by runes so multi-byte characters never get split.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (or set GEMINI_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", ".", "Workspace directory")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Dispatch timeout")

	projectCreateCmd.Flags().StringVar(&folderID, "folder", "", "Folder id to group the project under")
	chatCmd.Flags().StringVarP(&messageText, "message", "m", "", "Send one message and exit")
	editCmd.Flags().StringVar(&editText, "text", "", "Content to set")
	editCmd.Flags().StringVar(&editFile, "file", "", "File whose contents to set")

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectCmd.AddCommand(projectRenameCmd)
	folderCmd.AddCommand(folderCreateCmd)
	folderCmd.AddCommand(folderListCmd)
	folderCmd.AddCommand(folderDeleteCmd)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(personasCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
