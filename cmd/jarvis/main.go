// Command jarvis runs the Iron Manus MCP server.
//
// Usage:
//
//	jarvis serve                     # stdio transport, for MCP hosts
//	jarvis serve --transport http    # streamable HTTP + health + metrics
//	jarvis validate                  # check configuration and registry
//	jarvis schema --tool JARVIS      # print tool input schemas
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/term"

	"github.com/iron-manus/jarvis"
	"github.com/iron-manus/jarvis/pkg/config"
	"github.com/iron-manus/jarvis/pkg/endpoints"
	"github.com/iron-manus/jarvis/pkg/endpoints/provider"
	"github.com/iron-manus/jarvis/pkg/logger"
	"github.com/iron-manus/jarvis/pkg/server"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the MCP server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration and endpoint registry."`
	Schema   SchemaCmd   `cmd:"" help:"Print tool input schemas as JSON."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides LOG_LEVEL."`
	LogFile   string `help:"Log file path (empty = stderr)." type:"path"`
	LogFormat string `help:"Log format (simple, verbose, json). Overrides LOG_FORMAT."`
}

// configureLogging resolves the effective logging setup: explicit flags win,
// then the loaded configuration, then the bootstrap defaults.
func (cli *CLI) configureLogging(cfg *config.Config) (func(), error) {
	levelName := cli.LogLevel
	if levelName == "" {
		levelName = cfg.Runtime.LogLevel
	}
	level, _ := logger.ParseLevel(levelName)

	format := cli.LogFormat
	if format == "" {
		format = cfg.Runtime.LogFormat
	}

	output := os.Stderr
	cleanup := func() {}
	if cli.LogFile != "" {
		file, closeFile, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		output, cleanup = file, closeFile
	}

	logger.Init(level, output, format)
	return cleanup, nil
}

// ServeCmd starts the MCP server on the selected transport.
type ServeCmd struct {
	Transport         string   `help:"Transport to serve." enum:"stdio,http" default:"stdio"`
	HTTPAddr          string   `name:"http-addr" help:"Listen address for the http transport. Overrides HTTP_ADDR." placeholder:"HOST:PORT"`
	RegistrySource    string   `name:"registry-source" help:"Endpoint registry source (embedded, file, consul, etcd, zookeeper). Overrides REGISTRY_SOURCE."`
	RegistryPath      string   `name:"registry-path" help:"Registry file path or remote key. Overrides REGISTRY_PATH."`
	RegistryEndpoints []string `name:"registry-endpoints" help:"Remote registry endpoints. Overrides REGISTRY_ENDPOINTS." placeholder:"HOST:PORT,..."`
	Watch             bool     `help:"Reload the registry when the provider reports changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	cleanup, err := cli.configureLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	for _, warning := range cfg.Warnings() {
		slog.Warn(warning)
	}

	printBanner()
	if c.Transport == server.TransportStdio && term.IsTerminal(int(os.Stdin.Fd())) {
		slog.Warn("Stdin is a terminal; the stdio transport expects an MCP client on the other end")
	}

	srv, err := server.New(ctx, cfg, server.Options{
		Transport:     c.Transport,
		WatchRegistry: c.Watch,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelClose()
		if err := srv.Close(closeCtx); err != nil {
			slog.Error("Shutdown incomplete", "error", err)
		}
	}()

	return srv.Run(ctx)
}

// applyFlags overlays explicit serve flags onto the loaded configuration.
// The config is re-validated afterwards, so a bad flag value fails startup
// the same way a bad environment variable does.
func (c *ServeCmd) applyFlags(cfg *config.Config) {
	if c.HTTPAddr != "" {
		cfg.Runtime.HTTPAddr = c.HTTPAddr
	}
	if c.RegistrySource != "" {
		cfg.Registry.Source = c.RegistrySource
	}
	if c.RegistryPath != "" {
		cfg.Registry.Path = c.RegistryPath
	}
	if len(c.RegistryEndpoints) > 0 {
		cfg.Registry.Endpoints = c.RegistryEndpoints
	}
}

// ValidateCmd checks the configuration and walks the registry pipeline
// without starting a server.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	p, err := provider.New(cfg.Registry)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	document, err := p.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading endpoint registry from %s: %w", p.Type(), err)
	}
	descriptors, err := endpoints.Parse(document)
	if err != nil {
		return err
	}
	if err := endpoints.Validate(descriptors); err != nil {
		return err
	}

	fmt.Println("Configuration OK")
	fmt.Printf("  environment:        %s\n", cfg.Runtime.Environment)
	fmt.Printf("  graph backend:      %s\n", cfg.Graph.Backend)
	fmt.Printf("  registry source:    %s (%d endpoints)\n", cfg.Registry.Source, len(descriptors))
	fmt.Printf("  session workspace:  %s\n", cfg.Runtime.SessionWorkspaceRoot)
	fmt.Printf("  ssrf protection:    %t\n", cfg.Security.SSRFProtection)
	fmt.Printf("  auth:               %t\n", cfg.Auth.Enabled)
	fmt.Printf("  tracing:            %t\n", cfg.Observability.TracingEnabled)
	fmt.Printf("  metrics:            %t\n", cfg.Observability.MetricsEnabled)
	for _, warning := range cfg.Warnings() {
		fmt.Printf("  warning: %s\n", warning)
	}
	return nil
}

// SchemaCmd prints tool input schemas, all of them or a single one.
type SchemaCmd struct {
	Tool string `help:"Print only this tool's schema." placeholder:"NAME"`
}

func (c *SchemaCmd) Run() error {
	schemas := server.ToolSchemas()
	if c.Tool != "" {
		schema, ok := schemas[c.Tool]
		if !ok {
			names := make([]string, 0, len(schemas))
			for name := range schemas {
				names = append(names, name)
			}
			sort.Strings(names)
			return fmt.Errorf("unknown tool %q (available: %s)", c.Tool, strings.Join(names, ", "))
		}
		return printJSON(schema)
	}
	return printJSON(schemas)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(jarvis.GetVersion().String())
	return nil
}

// printBanner writes the startup banner to stderr. Stdout is never touched
// here: on the stdio transport it carries the protocol stream.
func printBanner() {
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return
	}

	gold := "\033[38;2;218;165;32m"
	reset := "\033[0m"
	banner := `
     ██╗ █████╗ ██████╗ ██╗   ██╗██╗███████╗
     ██║██╔══██╗██╔══██╗██║   ██║██║██╔════╝
     ██║███████║██████╔╝██║   ██║██║███████╗
██   ██║██╔══██║██╔══██╗╚██╗ ██╔╝██║╚════██║
╚█████╔╝██║  ██║██║  ██║ ╚████╔╝ ██║███████║
 ╚════╝ ╚═╝  ╚═╝╚═╝  ╚═╝  ╚═══╝  ╚═╝╚══════╝
`
	fmt.Fprintf(os.Stderr, "%s%s%s\n", gold, banner, reset)
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("jarvis"),
		kong.Description("Iron Manus - an eight-phase FSM orchestration server spoken over MCP"),
		kong.UsageOnError(),
	)

	// Bootstrap logging so anything before command setup has a destination.
	logger.Init(slog.LevelInfo, os.Stderr, "simple")

	kctx.FatalIfErrorf(kctx.Run(&cli))
}
