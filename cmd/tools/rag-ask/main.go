// cmd/tools/rag-ask/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"rag-workers/internal/common/config"
	"rag-workers/internal/common/logger"
	"rag-workers/internal/ragclient"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("rag-ask", flag.ContinueOnError)
	fs.SetOutput(stderr)

	question := fs.String("question", "", "Question to ask the RAG backend")
	lang := fs.String("lang", "en", "Language code (en or ch)")
	numResults := fs.Int("n", ragclient.DefaultNumResults, "Number of results to retrieve")
	queryURL := fs.String("url", "", "RAG query endpoint (overrides config)")
	configPath := fs.String("config", "", "Path to config.yaml")
	timeout := fs.Duration("timeout", 0, "Request timeout (overrides config)")
	verbose := fs.Bool("v", false, "Log request details to stderr")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *question == "" && fs.NArg() > 0 {
		*question = fs.Arg(0)
	}
	if *question == "" {
		fmt.Fprintln(stderr, "Error: -question is required.")
		fs.Usage()
		return 2
	}

	cfg := ragclient.Config{QueryURL: *queryURL, Timeout: *timeout}
	if *configPath != "" {
		appCfg, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 1
		}
		if cfg.QueryURL == "" {
			cfg.QueryURL = appCfg.RAG.QueryURL
		}
		if cfg.Timeout == 0 {
			cfg.Timeout = appCfg.RAG.TimeoutDuration()
		}
	}

	log := logger.NewNoOpLogger()
	if *verbose {
		log = logger.NewStructured("debug", "console", "stderr")
	}

	client := ragclient.NewClient(cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), client.Timeout()+5*time.Second)
	defer cancel()

	answer := client.CallBackend(ctx, *question, *lang, *numResults)
	fmt.Fprintln(stdout, answer)

	if ragclient.IsBackendError(answer) {
		return 1
	}
	return 0
}
