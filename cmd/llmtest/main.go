// Command llmtest sends one prompt through a provider adapter, bypassing the
// HTTP layer. Useful for checking credentials and server URLs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/wolfman30/llm-router/cmd/mainconfig"
	"github.com/wolfman30/llm-router/internal/app/bootstrap"
	appconfig "github.com/wolfman30/llm-router/internal/config"
	"github.com/wolfman30/llm-router/internal/conversation"
	"github.com/wolfman30/llm-router/internal/prompt"
	"github.com/wolfman30/llm-router/internal/providers"
	"github.com/wolfman30/llm-router/internal/secrets"
	"github.com/wolfman30/llm-router/pkg/logging"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	providerName := flag.String("provider", "", "openai, bedrock, gemini, ollama or vllm (default DEFAULT_PROVIDER)")
	model := flag.String("model", "", "model id")
	question := flag.String("prompt", "In one sentence, what is a token?", "user message")
	configJSON := flag.String("config", "", "provider config JSON, e.g. {\"apiKey\":\"...\"}")
	streaming := flag.Bool("stream", true, "stream the response")
	list := flag.Bool("models", false, "list models instead of chatting")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New("warn")
	if *providerName == "" {
		*providerName = cfg.DefaultProvider
	}
	kind, ok := providers.ParseKind(*providerName)
	if !ok {
		log.Fatalf("unknown provider %q", *providerName)
	}

	registry, err := bootstrap.BuildRegistry(cfg, secrets.NewResolver(cfg.SigningKey), bootstrap.ProviderDeps{
		BedrockFactory: mainconfig.BedrockFactory(cfg),
	}, logger)
	if err != nil {
		log.Fatal(err)
	}
	adapter, err := registry.Get(kind)
	if err != nil {
		log.Fatal(err)
	}
	pcfg := providers.EmptyConfig(kind)
	if *configJSON != "" {
		if pcfg, err = providers.DecodeConfig(kind, json.RawMessage(*configJSON)); err != nil {
			log.Fatalf("invalid -config: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout+5*time.Second)
	defer cancel()

	if *list {
		models, err := adapter.ListModels(ctx, pcfg)
		if err != nil {
			log.Fatalf("list models: %v", err)
		}
		for _, m := range models {
			fmt.Printf("%s\t%d\n", m.ID, m.TokenLimit)
		}
		return
	}

	conv := conversation.Conversation{
		ID:          uuid.NewString(),
		Model:       conversation.Model{ID: *model, TokenLimit: 8192},
		Temperature: 0.2,
		Messages: []conversation.Message{
			{Role: conversation.RoleUser, Content: conversation.TextContent(*question)},
		},
	}
	conv, err = prompt.NewBuilder().Build(conv, prompt.Settings{}, nil)
	if err != nil {
		log.Fatalf("build prompt: %v", err)
	}

	start := time.Now()
	resp, err := adapter.Send(ctx, conv, pcfg, *streaming)
	if err != nil {
		log.Fatalf("%s: %v", kind, err)
	}
	if !*streaming {
		fmt.Println(resp.Content)
		fmt.Fprintf(os.Stderr, "\n[%s batch in %v]\n", kind, time.Since(start).Round(time.Millisecond))
		return
	}

	defer resp.Close()
	var first time.Duration
	for {
		chunk, err := resp.Chunks.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("%s stream: %v", kind, err)
		}
		if first == 0 {
			first = time.Since(start)
		}
		fmt.Print(chunk)
	}
	fmt.Fprintf(os.Stderr, "\n[%s stream: first chunk %v, total %v]\n", kind,
		first.Round(time.Millisecond), time.Since(start).Round(time.Millisecond))
}
