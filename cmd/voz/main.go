package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstranscribe "github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/labstack/echo/v5"
	"goa.design/clue/debug"
	"goa.design/clue/log"

	"goa.design/voz/api"
	"goa.design/voz/assistant"
	"goa.design/voz/model"
	"goa.design/voz/model/anthropic"
	"goa.design/voz/model/bedrock"
	"goa.design/voz/tools"
	"goa.design/voz/tools/clock"
	"goa.design/voz/tools/knowledge"
	"goa.design/voz/transcribe"
)

func main() {
	var (
		httpPortF = flag.String("http-port", "3000", "HTTP listen port")
		regionF   = flag.String("region", "us-west-2", "AWS region")
		bucketF   = flag.String("bucket", "genai-transcribe-temp", "S3 staging bucket for audio uploads")
		kbF       = flag.String("knowledge-base", os.Getenv("KNOWLEDGE_BASE_ID"), "Bedrock knowledge base identifier")
		modelF    = flag.String("model", "anthropic.claude-3-5-sonnet-20241022-v2:0", "Model identifier")
		providerF = flag.String("provider", "bedrock", "Inference provider (valid values: bedrock, anthropic)")
		timeoutF  = flag.Duration("timeout", 2*time.Minute, "Overall per-request deadline")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(*regionF))
	if err != nil {
		log.Fatalf(ctx, err, "load AWS configuration")
	}

	// Inference endpoint.
	var modelClient model.Client
	switch *providerF {
	case "bedrock":
		modelClient, err = bedrock.New(bedrock.Options{
			Runtime: bedrockruntime.NewFromConfig(awsCfg),
			Model:   *modelF,
		})
	case "anthropic":
		modelClient, err = anthropic.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), *modelF, 0)
	default:
		log.Fatal(ctx, fmt.Errorf("invalid provider argument: %q (valid providers: bedrock, anthropic)", *providerF))
	}
	if err != nil {
		log.Fatalf(ctx, err, "build %s model client", *providerF)
	}

	// Tool registry: registered once at startup, read-only afterwards.
	registry := tools.NewRegistry()
	searcher, err := knowledge.New(knowledge.Options{
		Client:          bedrockagentruntime.NewFromConfig(awsCfg),
		KnowledgeBaseID: *kbF,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build knowledge base searcher")
	}
	if err := registry.Register(searcher.Tool()); err != nil {
		log.Fatalf(ctx, err, "register knowledge base tool")
	}
	if err := registry.Register(clock.New(nil)); err != nil {
		log.Fatalf(ctx, err, "register clock tool")
	}

	agent, err := assistant.New(assistant.Options{
		Model:   modelClient,
		Tools:   registry,
		Timeout: *timeoutF,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build assistant")
	}

	transcriber, err := transcribe.New(transcribe.Options{
		Storage: s3.NewFromConfig(awsCfg),
		Jobs:    awstranscribe.NewFromConfig(awsCfg),
		Bucket:  *bucketF,
	})
	if err != nil {
		log.Fatalf(ctx, err, "build transcription service")
	}

	e := echo.New()
	api.New(agent, transcriber).Register(e)

	var handler http.Handler = e
	if *dbgF {
		handler = debug.HTTP()(handler)
	}
	handler = log.HTTP(ctx)(handler)

	srv := &http.Server{
		Addr:              ":" + *httpPortF,
		Handler:           handler,
		ReadHeaderTimeout: 60 * time.Second,
	}

	// Channel used by both the signal handler and the server goroutine to
	// notify the main goroutine when to stop.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()
	go func() {
		log.Printf(ctx, "HTTP server listening on %s", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	log.Printf(ctx, "exiting (%v)", <-errc)
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "shutdown HTTP server")
	}
	log.Printf(ctx, "exited")
}
