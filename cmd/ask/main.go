// Command ask answers a single question from the knowledge base and exits.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kirillkom/multimodal-kb/internal/bootstrap"
	"github.com/kirillkom/multimodal-kb/internal/config"
	"github.com/kirillkom/multimodal-kb/internal/observability/logging"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: ask <question>")
		os.Exit(2)
	}
	question := strings.Join(os.Args[1:], " ")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("kb-ask", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, bootstrap.Options{Service: "kb-ask"})
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	answerCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	answer, err := app.AnswerUC.Answer(answerCtx, question)
	if err != nil {
		logger.Error("answer failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(answer)
}
