package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"delphi/internal/bootstrap"
	"delphi/pkg/logger"
)

// Interactive console for asking questions against a running stack without
// going through HTTP. Each run is a fresh session unless -session is given.
func main() {
	sessionID := flag.String("session", "", "Session ID to continue (default: new session)")
	flag.Parse()

	app, err := bootstrap.New()
	if err != nil {
		panic("failed to bootstrap: " + err.Error())
	}
	defer logger.Sync()
	defer app.Lifecycle.Shutdown(app)

	session := *sessionID
	if session == "" {
		session = uuid.New().String()
		fmt.Printf("Session %s. Type a question, or \"exit\" to quit.\n", session)
	} else {
		turns, err := app.History.TurnCount(context.Background(), session)
		if err != nil {
			app.Log.Warnf("Could not count session turns: %v", err)
		}
		fmt.Printf("Resuming session %s (%d earlier turns). Type a question, or \"exit\" to quit.\n", session, turns)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			break
		}

		result, err := app.Engine.HandleQuery(context.Background(), session, query)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}

		fmt.Printf("\n%s\n", result.Answer)
		for _, artifact := range result.Artifacts {
			fmt.Printf("  [%s] %s\n", artifact.Kind, artifact.Path)
		}
		fmt.Printf("(status: %s)\n\n", result.Status)
	}
}
