// Command recall-chat is an interactive demo loop over the memory engine.
// Each line you type is answered with a prompt assembled from your history,
// retrieved memories and a mid-term recap; after every round the engine
// decides whether the turn is worth remembering.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/contextbuild"
	"github.com/scrypster/recall/internal/engine"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/pkg/types"
)

var (
	ownerID = flag.String("owner", "demo-user", "Owner id memories are scoped to")
	botID   = flag.String("bot", "demo-bot", "Bot id memories are scoped to")
	persona = flag.String("persona", "You are a warm, attentive companion.", "Bot persona prompt")
	dryRun  = flag.Bool("dry-run", false, "Print the assembled prompt instead of calling the model")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer func() { _ = eng.Close() }()

	fmt.Println("recall chat demo. /stats shows memory stats, /quit exits.")

	ctx := context.Background()
	var history []types.ConversationTurn
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
			return
		case line == "/stats":
			printStats(ctx, eng)
			continue
		}

		result, err := eng.BuildTurn(ctx, engine.TurnRequest{
			OwnerID:        *ownerID,
			BotID:          *botID,
			Persona:        *persona,
			History:        history,
			CurrentMessage: line,
		})
		if err != nil {
			log.Printf("chat: build failed: %v", err)
			continue
		}
		fmt.Printf("[%d tokens estimated, %v memories]\n",
			result.TokenEstimate, result.Metadata["memory_count"])

		reply := respond(ctx, eng, result.Messages, *dryRun)
		fmt.Println(reply)

		history = append(history,
			types.ConversationTurn{Role: types.RoleUser, Content: line},
			types.ConversationTurn{Role: types.RoleAssistant, Content: reply},
		)

		if rec, err := eng.Remember(ctx, *ownerID, *botID, line, reply); err != nil {
			log.Printf("chat: capture failed: %v", err)
		} else if rec != nil {
			fmt.Printf("[remembered: %s (%s)]\n", rec.Summary, rec.Category)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Failed to read input: %v", err)
	}
}

// respond sends the assembled prompt to the model. The builder's system
// message carries the whole context, so it rides in the instruction slot.
func respond(ctx context.Context, eng *engine.Engine, messages []contextbuild.Message, dry bool) string {
	if len(messages) != 2 {
		return "(no prompt)"
	}
	if dry {
		fmt.Println("--- assembled system message ---")
		fmt.Println(messages[0].Content)
		fmt.Println("--- end ---")
		return "(dry run, no model call)"
	}
	reply, err := eng.Generator.Generate(ctx,
		[]llm.Message{{Role: messages[1].Role, Content: messages[1].Content}},
		messages[0].Content)
	if err != nil {
		log.Printf("chat: model call failed: %v", err)
		return "(the model is unreachable, try -dry-run)"
	}
	return reply
}

func printStats(ctx context.Context, eng *engine.Engine) {
	stats, err := eng.Memories.OwnerStats(ctx, *ownerID)
	if err != nil {
		log.Printf("chat: stats failed: %v", err)
		return
	}
	fmt.Printf("%d memories", stats.Total)
	for category, n := range stats.ByCategory {
		fmt.Printf("  %s=%d", category, n)
	}
	fmt.Println()
}
