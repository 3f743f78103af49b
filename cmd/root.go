package cmd

import (
	"context"
	"fmt"
	"strings"
)

const rootUsage = `chat-gateway serves chat completions from Claude, OpenAI and Gemini
behind one authenticated, quota-enforced API.

Usage:
  chat-gateway <command> [flags]

Commands:
  serve    Start the HTTP server
  migrate  Apply pending database migrations
  tier     Set a user's subscription tier
  token    Issue a bearer token for a user

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "migrate":
		return migrate(ctx, args[1:])
	case "tier":
		return setTier(ctx, args[1:])
	case "token":
		return issueToken(args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], rootUsage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(rootUsage))
	return nil
}
