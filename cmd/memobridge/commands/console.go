package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/memobridge/pkg/memobridge/bridge"
)

// newConsoleCmd creates the `memobridge console` command, an interactive
// shell against a locally running bridge. Useful for poking at contact
// matching without going through the HTTP API.
func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console <uid>",
		Short: "Interactive console for a paired user",
		Long: `Starts the bridge in-process, connects the given user's session, and opens
an interactive shell. Type "help" inside the console for commands.

Examples:
  memobridge console u-123`,
		Args: cobra.ExactArgs(1),
		RunE: runConsole,
	}
}

func runConsole(cmd *cobra.Command, args []string) error {
	uid := args[0]

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := bridge.New(cfg, logger)
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Stop()

	if !b.KnownUser(uid) {
		return fmt.Errorf("no stored session for %s, run `memobridge link %s` first", uid, uid)
	}
	if !b.Sessions.IsConnected(uid) {
		if err := b.Sessions.Connect(ctx, uid); err != nil {
			return err
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          uid + "> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".memobridge_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println("memobridge console. Type \"help\" for commands, \"exit\" to quit.")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		verb, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch verb {
		case "exit", "quit":
			return nil
		case "help":
			consoleHelp()
		case "status":
			st := b.Sessions.Status(uid)
			fmt.Printf("state=%s connected=%v contacts=%d saved=%d\n",
				st.State, st.Connected, b.Directory.Count(uid), len(b.Saved.Get(uid)))
		case "contacts":
			for _, rec := range b.Directory.Get(uid) {
				fmt.Printf("%-20s %s\n", rec.ID, rec.DisplayName())
			}
		case "saved":
			for _, sc := range b.Saved.Get(uid) {
				fmt.Printf("%-20s %-25s %s\n", sc.ID, sc.Name, sc.Source)
			}
		case "find":
			match, err := b.ResolveContact(ctx, uid, rest)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("%s (%s) score=%d tier=%s source=%s\n",
				match.Name, match.ID, match.Score, match.Tier, match.Source)
		case "send":
			name, msg, ok := strings.Cut(rest, ":")
			if !ok {
				fmt.Println("usage: send <name>: <message>")
				continue
			}
			match, err := b.SendToContactByName(ctx, uid, strings.TrimSpace(name), strings.TrimSpace(msg))
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("sent to %s (%s)\n", match.Name, match.ID)
		case "recap":
			if err := b.SendRecap(ctx, uid, rest); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("recap sent")
		case "remind":
			mins, msg, ok := strings.Cut(rest, " ")
			delay, convErr := strconv.Atoi(mins)
			if !ok || convErr != nil {
				fmt.Println("usage: remind <minutes> <message>")
				continue
			}
			r, err := b.SetReminder(ctx, uid, strings.TrimSpace(msg), delay, "")
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Printf("reminder %s fires at %s\n", r.ID, r.FireAt.Format("15:04:05"))
		case "reminders":
			for _, r := range b.Reminders.List(uid) {
				fmt.Printf("%s  %s  -> %s  %q\n", r.ID, r.FireAt.Format("Jan 2 15:04"), r.Target, r.Message)
			}
		default:
			fmt.Printf("unknown command %q, type \"help\"\n", verb)
		}
	}
}

func consoleHelp() {
	fmt.Println(`Commands:
  status                    session state and store sizes
  contacts                  list synced directory contacts
  saved                     list saved contacts
  find <name>               resolve a name to a contact
  send <name>: <message>    send a message to a matched contact
  recap <text>              send text to your own thread
  remind <minutes> <msg>    schedule a reminder to yourself
  reminders                 list pending reminders
  exit                      quit`)
}
