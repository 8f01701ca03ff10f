package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jholhewres/memobridge/pkg/memobridge/contacts"
	"github.com/jholhewres/memobridge/pkg/memobridge/whatsapp"
)

// pairTimeout bounds how long we wait for the user to scan a code.
const pairTimeout = 5 * time.Minute

// newLinkCmd creates the `memobridge link` command that pairs an account by
// rendering the pairing code in the terminal.
func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <uid>",
		Short: "Pair a messaging account for a user",
		Long: `Connects a session for the given platform user id and renders the pairing
code as a QR in the terminal. Scan it from the phone's linked-devices screen.

Examples:
  memobridge link u-123
  memobridge link u-123 --logout`,
		Args: cobra.ExactArgs(1),
		RunE: runLink,
	}
	cmd.Flags().Bool("logout", false, "unlink instead: log out and wipe the stored session")
	return cmd
}

func runLink(cmd *cobra.Command, args []string) error {
	uid := args[0]

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)

	directory := contacts.NewService(cfg.SessionsDir(), logger)
	saved := contacts.NewSavedStore(cfg.SessionsDir(), logger)
	mgr := whatsapp.NewManager(cfg.SessionsDir(), cfg.ArchiveDir(), directory, saved, logger)
	defer mgr.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), pairTimeout)
	defer cancel()

	if logout, _ := cmd.Flags().GetBool("logout"); logout {
		if !mgr.HasAuth(uid) {
			return fmt.Errorf("no stored session for %s", uid)
		}
		if err := mgr.Connect(ctx, uid); err != nil {
			logger.Warn("connect before logout failed, wiping locally", "error", err)
		}
		if err := mgr.Logout(ctx, uid); err != nil {
			return err
		}
		fmt.Printf("Session for %s removed.\n", uid)
		return nil
	}

	done := make(chan error, 1)
	mgr.SubscribeToLifecycle(uid, func(ev whatsapp.LifecycleEvent) {
		switch ev.Type {
		case whatsapp.LifecycleCodeIssued:
			fmt.Println("\nScan this code from the phone's linked-devices screen:")
			fmt.Println()
			renderCode(ev.Code)
		case whatsapp.LifecycleConnected:
			select {
			case done <- nil:
			default:
			}
		case whatsapp.LifecycleDisconnected:
			if ev.Terminal {
				select {
				case done <- fmt.Errorf("pairing failed: %s", ev.Reason):
				default:
				}
			}
		}
	})

	if err := mgr.Connect(ctx, uid); err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for the code to be scanned")
	}

	fmt.Printf("\nConnected. %s is now paired.\n", uid)
	return nil
}

// renderCode draws the pairing code as a terminal QR, falling back to the raw
// string when stdout is not a terminal.
func renderCode(code string) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println(code)
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
}
