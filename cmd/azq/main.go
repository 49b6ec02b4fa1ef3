package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"azeuqer/internal/auth"
	cl "azeuqer/internal/cli"
	"azeuqer/internal/config"
	"azeuqer/internal/game"
	"azeuqer/internal/syncq"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

const maxFightRounds = 50

type app struct {
	apiBase     string
	stateDir    string
	botToken    string
	botUsername string
}

func main() {
	cfg := config.LoadCLIFromEnv()
	a := &app{
		apiBase:     cfg.APIBaseURL,
		stateDir:    cfg.StateDir,
		botToken:    cfg.BotToken,
		botUsername: cfg.BotUsername,
	}

	root := &cobra.Command{
		Use:          "azq",
		Short:        "Azeuqer terminal client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.apiBase, "api", a.apiBase, "API base URL")

	root.AddCommand(
		a.newLoginCmd(),
		a.newLogoutCmd(),
		a.newMeCmd(),
		a.newInviteCmd(),
		a.newFeedCmd(),
		a.newPlayCmd(),
		a.newSwipeCmd(),
		a.newSyncCmd(),
		a.newBoardCmd(),
		a.newHallCmd(),
		a.newDonateCmd(),
		a.newSponsorCmd(),
		a.newBioLockCmd(),
		a.newFightCmd(),
		a.newTribunalCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) client() *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(a.apiBase), "/"))
}

func (a *app) dir() (string, error) {
	return cl.StateDir(a.stateDir)
}

func (a *app) session() (cl.Session, error) {
	dir, err := a.dir()
	if err != nil {
		return cl.Session{}, err
	}
	sess, err := cl.LoadSession(dir)
	if err != nil {
		return cl.Session{}, fmt.Errorf("login required: %w", err)
	}
	return sess, nil
}

func (a *app) newLoginCmd() *cobra.Command {
	var (
		initData string
		devID    int64
		username string
		ref      string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with Telegram launch data and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.launchData(initData, devID, username, ref)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Login(ctx, data, nil)
			if err != nil {
				return err
			}
			dir, err := a.dir()
			if err != nil {
				return err
			}
			if err := cl.SaveSession(dir, cl.Session{
				InitData: data,
				UserID:   out.User.UserID,
				Username: out.User.Username,
			}); err != nil {
				return err
			}
			if out.Status == "created" {
				printSuccess(fmt.Sprintf("Welcome, %s. Account created.", out.User.Username))
			} else {
				printSuccess(fmt.Sprintf("Welcome back, %s.", out.User.Username))
			}
			renderUser(out.User)
			return nil
		},
	}
	cmd.Flags().StringVar(&initData, "init-data", "", "raw Telegram initData string")
	cmd.Flags().Int64Var(&devID, "dev-id", 0, "user id to sign in as (signed with TG_BOT_TOKEN, or dev bypass)")
	cmd.Flags().StringVar(&username, "username", "", "username for --dev-id")
	cmd.Flags().StringVar(&ref, "ref", "", "referral code (referrer user id) for --dev-id")
	return cmd
}

// launchData picks raw initData, then a locally signed payload when the bot
// token is known, then the server's dev bypass literal.
func (a *app) launchData(raw string, devID int64, username, ref string) (string, error) {
	if raw = strings.TrimSpace(raw); raw != "" {
		return raw, nil
	}
	if devID <= 0 {
		text, err := promptSecret("Telegram initData")
		if err != nil {
			return "", err
		}
		return text, nil
	}
	if a.botToken != "" {
		return auth.SignInitData(a.botToken, devID, username, ref, time.Now())
	}
	parts := []string{auth.DevBypassPrefix, strconv.FormatInt(devID, 10)}
	if username != "" || ref != "" {
		parts = append(parts, username)
	}
	if ref != "" {
		parts = append(parts, ref)
	}
	return strings.Join(parts, ":"), nil
}

func (a *app) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.dir()
			if err != nil {
				return err
			}
			if err := cl.ClearSession(dir); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func (a *app) newMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Login(ctx, sess.InitData, nil)
			if err != nil {
				return err
			}
			renderUser(out.User)
			return nil
		},
	}
}

func (a *app) newFeedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show players waiting for your judgement",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			cards, err := a.client().Feed(ctx, sess.InitData, limit)
			if err != nil {
				return err
			}
			renderCards(cards)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", game.DefaultFeedLimit, "number of cards")
	return cmd
}

func (a *app) newSwipeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "swipe <target_id> <LIGHT|SPITE>",
		Short: "Judge a player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			target, err := positiveInt64(args[0], "target id")
			if err != nil {
				return err
			}
			direction, err := game.ParseDirection(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Swipe(ctx, sess.InitData, target, direction)
			if err != nil {
				return a.queueOnNetworkError(err, syncq.Command{
					ID:       uuid.NewString(),
					Path:     "/game/swipe",
					Body:     cl.SwipeBody(sess.InitData, target, direction),
					QueuedAt: time.Now().UTC(),
				})
			}
			renderSwipe(out)
			return nil
		},
	}
}

func (a *app) queueOnNetworkError(err error, cmd syncq.Command) error {
	var apiErr *cl.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	dir, dirErr := a.dir()
	if dirErr != nil {
		return err
	}
	if qErr := syncq.Open(dir).Push(cmd); qErr != nil {
		return fmt.Errorf("%w (queue failed: %v)", err, qErr)
	}
	printWarn(fmt.Sprintf("API unreachable, queued for `azq sync`: %v", err))
	return nil
}

func (a *app) newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay swipes queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := a.dir()
			if err != nil {
				return err
			}
			q := syncq.Open(dir)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			res, err := q.Replay(ctx, a.client(), func(err error) bool {
				var apiErr *cl.APIError
				return errors.As(err, &apiErr)
			})
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				printError(e.Error())
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d rejected=%d remaining=%d", res.Replayed, res.Rejected, res.Remaining))
			return nil
		},
	}
}

func (a *app) newBoardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show the AP leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := a.client().Leaderboard(ctx, sess.InitData)
			if err != nil {
				return err
			}
			renderLeaderboard(rows)
			return nil
		},
	}
}

func (a *app) newHallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hall",
		Short: "Show the hall of fame by bosses defeated",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := a.client().HallOfFame(ctx, sess.InitData)
			if err != nil {
				return err
			}
			renderHall(rows)
			return nil
		},
	}
}

func (a *app) newDonateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "donate <amount>",
		Short: "Give AP to the foundation pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			amount, err := positiveInt64(args[0], "amount")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Donate(ctx, sess.InitData, amount)
			if cl.IsCode(err, "INSUFFICIENT_AP") {
				printError("Not enough AP for that donation.")
				return nil
			}
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Donated %s AP. You have %s, the pool holds %s.", comma(amount), comma(out.AP), comma(out.Pool)))
			return nil
		},
	}
}

func (a *app) newSponsorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sponsor <logo>",
		Short: "Equip a sponsor logo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := a.client().EquipSponsor(ctx, sess.InitData, args[0]); err != nil {
				return err
			}
			printSuccess("Sponsor equipped.")
			return nil
		},
	}
}

func (a *app) newBioLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "biolock <photo>",
		Short: "Submit a liveness photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			image, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			url, err := a.client().BioLock(ctx, sess.InitData, filepath.Base(args[0]), image)
			if cl.IsCode(err, "NO_FACE_DETECTED") {
				printError("No face detected. Try a clearer photo.")
				return nil
			}
			if err != nil {
				return err
			}
			printSuccess("Bio-lock accepted: " + url)
			return nil
		},
	}
}

func (a *app) newFightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fight",
		Short: "Fight your boss until it falls",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			client := a.client()
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			boss, err := client.CombatInfo(ctx, sess.InitData)
			if err != nil {
				return err
			}
			renderBoss(boss)
			hp := boss.HP
			for round := 1; round <= maxFightRounds; round++ {
				turn, err := client.CombatTurn(ctx, sess.InitData, game.ActionAttack, hp)
				if err != nil {
					return err
				}
				renderTurn(round, turn)
				if turn.Status == game.TurnVictory {
					printSuccess(fmt.Sprintf("%s defeated. Combat lock released.", boss.Name))
					return nil
				}
				if turn.NewBossHP != nil {
					hp = *turn.NewBossHP
				}
			}
			printWarn("The boss is still standing. Run `azq fight` again.")
			return nil
		},
	}
}

func (a *app) newTribunalCmd() *cobra.Command {
	tribunal := &cobra.Command{
		Use:   "tribunal",
		Short: "Review pending players",
	}
	tribunal.AddCommand(&cobra.Command{
		Use:   "case",
		Short: "Fetch the next pending player",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			card, err := a.client().TribunalCase(ctx, sess.InitData)
			if err != nil {
				return err
			}
			if card == nil {
				printInfo("No pending cases.")
				return nil
			}
			renderCards([]game.Card{*card})
			return nil
		},
	})
	tribunal.AddCommand(&cobra.Command{
		Use:   "vote <target_id> <APPROVE|REJECT>",
		Short: "Vote on a pending player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			target, err := positiveInt64(args[0], "target id")
			if err != nil {
				return err
			}
			vote, err := game.ParseVote(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().TribunalVote(ctx, sess.InitData, target, vote)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("Vote recorded (approve=%d reject=%d).", out.Tally.Approve, out.Tally.Reject)
			if out.Verified {
				msg += " Player is now VERIFIED."
			}
			printSuccess(msg)
			return nil
		},
	})
	return tribunal
}

func (a *app) newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Swipe through the feed interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !interactive() {
				return errors.New("play needs an interactive terminal; use `azq feed` and `azq swipe`")
			}
			sess, err := a.session()
			if err != nil {
				return err
			}
			final, err := tea.NewProgram(newPlayModel(cmd.Context(), a.client(), sess.InitData)).Run()
			if err != nil {
				return err
			}
			if m, ok := final.(playModel); ok && m.ambush {
				printWarn("Ambushed. Run `azq fight` to clear the combat lock.")
			}
			return nil
		},
	}
}

func (a *app) newInviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invite",
		Short: "Show your referral link as a QR code",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session()
			if err != nil {
				return err
			}
			link := referralLink(a.botUsername, sess.UserID)
			accent.Println("Invite friends: each one who passes bio-lock earns you AP.")
			fmt.Println(link)
			qrterminal.GenerateHalfBlock(link, qrterminal.L, os.Stdout)
			return nil
		},
	}
}

func referralLink(botUsername string, userID int64) string {
	return fmt.Sprintf("https://t.me/%s?startapp=%d", botUsername, userID)
}

func positiveInt64(arg, label string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q", label, arg)
	}
	return v, nil
}
