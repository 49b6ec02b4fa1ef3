package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"azeuqer/internal/game"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptSecret reads a value without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func renderUser(u game.User) {
	accent.Printf("\n== %s (#%d) ==\n", u.Username, u.UserID)
	fmt.Printf("%-14s %s\n", "Status", colorizeStatus(u.VerificationStatus, u.IsPioneer))
	fmt.Printf("%-14s %s\n", "AP", comma(u.AP))
	fmt.Printf("%-14s %s, %d kills\n", "Faction", u.Faction, u.KillsLifetime)
	fmt.Printf("%-14s %s / %s\n", "Light/Spite", success.Sprint(comma(u.VotesLightMonth)), danger.Sprint(comma(u.VotesSpiteMonth)))
	fmt.Printf("%-14s STR %d  AGI %d  INT %d  VIT %d\n", "Stats", u.Str, u.Agi, u.Int, u.Vit)
	if u.CombatState == game.CombatLocked {
		fmt.Printf("%-14s %s\n", "Combat", danger.Sprint("LOCKED, run `azq fight`"))
	}
	if u.BioLockURL != "" {
		fmt.Printf("%-14s %s\n", "Bio-lock", u.BioLockURL)
	}
	if u.SponsorID != "" {
		fmt.Printf("%-14s %s\n", "Sponsor", u.SponsorID)
	}
	fmt.Println()
}

func renderCards(cards []game.Card) {
	if len(cards) == 0 {
		printInfo("Nobody left to judge right now.")
		return
	}
	fmt.Printf("%-12s %-20s %-10s %s\n", "ID", "PLAYER", "STATUS", "AURA/CHAOS/EMPATHY/DRIVE")
	for _, c := range cards {
		fmt.Printf("%-12d %-20s %-10s %.2f/%.2f/%.2f/%.2f\n",
			c.UserID,
			truncate(c.Username, 20),
			c.VerificationStatus,
			c.Traits.Aura, c.Traits.Chaos, c.Traits.Empathy, c.Traits.Drive,
		)
	}
	fmt.Println()
}

func renderSwipe(out game.SwipeResult) {
	if out.Status == game.SwipeAmbush {
		danger.Printf("AMBUSH! A boss blocks your path after %d swipes. Run `azq fight`.\n", out.SwipeCount)
		return
	}
	printSuccess(fmt.Sprintf("Judged. AP %s, swipes %d.", comma(out.AP), out.SwipeCount))
}

func renderLeaderboard(rows []game.LeaderboardRow) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	fmt.Printf("%-6s %-20s %10s %s\n", "RANK", "PLAYER", "AP", "SPONSOR")
	for i, row := range rows {
		fmt.Printf("%-6d %-20s %10s %s\n", i+1, truncate(row.Username, 20), comma(row.AP), truncate(row.SponsorID, 24))
	}
	fmt.Println()
}

func renderHall(rows []game.HallRow) {
	accent.Println("\n== HALL OF FAME ==")
	if len(rows) == 0 {
		printInfo("No bosses have fallen yet.")
		return
	}
	fmt.Printf("%-6s %-20s %6s %-11s %s\n", "RANK", "PLAYER", "KILLS", "FACTION", "STR/AGI/INT/VIT")
	for i, row := range rows {
		fmt.Printf("%-6d %-20s %6d %-11s %d/%d/%d/%d\n",
			i+1, truncate(row.Username, 20), row.KillsLifetime, row.Faction,
			row.Str, row.Agi, row.Int, row.Vit)
	}
	fmt.Println()
}

func renderBoss(b game.Boss) {
	danger.Printf("\n%s appears: HP %d, DMG %d\n", b.Name, b.HP, b.Dmg)
}

func renderTurn(round int, t game.TurnResult) {
	accent.Printf("Round %d\n", round)
	for _, line := range t.Log {
		fmt.Println("  " + line)
	}
	if t.NewBossHP != nil {
		fmt.Printf("  Boss HP: %d\n", *t.NewBossHP)
	}
	if t.KillCredited {
		success.Println("  Ambush cleared, kill recorded.")
	}
}

func colorizeStatus(status game.VerificationStatus, pioneer bool) string {
	text := string(status)
	if pioneer {
		text += " (pioneer)"
	}
	if status == game.StatusVerified {
		return success.Sprint(text)
	}
	return warn.Sprint(text)
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return sign + b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
