// Package cli implements Quarry's interactive operator console.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/quarry/internal/db"
	"github.com/energizer-project/quarry/internal/game"
	"github.com/energizer-project/quarry/internal/network"
	"github.com/energizer-project/quarry/internal/server"
)

const operatorName = "console"

// Controller is the server control surface the console drives.
type Controller interface {
	Overview() server.Overview
	Connections() []network.ConnectionInfo
	Players() []game.Member
	RecentPlayers(ctx context.Context, limit int) ([]db.PlayerRecord, error)
	Kick(id uint64, reason, by string) error
	KickPlayer(name, reason, by string) (uint64, error)
	Broadcast(msg string) int
	SetMOTD(motd string) error
	Bans(ctx context.Context) ([]db.Ban, error)
	Ban(ctx context.Context, kind db.BanKind, target, reason, by string, duration time.Duration) (*db.Ban, []uint64, error)
	Unban(ctx context.Context, kind db.BanKind, target, by string) error
	Shutdown(by string)
}

// CLI reads operator commands line by line.
type CLI struct {
	ctl Controller
	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading from in and writing to out.
func NewCLI(ctl Controller, in io.Reader, out io.Writer) *CLI {
	return &CLI{ctl: ctl, in: in, out: out}
}

// Start runs the command loop until ctx is cancelled, the input ends, or
// the operator stops the server.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nQuarry console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("console input failed")
		}
	}()

	for {
		fmt.Fprint(c.out, "quarry> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			stop, err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
			if stop {
				return
			}
		}
	}
}

// execute runs one command. It reports true when the console should exit.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) (bool, error) {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "list", "connections", "ls":
		c.printConnections()
	case "players", "who":
		c.printPlayers()
	case "history":
		return false, c.printHistory(ctx, args)
	case "kick":
		return false, c.cmdKick(args)
	case "ban":
		return false, c.cmdBan(ctx, args)
	case "unban", "pardon":
		return false, c.cmdUnban(ctx, args)
	case "bans":
		return false, c.printBans(ctx)
	case "say", "broadcast":
		return false, c.cmdSay(args)
	case "motd":
		return false, c.cmdMOTD(args)
	case "stop", "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down Quarry...")
		c.ctl.Shutdown(operatorName)
		return true, nil
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return false, nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                   Quarry Console Commands                    ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status                         Show the server overview     ║")
	fmt.Fprintln(c.out, "║  list                           List live connections        ║")
	fmt.Fprintln(c.out, "║  players                        List players in the lobby    ║")
	fmt.Fprintln(c.out, "║  history [n]                    Show recently seen players   ║")
	fmt.Fprintln(c.out, "║  kick <name|#id> [why]          Disconnect a player          ║")
	fmt.Fprintln(c.out, "║  ban <kind> <target> [d] [why]  Ban a name or an address     ║")
	fmt.Fprintln(c.out, "║  unban <kind> <target>          Lift a ban                   ║")
	fmt.Fprintln(c.out, "║  bans                           List active bans             ║")
	fmt.Fprintln(c.out, "║  say <message>                  Broadcast a system message   ║")
	fmt.Fprintln(c.out, "║  motd [text]                    Show or change the MOTD      ║")
	fmt.Fprintln(c.out, "║  stop                           Shut down Quarry             ║")
	fmt.Fprintln(c.out, "║  help                           Show this help message       ║")
	fmt.Fprintln(c.out, "║                                                              ║")
	fmt.Fprintln(c.out, "║  kind is name or ip, d is a duration such as 30m or 12h      ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus() {
	o := c.ctl.Overview()
	fmt.Fprintf(c.out, "\n  MOTD:         %s\n", o.MOTD)
	fmt.Fprintf(c.out, "  Version:      %s (protocol %d)\n", o.Version, o.Protocol)
	fmt.Fprintf(c.out, "  Address:      %s\n", o.ListenerAddress)
	fmt.Fprintf(c.out, "  Online mode:  %v\n", o.OnlineMode)
	fmt.Fprintf(c.out, "  Players:      %d/%d\n", o.PlayersOnline, o.MaxPlayers)
	fmt.Fprintf(c.out, "  Connections:  %d/%d\n", o.Connections, o.MaxConnections)
	fmt.Fprintf(c.out, "  Compression:  %d\n", o.Compression)
	fmt.Fprintf(c.out, "  Query:        %v\n", o.QueryEnabled)
	fmt.Fprintf(c.out, "  Uptime:       %s\n\n", o.Uptime)
}

func (c *CLI) newTable(header []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printConnections() {
	conns := c.ctl.Connections()
	if len(conns) == 0 {
		fmt.Fprintln(c.out, "No connections.")
		return
	}
	tw := c.newTable([]string{"ID", "Remote", "State", "Player", "Connected", "Encrypted", "Compression"})
	for _, info := range conns {
		player := info.Player
		if player == "" {
			player = "-"
		}
		tw.Append([]string{
			strconv.FormatUint(info.ID, 10),
			info.Remote,
			info.State,
			player,
			time.Since(info.ConnectedAt).Round(time.Second).String(),
			strconv.FormatBool(info.Encrypted),
			strconv.Itoa(info.Compression),
		})
	}
	tw.Render()
}

func (c *CLI) printPlayers() {
	players := c.ctl.Players()
	if len(players) == 0 {
		fmt.Fprintln(c.out, "No players online.")
		return
	}
	tw := c.newTable([]string{"Name", "UUID", "Connection", "Joined", "Brand"})
	for _, p := range players {
		tw.Append([]string{
			p.Name,
			p.UUID.String(),
			strconv.FormatUint(p.ConnID, 10),
			time.Since(p.JoinedAt).Round(time.Second).String(),
			p.ClientBrand,
		})
	}
	tw.Render()
}

func (c *CLI) printHistory(ctx context.Context, args []string) error {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count %q", args[0])
		}
		limit = n
	}
	records, err := c.ctl.RecentPlayers(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(c.out, "No players recorded.")
		return nil
	}
	tw := c.newTable([]string{"Name", "UUID", "Last IP", "Last Seen", "Joins"})
	for _, r := range records {
		tw.Append([]string{
			r.Name,
			r.UUID,
			r.LastIP,
			r.LastSeen.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(r.Joins),
		})
	}
	tw.Render()
	return nil
}

func reasonFrom(args []string, fallback string) string {
	if len(args) == 0 {
		return fallback
	}
	return strings.Join(args, " ")
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: kick <name|#id> [reason]")
	}
	reason := reasonFrom(args[1:], "Kicked by an operator")

	if strings.HasPrefix(args[0], "#") {
		id, err := strconv.ParseUint(args[0][1:], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid connection id %q", args[0])
		}
		if err := c.ctl.Kick(id, reason, operatorName); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Kicked connection %d\n", id)
		return nil
	}

	id, err := c.ctl.KickPlayer(args[0], reason, operatorName)
	if errors.Is(err, network.ErrNoSuchConnection) {
		return fmt.Errorf("%s is not online", args[0])
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Kicked %s (connection %d)\n", args[0], id)
	return nil
}

func (c *CLI) cmdBan(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: ban <name|ip> <target> [duration] [reason]")
	}
	kind, err := db.ParseBanKind(args[0])
	if err != nil {
		return err
	}
	rest := args[2:]
	var duration time.Duration
	if len(rest) > 0 {
		if d, err := time.ParseDuration(rest[0]); err == nil {
			if d < 0 {
				return errors.New("duration must not be negative")
			}
			duration = d
			rest = rest[1:]
		}
	}

	ban, kicked, err := c.ctl.Ban(ctx, kind, args[1], reasonFrom(rest, ""), operatorName, duration)
	if err != nil {
		return err
	}
	until := "permanently"
	if ban.ExpiresAt != nil {
		until = "until " + ban.ExpiresAt.Local().Format("2006-01-02 15:04")
	}
	fmt.Fprintf(c.out, "Banned %s %s %s, %d connection(s) kicked\n", kind, ban.Target, until, len(kicked))
	return nil
}

func (c *CLI) cmdUnban(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: unban <name|ip> <target>")
	}
	kind, err := db.ParseBanKind(args[0])
	if err != nil {
		return err
	}
	if err := c.ctl.Unban(ctx, kind, args[1], operatorName); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Unbanned %s %s\n", kind, args[1])
	return nil
}

func (c *CLI) printBans(ctx context.Context) error {
	bans, err := c.ctl.Bans(ctx)
	if err != nil {
		return err
	}
	if len(bans) == 0 {
		fmt.Fprintln(c.out, "No active bans.")
		return nil
	}
	tw := c.newTable([]string{"Kind", "Target", "Reason", "By", "Expires"})
	for _, b := range bans {
		expires := "never"
		if b.ExpiresAt != nil {
			expires = b.ExpiresAt.Local().Format("2006-01-02 15:04")
		}
		tw.Append([]string{string(b.Kind), b.Target, b.Reason, b.Source, expires})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdSay(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: say <message>")
	}
	n := c.ctl.Broadcast(strings.Join(args, " "))
	fmt.Fprintf(c.out, "Message sent to %d player(s)\n", n)
	return nil
}

func (c *CLI) cmdMOTD(args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(c.out, c.ctl.Overview().MOTD)
		return nil
	}
	motd := strings.Join(args, " ")
	if err := c.ctl.SetMOTD(motd); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "MOTD set to %q\n", motd)
	return nil
}
