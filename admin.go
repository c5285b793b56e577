package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/teamx/teamx-server/client"
	"github.com/teamx/teamx-server/internal/config"
)

const dialTimeout = 5 * time.Second

// NewAdminCmd creates the admin subcommand tree. Every command talks to a
// running server over its control address.
func NewAdminCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administer a running server",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", config.Default().Control.Address, "server control address")

	connect := func(cmd *cobra.Command) (*client.Client, error) {
		ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout)
		defer cancel()
		return client.Dial(ctx, addr)
	}

	cmd.AddCommand(
		newSetLevelCmd(connect),
		newRenameCmd(connect),
		newPlayersCmd(connect),
		newSaveCmd(connect),
		newStatusCmd(connect),
		newWatchCmd(connect),
	)
	return cmd
}

type connectFunc func(cmd *cobra.Command) (*client.Client, error)

func parsePlayer(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, oops.With("player", s).Wrapf(err, "player id must be a decimal number")
	}
	return id, nil
}

func newSetLevelCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "set-level <player> <tier>",
		Short: "Move a player to a permission tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePlayer(args[0])
			if err != nil {
				return err
			}
			c, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.SetLevel(id, args[1]); err != nil {
				return err
			}
			cmd.Printf("player %d is now %s\n", id, args[1])
			return nil
		},
	}
}

func newRenameCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <player> <name>",
		Short: "Change the name stored for a player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePlayer(args[0])
			if err != nil {
				return err
			}
			c, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.RenamePlayer(id, args[1]); err != nil {
				return err
			}
			cmd.Printf("player %d renamed to %s\n", id, args[1])
			return nil
		},
	}
}

func newPlayersCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "players [glob]",
		Short: "List online and known players",
		Long: `List online and known players. The optional glob is matched against
the player name and the decimal player id, e.g. "Zeep*" or "7656119*".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			c, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			players, err := c.ListPlayers(pattern)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PLAYER\tNAME\tTIER\tONLINE\tBLOCKS")
			for _, p := range players {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\n", p.Player, p.Name, p.Tier, p.Online, p.Blocks)
			}
			return w.Flush()
		},
	}
}

func newSaveCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Save the level now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			path, err := c.Save()
			if err != nil {
				return err
			}
			cmd.Printf("saved %s\n", path)
			return nil
		},
	}
}

func newStatusCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show players, blocks and level settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			st, err := c.Status()
			if err != nil {
				return err
			}
			cmd.Printf("players:     %d\n", st.Players)
			cmd.Printf("connections: %d\n", st.Connections)
			cmd.Printf("blocks:      %d\n", st.Blocks)
			cmd.Printf("selections:  %d\n", st.Selections)
			cmd.Printf("floor:       %d\n", st.Floor)
			cmd.Printf("skybox:      %d\n", st.Skybox)
			return nil
		},
	}
}

func newWatchCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print joins, leaves and edits as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			events, err := c.Watch(64)
			if err != nil {
				return err
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-events:
					line := fmt.Sprintf("%s %-7s player=%d", ev.Time.Format(time.RFC3339), ev.Kind, ev.Player)
					if ev.Name != "" {
						line += " name=" + strconv.Quote(ev.Name)
					}
					if ev.UID != "" {
						line += " uid=" + ev.UID
					}
					if ev.Tier != "" {
						line += " tier=" + ev.Tier
					}
					if ev.Kind == "floor" || ev.Kind == "skybox" {
						line += " value=" + strconv.Itoa(int(ev.Value))
					}
					cmd.Println(line)
				}
			}
		},
	}
}
