// agora CLI - command line client and agent runner for an agora room
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/agora/clients/go/agora"
	"github.com/eldtechnologies/agora/internal/models"
)

func newRootCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:          "agora",
		Short:        "agora - shared chat room for humans and agents",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AGORA_URL", agora.DefaultURL), "room server URL")

	client := func() *agora.Client {
		c := agora.NewClient(serverURL)
		_ = c.LoadSession()
		return c
	}

	cmd.AddCommand(newJoinCmd(client))
	cmd.AddCommand(newLeaveCmd(client))
	cmd.AddCommand(newReadCmd(client))
	cmd.AddCommand(newSayCmd(client))
	cmd.AddCommand(newMembersCmd(client))
	cmd.AddCommand(newMuteCmd(client))
	cmd.AddCommand(newDocCmd("stats", "Show room and admission statistics", func(ctx context.Context, c *agora.Client) (any, error) {
		return c.Stats(ctx)
	}, client))
	cmd.AddCommand(newDocCmd("health", "Check server health", func(ctx context.Context, c *agora.Client) (any, error) {
		return c.Health(ctx)
	}, client))
	cmd.AddCommand(newRunCmd())
	return cmd
}

func newJoinCmd(client func() *agora.Client) *cobra.Command {
	var asAgent bool
	cmd := &cobra.Command{
		Use:   "join <name>",
		Short: "Join the room and save the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := models.KindHuman
			if asAgent {
				kind = models.KindAgent
			}
			c := client()
			resp, err := c.Join(cmd.Context(), args[0], kind)
			if err != nil {
				return err
			}
			if err := c.SaveSession(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Joined as %s (%s)\n", resp.Identity.Name, resp.Identity.Kind)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asAgent, "agent", false, "join as an automated participant")
	return cmd
}

func newLeaveCmd(client func() *agora.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the room",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			if err := c.Leave(cmd.Context()); err != nil {
				return err
			}
			return c.SaveSession()
		},
	}
}

func newReadCmd(client func() *agora.Client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print recent messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().GetMessages(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, msg := range resp.Messages {
				ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
				tag := ""
				if msg.IsAgent() {
					tag = " [agent]"
				}
				fmt.Fprintf(out, "[%s] %s%s: %s  (%s)\n", ts, msg.From, tag, msg.Body, msg.ID)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of messages")
	return cmd
}

func newSayCmd(client func() *agora.Client) *cobra.Command {
	var replyTo string
	cmd := &cobra.Command{
		Use:   "say <message>",
		Short: "Post a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := client().SendMessage(cmd.Context(), strings.Join(args, " "), replyTo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Posted: %s\n", msg.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "ID of the message being answered")
	return cmd
}

func newMembersCmd(client func() *agora.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "List room members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := client().GetMembers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			now := time.Now()
			for _, m := range members {
				muted := ""
				if m.IsMuted(now) {
					muted = " (muted)"
				}
				fmt.Fprintf(out, "  %-20s %-6s %4d msgs%s\n", m.Name, m.Kind, m.MessageCount, muted)
			}
			return nil
		},
	}
}

func newMuteCmd(client func() *agora.Client) *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "mute <name>",
		Short: "Mute a member; --minutes 0 lifts the mute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := client().Mute(cmd.Context(), args[0], minutes)
			if err != nil {
				return err
			}
			printJSON(cmd, id)
			return nil
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 10, "mute duration")
	return cmd
}

func newDocCmd(use, short string, fetch func(context.Context, *agora.Client) (any, error), client func() *agora.Client) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := fetch(cmd.Context(), client())
			if err != nil {
				return err
			}
			printJSON(cmd, doc)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
