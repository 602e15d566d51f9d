package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/spf13/cobra"
)

var (
	listArchived bool
	startName    string
	sendReplyTo  string
	sendType     string
	watchPrefix  string
)

func init() {
	conversationsCmd.Flags().BoolVar(&listArchived, "archived", false, "list archived conversations")
	startCmd.Flags().StringVar(&startName, "username", "", "display username for the draft")
	sendCmd.Flags().StringVar(&sendReplyTo, "reply-to", "", "id of the message to reply to")
	sendCmd.Flags().StringVar(&sendType, "type", string(store.TypeText), "message type: text, image or file")
	watchCmd.Flags().StringVar(&watchPrefix, "prefix", "", "only stream events whose kind starts with prefix")

	rootCmd.AddCommand(
		statusCmd, conversationsCmd, refreshCmd, openCmd, startCmd, messagesCmd,
		sendCmd, replyCmd, retryCmd, searchCmd, watchCmd,
		flagCmd("archive", "Archive a conversation", archive(true)),
		flagCmd("unarchive", "Restore an archived conversation", archive(false)),
		flagCmd("pin", "Pin a conversation", pin(true)),
		flagCmd("unpin", "Unpin a conversation", pin(false)),
		flagCmd("delete", "Delete a conversation", func(ctx context.Context, c *api.Client, id string) error {
			return c.Delete(ctx, id)
		}),
	)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and connection status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(st)
				return nil
			}
			fmt.Printf("Profile:       %s\n", st.Profile)
			fmt.Printf("User:          %s\n", st.UserID)
			fmt.Printf("Connection:    %s (since %s)\n", st.Connection, st.Since.Local().Format(time.Kitchen))
			fmt.Printf("Uptime:        %s\n", (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second))
			fmt.Printf("Conversations: %d (%d unread)\n", st.Conversations, st.Unread)
			fmt.Printf("Pending sends: %d\n", st.PendingSends)
			if st.ActiveID != "" {
				fmt.Printf("Active:        %s\n", st.ActiveID)
			}
			return nil
		})
	},
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Conversations(ctx, listArchived)
			if err != nil {
				return err
			}
			return printConversations(ctx, c, reply)
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refetch the conversation list from the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.LoadConversations(ctx)
			if err != nil {
				return err
			}
			return printConversations(ctx, c, reply)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find conversations by participant or last message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printConversations(ctx, c, reply)
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <conversation-id>",
	Short: "Make a conversation active and print its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Select(ctx, args[0])
			if err != nil {
				return err
			}
			return printMessages(reply)
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start <user-id>",
	Short: "Open the direct conversation with a user, or a draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			conv, err := c.Start(ctx, store.Participant{UserID: args[0], Username: startName})
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(conv)
				return nil
			}
			if conv.IsTemp {
				fmt.Printf("Draft with %s opened; the first send creates it.\n", args[0])
			} else {
				fmt.Printf("Opened %s.\n", conv.ID)
			}
			return nil
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Print the active conversation's messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.Messages(ctx)
			if err != nil {
				return err
			}
			return printMessages(reply)
		})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Send a message to the active conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			m, err := c.Send(ctx, strings.Join(args, " "), store.MessageType(sendType), sendReplyTo)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(m)
				return nil
			}
			if m.ID != "" {
				fmt.Printf("Sent %s (%s).\n", m.ID, m.Status)
			} else {
				fmt.Printf("Queued %s (%s).\n", m.TempID, m.Status)
			}
			return nil
		})
	},
}

var replyCmd = &cobra.Command{
	Use:   "reply [message-id]",
	Short: "Set or clear the reply target of the next send",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		return withClient(func(ctx context.Context, c *api.Client) error {
			return c.SetReplyContext(ctx, id)
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Refetch the active conversation's history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *api.Client) error {
			reply, err := c.RetryHistory(ctx)
			if err != nil {
				return err
			}
			return printMessages(reply)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The stream outlives --timeout.
		return withClient(func(_ context.Context, c *api.Client) error {
			stream, err := c.Watch(cmd.Context(), watchPrefix)
			if err != nil {
				return err
			}
			for {
				evt, err := stream.Recv()
				if err != nil {
					if api.IsEOF(err) {
						return nil
					}
					return err
				}
				if jsonOutput {
					data, _ := json.Marshal(evt)
					fmt.Println(string(data))
					continue
				}
				fmt.Printf("%s  %-30s %s\n", evt.Timestamp.Local().Format(time.TimeOnly), evt.Kind, string(evt.Payload))
			}
		})
	},
}

type flagFunc func(ctx context.Context, c *api.Client, id string) error

func archive(v bool) flagFunc {
	return func(ctx context.Context, c *api.Client, id string) error { return c.SetArchived(ctx, id, v) }
}

func pin(v bool) flagFunc {
	return func(ctx context.Context, c *api.Client, id string) error { return c.SetPinned(ctx, id, v) }
}

func flagCmd(use, short string, fn flagFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <conversation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *api.Client) error {
				return fn(ctx, c, args[0])
			})
		},
	}
}

func printConversations(ctx context.Context, c *api.Client, reply *api.ConversationsReply) error {
	if jsonOutput {
		outputJSON(reply)
		return nil
	}
	if len(reply.Conversations) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	for _, conv := range reply.Conversations {
		marker := " "
		switch {
		case conv.ID != "" && conv.ID == reply.ActiveID:
			marker = ">"
		case conv.IsPinned:
			marker = "*"
		}
		id := conv.ID
		if conv.IsTemp {
			id = "(draft)"
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf("[%d]", conv.UnreadCount)
		}
		preview := ""
		if conv.LastMessage != nil {
			preview = truncate(conv.LastMessage.Content, 40)
		}
		fmt.Printf("%s %-26s %-24s %5s  %s\n", marker, id, truncate(conv.Title(st.UserID), 24), unread, preview)
	}
	return nil
}

func printMessages(reply *api.MessagesReply) error {
	if jsonOutput {
		outputJSON(reply)
		return nil
	}
	if len(reply.Messages) == 0 {
		fmt.Println("No messages.")
		return nil
	}
	for _, m := range reply.Messages {
		mark := ""
		switch m.Status {
		case store.StatusSending:
			mark = " (sending)"
		case store.StatusFailed:
			mark = " (failed)"
		}
		quote := ""
		if m.ReplyTo != "" {
			quote = " ↪" + m.ReplyTo
		}
		fmt.Printf("%s  %-12s %s%s%s\n", m.CreatedAt.Local().Format("01-02 15:04"), truncate(m.SenderID, 12), m.Content, quote, mark)
	}
	if reply.ReplyTo != "" {
		fmt.Printf("\nReplying to %s\n", reply.ReplyTo)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
