package main

import (
	"chat-relay/client"
	"chat-relay/domain"
	grpcclient "chat-relay/infrastructure/grpc/client"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var lookupEnv = os.Getenv

func newTokenCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print a development token for --user signed with --secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.secret == "" {
				return fmt.Errorf("--secret is required")
			}
			token, err := opts.bearer()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
}

func newListenCmd(opts *globalOptions) *cobra.Command {
	var noAck bool
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect and print every frame until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := opts.bearer()
			if err != nil {
				return err
			}
			c, err := dial(cmd.Context(), opts, token, !noAck)
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "connected as %s (%s)\n", c.UserID(), c.ConnectionID())

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case f, ok := <-c.Frames():
					if !ok {
						return c.Err()
					}
					printFrame(cmd.OutOrStdout(), f)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&noAck, "no-ack", false, "do not acknowledge received messages")
	return cmd
}

func newSendCmd(opts *globalOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "send <receiver> <payload>",
		Short: "Send one message and optionally wait for its delivery status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := opts.bearer()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			c, err := dial(ctx, opts, token, false)
			if err != nil {
				return err
			}
			defer c.Close()

			receipt, err := c.Send(ctx, domain.UserID(args[0]), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted message %d (seq %d)\n", receipt.MessageID, receipt.Seq)
			if !wait {
				return nil
			}
			for {
				select {
				case <-ctx.Done():
					return fmt.Errorf("message %d still pending: %w", receipt.MessageID, ctx.Err())
				case f, ok := <-c.Frames():
					if !ok {
						return c.Err()
					}
					if f.Event == domain.EventDeliveryStatus && f.MessageID == uint64(receipt.MessageID) {
						printFrame(cmd.OutOrStdout(), f)
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the terminal delivery status")
	return cmd
}

func newPresenceCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "presence [user]",
		Short: "Show the connections of a user, or every online user",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			pc, err := presenceClient(opts)
			if err != nil {
				return err
			}
			defer pc.Close()

			table := newTable(cmd.OutOrStdout())
			if len(args) == 0 {
				users, err := pc.OnlineUsers(ctx)
				if err != nil {
					return err
				}
				table.SetHeader([]string{"User"})
				for _, u := range users {
					table.Append([]string{string(u)})
				}
				table.Render()
				return nil
			}

			conns, err := pc.Connections(ctx, domain.UserID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", args[0], onlineLabel(len(conns) > 0))
			table.SetHeader([]string{"Connection", "Since", "Last activity"})
			for _, c := range conns {
				table.Append([]string{string(c.ID), c.CreatedAt.Format(time.RFC3339), c.LastActivity.Format(time.RFC3339)})
			}
			table.Render()
			return nil
		},
	}
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <messageId>",
		Short: "Show the delivery state of a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid message id %q: %w", args[0], err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			pc, err := presenceClient(opts)
			if err != nil {
				return err
			}
			defer pc.Close()

			st, err := pc.DeliveryStatus(ctx, domain.MessageID(id))
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout())
			table.SetHeader([]string{"Message", "Seq", "Sender", "Receiver", "State", "Reason", "Delivered to"})
			table.Append([]string{
				strconv.FormatUint(st.MessageID, 10), strconv.FormatUint(st.Seq, 10),
				st.SenderID, st.ReceiverID, st.State, st.Reason, st.DeliveredTo,
			})
			table.Render()
			return nil
		},
	}
}

func newUsersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the known users with their presence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := opts.bearer()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			users, err := client.ListUsers(ctx, nil, opts.httpURL, token)
			if err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout())
			table.SetHeader([]string{"User", "Presence", "First seen", "Last seen"})
			for _, u := range users {
				table.Append([]string{u.ID, onlineLabel(u.Online), u.FirstSeenAt.Format(time.RFC3339), u.LastSeenAt.Format(time.RFC3339)})
			}
			table.Render()
			return nil
		},
	}
}

func dial(ctx context.Context, opts *globalOptions, token string, autoAck bool) (*client.Client, error) {
	return client.Dial(ctx, opts.logger(), opts.wsURL, token, client.Options{AutoAck: autoAck})
}

func presenceClient(opts *globalOptions) (*grpcclient.PresenceClient, error) {
	token, err := opts.bearer()
	if err != nil {
		return nil, err
	}
	return grpcclient.NewPresenceClient(opts.grpcAddr, token)
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func onlineLabel(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}

func printFrame(w io.Writer, f domain.Frame) {
	switch f.Event {
	case domain.EventReceiveMessage:
		fmt.Fprintf(w, "[%d #%d] %s: %s\n", f.MessageID, f.Seq, f.SenderID, f.Payload)
	case domain.EventEchoMessage:
		fmt.Fprintf(w, "[%d #%d] you -> %s: %s\n", f.MessageID, f.Seq, f.ReceiverID, f.Payload)
	case domain.EventPresenceChanged:
		online := f.Online != nil && *f.Online
		fmt.Fprintf(w, "%s is now %s\n", f.UserID, onlineLabel(online))
	case domain.EventDeliveryStatus:
		if f.Reason != "" {
			fmt.Fprintf(w, "message %d %s (%s)\n", f.MessageID, f.State, f.Reason)
		} else {
			fmt.Fprintf(w, "message %d %s\n", f.MessageID, f.State)
		}
	case domain.EventError:
		fmt.Fprintf(w, "error %s: %s\n", f.Code, f.Message)
	default:
		fmt.Fprintf(w, "%s\n", f.Event)
	}
}
