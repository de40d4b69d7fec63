package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/websocket"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/chatlift/chatlift/internal/session"
)

func newConnectCommand() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Start the tenant's WhatsApp session and render pairing QR codes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			snap, err := client.connect(cmd.Context())
			if err != nil {
				return err
			}
			printSnapshot(cmd, snap)
			if !watch {
				return nil
			}
			return watchStatus(cmd.Context(), cmd, client)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "follow status updates until connected")
	return cmd
}

func newDisconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Tear the tenant's WhatsApp session down",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := client.disconnect(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "disconnected")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the tenant's session status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			if watch {
				return watchStatus(cmd.Context(), cmd, client)
			}
			snap, err := client.status(cmd.Context())
			if err != nil {
				return err
			}
			printSnapshot(cmd, snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "follow status updates over the websocket stream")
	return cmd
}

func newSendCommand() *cobra.Command {
	var (
		contactID string
		text      string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text message through the tenant's session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if contactID == "" || text == "" {
				return errors.New("--to and --text are required")
			}
			client, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			if err := client.send(cmd.Context(), contactID, text); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queued")
			return nil
		},
	}
	cmd.Flags().StringVar(&contactID, "to", "", "destination phone number or JID")
	cmd.Flags().StringVar(&text, "text", "", "message body")
	return cmd
}

// watchStatus follows the websocket status stream, rendering each QR code in
// the terminal, until the session connects or fails.
func watchStatus(ctx context.Context, cmd *cobra.Command, client *apiClient) error {
	wsURL, err := client.streamURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+client.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("open status stream: %w", err)
	}
	defer conn.Close()

	lastQR := ""
	for {
		var snap session.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			return fmt.Errorf("status stream: %w", err)
		}
		printSnapshot(cmd, snap)
		switch snap.State {
		case session.StateQRPending:
			if snap.QR != nil && snap.QR.Code != lastQR {
				lastQR = snap.QR.Code
				fmt.Fprintln(cmd.OutOrStdout(), "Scan with WhatsApp > Linked devices:")
				qrterminal.GenerateHalfBlock(snap.QR.Code, qrterminal.L, os.Stdout)
			}
		case session.StateConnected:
			return nil
		case session.StateError:
			return fmt.Errorf("session failed: %s", snap.LastError)
		}
	}
}

func printSnapshot(cmd *cobra.Command, snap session.Snapshot) {
	line := fmt.Sprintf("[%s] %s", snap.UpdatedAt.Format("15:04:05"), snap.State)
	if snap.PhoneNumber != "" {
		line += " " + snap.PhoneNumber
	}
	if snap.LastError != "" {
		line += " (" + snap.LastError + ")"
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}
