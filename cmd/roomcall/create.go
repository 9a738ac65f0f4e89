package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mossy-p/roomcall/config"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var flagCreateJoin bool

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Create a room and print its link",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(config.ClientOptions{RelayURL: flagRelay, LogLevel: flagLogLevel})
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		room, err := createRoom(ctx, cfg.RelayURL)
		if err != nil {
			return err
		}

		pterm.Success.Printfln("Room %s created", room.RoomID)
		pterm.Info.Printfln("Share this link: %s", cfg.RoomLink(room.RoomID))

		if !flagCreateJoin {
			return nil
		}
		pterm.Println()
		return joinRoom(cmd.Context(), room.RoomID)
	},
}

func createRoom(ctx context.Context, relayURL string) (*models.CreateRoomResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, relayURL+"/api/rooms", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("relay refused to create a room: %s", resp.Status)
	}
	var room models.CreateRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return nil, fmt.Errorf("invalid relay response: %w", err)
	}
	return &room, nil
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().BoolVarP(&flagCreateJoin, "join", "j", false, "Join the room right away")
	addMediaFlags(createCmd)
}
