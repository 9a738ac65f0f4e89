package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mossy-p/roomcall/config"
	"github.com/mossy-p/roomcall/internal/logging"
	"github.com/mossy-p/roomcall/internal/media"
	"github.com/mossy-p/roomcall/internal/models"
	"github.com/mossy-p/roomcall/internal/room"
	"github.com/mossy-p/roomcall/internal/signaling"
	"github.com/mossy-p/roomcall/internal/status"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const joinTimeout = 15 * time.Second

var (
	flagSTUN  []string
	flagAudio string
	flagVideo string
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|link>",
	Aliases: []string{"j"},
	Short:   "Join a room",
	Long: `Join a room by id or by its shared link.

While in the room, type a command and press enter:
  m  toggle mute
  v  toggle video
  q  leave the room

Examples:
  roomcall join abcd1234
  roomcall join http://localhost:8080/room/abcd1234 --video clip.ivf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinRoom(cmd.Context(), roomID)
	},
}

func joinRoom(parent context.Context, roomID string) error {
	cfg, err := config.LoadClient(config.ClientOptions{
		RelayURL:    flagRelay,
		STUNServers: flagSTUN,
		LogLevel:    flagLogLevel,
		AudioFile:   flagAudio,
		VideoFile:   flagVideo,
	})
	if err != nil {
		return err
	}
	logging.Setup(cfg.LogLevel, true)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var src media.Source = media.NoMedia{}
	if cfg.AudioFile != "" || cfg.VideoFile != "" {
		src = media.FileSource{AudioPath: cfg.AudioFile, VideoPath: cfg.VideoFile}
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Joining room %s...", roomID))
	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	session, err := room.Join(joinCtx, room.Config{
		Room:              roomID,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectBackoff:  cfg.ReconnectBackoff,
	}, src, room.RelayDialer{
		Options:     signaling.Options{RelayURL: cfg.RelayURL},
		STUNServers: cfg.STUNServers,
	})
	cancel()
	if err != nil {
		spinner.Fail("Could not join the room")
		if errors.Is(err, signaling.ErrAuthDenied) {
			return fmt.Errorf("access to room %s denied (it may be full): %w", roomID, err)
		}
		return err
	}
	spinner.Success(fmt.Sprintf("Joined room %s", roomID))
	pterm.Info.Printfln("Room link: %s", cfg.RoomLink(roomID))
	pterm.Info.Println("Commands: m = mute, v = video, q = leave")
	printStatus(session.Status())

	commands := make(chan string)
	go readCommands(commands)

	defer func() {
		if err := session.Leave(); err != nil {
			pterm.Warning.Printfln("Leaving: %v", err)
		}
		pterm.Info.Println("Left the room")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case s := <-session.Updates():
			printStatus(s)

		case line, ok := <-commands:
			if !ok {
				return nil
			}
			if leave := runCommand(session, line); leave {
				return nil
			}
		}
	}
}

func runCommand(session *room.Session, line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "m", "mute":
		muted, err := session.ToggleMute()
		if err != nil {
			pterm.Warning.Println(err.Error())
		} else if muted {
			pterm.Info.Println("Microphone muted")
		} else {
			pterm.Info.Println("Microphone on")
		}
	case "v", "video":
		on, err := session.ToggleVideo()
		if err != nil {
			pterm.Warning.Println(err.Error())
		} else if on {
			pterm.Info.Println("Camera on")
		} else {
			pterm.Info.Println("Camera off")
		}
	case "q", "quit", "leave":
		return true
	case "":
	default:
		pterm.Warning.Printfln("Unknown command %q", line)
	}
	return false
}

func readCommands(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func printStatus(s status.Status) {
	switch s {
	case status.Connecting:
		pterm.Info.Println("Connecting...")
	case status.WaitingForPeer:
		pterm.Info.Println("Waiting for the other participant")
	case status.NoLocalMedia:
		pterm.Warning.Println("No local media, receiving only")
	case status.Connected:
		pterm.Success.Println("Connected")
	case status.Disconnected:
		pterm.Warning.Println("Disconnected")
	}
}

// parseRoomInput accepts a bare room id or a link ending in /room/<id>.
func parseRoomInput(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	if strings.Contains(input, "://") {
		u, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("parse room link: %w", err)
		}
		parts := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
		for i, part := range parts {
			if part == "room" && i+1 < len(parts) && parts[i+1] != "" {
				input = parts[i+1]
				break
			}
		}
	}

	if !models.ValidRoomID(input) {
		return "", fmt.Errorf("invalid room ID %q", input)
	}
	return input, nil
}

func addMediaFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&flagSTUN, "stun", "s", nil, "STUN server URLs (env STUN_SERVERS)")
	cmd.Flags().StringVar(&flagAudio, "audio", "", "Ogg/Opus file to send as audio (env AUDIO_FILE)")
	cmd.Flags().StringVar(&flagVideo, "video", "", "IVF file to send as video (env VIDEO_FILE)")
}

func init() {
	rootCmd.AddCommand(joinCmd)
	addMediaFlags(joinCmd)
}
