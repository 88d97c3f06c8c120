// coderoomctl is a terminal client for a coderoom server: it can join a
// room to watch its events, or submit a source file for execution and
// stream the output back, relaying stdin lines to the running program.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/antonkrylov/coderoom/internal/protocol"
)

type rootOptions struct {
	serverURL string
	roomID    string
	username  string
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "coderoomctl",
		Short: "CLI client for a coderoom server",
	}
	defaultServer := os.Getenv("CODEROOM_SERVER")
	if defaultServer == "" {
		defaultServer = "ws://localhost:5000/ws"
	}
	rootCmd.PersistentFlags().StringVar(&opts.serverURL, "server", defaultServer, "websocket endpoint (CODEROOM_SERVER)")
	rootCmd.PersistentFlags().StringVar(&opts.roomID, "room", "cli", "room to join")
	rootCmd.PersistentFlags().StringVar(&opts.username, "username", "coderoomctl", "display name")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newTailCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRunCmd(root *rootOptions) *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a source file on the server and stream its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			lang := language
			if lang == "" {
				lang = languageFromExt(args[0])
			}

			conn, err := dial(root)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := send(conn, protocol.EventTerminalRun, protocol.TerminalRun{
				RoomID:   root.roomID,
				Language: lang,
				Code:     string(code),
			}); err != nil {
				return err
			}

			if term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprintln(os.Stderr, "(lines typed here are sent to the program's stdin)")
			}
			go relayStdin(conn)

			for {
				env, err := read(conn)
				if err != nil {
					return err
				}
				if env.Event != protocol.EventTerminalOutput {
					continue
				}
				var out protocol.TerminalOutput
				if err := env.Bind(&out); err != nil {
					return err
				}
				w := os.Stdout
				if out.IsError {
					w = os.Stderr
				}
				fmt.Fprint(w, out.Output)
				if out.Done {
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "language key; inferred from the file extension when empty")
	return cmd
}

func newTailCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Join a room and print its events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dial(root)
			if err != nil {
				return err
			}
			defer conn.Close()
			for {
				env, err := read(conn)
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", env.Event, string(env.Payload))
			}
		},
	}
}

func dial(root *rootOptions) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(root.serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", root.serverURL, err)
	}
	if err := send(conn, protocol.EventJoin, protocol.Join{RoomID: root.roomID, Username: root.username}); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func send(conn *websocket.Conn, event string, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func read(conn *websocket.Conn) (*protocol.Envelope, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

func relayStdin(conn *websocket.Conn) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := scanner.Text() + "\n"
		if err := send(conn, protocol.EventTerminalInput, protocol.TerminalInput{Input: input}); err != nil {
			return
		}
	}
}

func languageFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".java":
		return "java"
	case ".c":
		return "c"
	case ".cpp", ".cc", ".cxx":
		return "cpp"
	default:
		return ""
	}
}
