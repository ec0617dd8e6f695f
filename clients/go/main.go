// Hushroom CLI - Command line client for Hushroom
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hushroom/hushroom/clients/go/hushroom"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("HUSHROOM_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := hushroom.NewClient(baseURL)
	ctx := context.Background()
	cmd := os.Args[1]

	switch cmd {
	case "create":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: hushroom create <room_id> [title]")
			os.Exit(1)
		}
		title := ""
		if len(os.Args) > 3 {
			title = os.Args[3]
		}
		info, err := client.CreateRoom(ctx, os.Args[2], title, os.Getenv("HUSHROOM_ADMIN_KEY"))
		exitOnError(err)
		printJSON(info)

	case "info":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: hushroom info <room_id>")
			os.Exit(1)
		}
		info, err := client.Room(ctx, os.Args[2])
		exitOnError(err)
		printJSON(info)

	case "history":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: hushroom history <room_id> <passphrase>")
			os.Exit(1)
		}
		roomID, passphrase := os.Args[2], os.Args[3]
		info, err := client.Room(ctx, roomID)
		exitOnError(err)
		key, err := hushroom.DeriveKey(passphrase, info.SaltB64, info.KDFIters)
		exitOnError(err)
		msgs, err := client.History(ctx, roomID, 50, 0)
		exitOnError(err)
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			ts := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04:05")
			p, err := hushroom.Decrypt(key, roomID, m.Epoch, m.MsgID, m.IVB64, m.CiphertextB64)
			if err != nil {
				fmt.Printf("[%s] <undecryptable>\n", ts)
				continue
			}
			fmt.Printf("[%s] %s: %s\n", ts, displayName(p.DisplayName), p.Text)
		}

	case "chat":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: hushroom chat <room_id> <passphrase> [display_name]")
			os.Exit(1)
		}
		name := ""
		if len(os.Args) > 4 {
			name = os.Args[4]
		}
		chat(ctx, client, os.Args[2], os.Args[3], name)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func chat(ctx context.Context, client *hushroom.Client, roomID, passphrase, name string) {
	session, err := client.Join(ctx, roomID, passphrase, name)
	exitOnError(err)
	defer session.Close()

	fmt.Printf("Joined %s (epoch %d). Type messages, Ctrl-D to quit.\n",
		roomID, session.Info().Epoch)

	go func() {
		for {
			in, err := session.Next()
			if err != nil {
				var serverErr *hushroom.ServerError
				if errors.As(err, &serverErr) {
					fmt.Fprintf(os.Stderr, "! %s\n", serverErr)
					if serverErr.Code == "epoch-rotated" {
						os.Exit(1)
					}
					continue
				}
				fmt.Fprintln(os.Stderr, "connection closed:", err)
				os.Exit(1)
			}
			if in.Err != nil {
				fmt.Printf("<undecryptable message %s>\n", in.MsgID)
				continue
			}
			fmt.Printf("%s%s: %s\n", trustMark(in.Trust), displayName(in.Payload.DisplayName), in.Payload.Text)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if _, err := session.Send(text); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
		}
	}
}

func trustMark(t hushroom.TrustState) string {
	switch t {
	case hushroom.TrustVerified:
		return "✓ "
	case hushroom.TrustNew:
		return "? "
	case hushroom.TrustMismatch:
		return "✗ "
	default:
		return ""
	}
}

func displayName(name string) string {
	if name == "" {
		return "anon"
	}
	return name
}

func usage() {
	fmt.Println(`Hushroom CLI - End-to-end encrypted rooms

Usage: hushroom <command> [options]

Commands:
  create <room_id> [title]                 Create a room
  info <room_id>                           Show room key parameters
  chat <room_id> <passphrase> [name]       Join a room and chat
  history <room_id> <passphrase>           Decrypt stored history

Environment:
  HUSHROOM_URL        Server URL (default: http://localhost:8080)
  HUSHROOM_CONFIG     Config directory (default: ~/.hushroom)
  HUSHROOM_ADMIN_KEY  Admin key used when creating rooms`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
