package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/macadriano/TQ/internal/codec"
	"github.com/macadriano/TQ/internal/gateway"
)

// shellCommands lists the console commands for the help output.
var shellCommands = []struct {
	name string
	desc string
}{
	{"status", "Show uptime, session and message counters"},
	{"clients", "List connected device sessions"},
	{"terminal", "List terminal ids seen on current sessions"},
	{"checksum <frame>", "Compute the RPG checksum of a frame"},
	{"help", "Show this help message"},
	{"exit / quit", "Shut the gateway down"},
}

// runShell is the interactive operator console, active unless --daemon.
// quit requests a full gateway shutdown through stop.
func runShell(srv *gateway.Server, stop func()) {
	fmt.Println("tqgateway console. Type 'help' for available commands, 'quit' to stop the gateway.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("tqgateway> ")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		cmd, arg, _ := strings.Cut(line, " ")

		switch cmd {
		case "exit", "quit":
			stop()
			return
		case "help", "?":
			printShellHelp()
		case "status":
			printStatus(srv)
		case "clients":
			printClients(srv)
		case "terminal":
			printTerminals(srv)
		case "checksum":
			printChecksum(arg)
		case "":
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q, try 'help'\n", cmd)
		}

		fmt.Print("tqgateway> ")
	}
}

func printShellHelp() {
	fmt.Println("Available commands:")
	fmt.Println()
	for _, cmd := range shellCommands {
		fmt.Printf("  %-20s %s\n", cmd.name, cmd.desc)
	}
	fmt.Println()
}

func printStatus(srv *gateway.Server) {
	snap := srv.Snapshot(time.Now())
	fmt.Printf("uptime:   %s\n", snap.Uptime.Round(time.Second))
	fmt.Printf("port:     %d\n", snap.Port)
	fmt.Printf("clients:  %d\n", snap.Clients)
	fmt.Printf("messages: %d\n", snap.Messages)
}

func printClients(srv *gateway.Server) {
	clients := srv.Clients()
	if len(clients) == 0 {
		fmt.Println("no connected sessions")
		return
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Session < clients[j].Session })

	fmt.Printf("%-6s %-22s %-8s %-9s %s\n", "ID", "REMOTE", "TERMINAL", "MESSAGES", "LAST ACTIVITY")
	for _, c := range clients {
		terminal := c.ShortID
		if terminal == "" {
			terminal = "-"
		}
		fmt.Printf("%-6d %-22s %-8s %-9d %s\n",
			c.Session, c.Remote, terminal, c.Messages,
			c.LastActivity.Format(time.DateTime))
	}
}

func printTerminals(srv *gateway.Server) {
	seen := make(map[string]struct{})
	for _, c := range srv.Clients() {
		if c.ShortID != "" {
			seen[c.ShortID] = struct{}{}
		}
	}
	if len(seen) == 0 {
		fmt.Println("no identified terminals")
		return
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Println(id)
	}
}

func printChecksum(frame string) {
	if frame == "" {
		fmt.Fprintln(os.Stderr, "usage: checksum <frame ending in *>")
		return
	}
	sum, err := codec.Checksum(frame)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return
	}
	fmt.Println(sum)
}
