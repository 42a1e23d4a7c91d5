// Command test-session is a manual test for a live diffuser link. It
// connects, requests a status and a bulk frame, then prints every state
// change until interrupted.
//
// Usage:
//
//	go run ./cmd/test-session --address AA:BB:CC:DD:EE:FF [--power on|off]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/felshare-ble/internal/ble"
	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
)

func main() {
	address := flag.String("address", "", "device address")
	power := flag.String("power", "", "optionally switch power: on or off")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *address == "" {
		fmt.Fprintln(os.Stderr, "--address is required")
		os.Exit(2)
	}
	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	session, err := ble.NewSession(ble.NewBluetoothAdapter(), *address, ble.DefaultSessionOptions())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer session.Close()

	unsubscribe := session.Subscribe(func(st protocol.State) {
		fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), st)
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Connecting to %s...\n", *address)
	if err := session.EnsureConnected(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("Connected. Press Ctrl+C to exit.")

	if *power != "" {
		if err := session.SetPower(ctx, *power == "on"); err != nil {
			fmt.Printf("Error: power: %v\n", err)
		}
	}
	if err := session.RequestStatus(ctx); err != nil {
		fmt.Printf("Error: status: %v\n", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := session.RequestBulk(ctx); err != nil {
		fmt.Printf("Error: bulk: %v\n", err)
	}

	<-ctx.Done()
	fmt.Println("\nShutting down...")
}
