package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/bringyour/mapsync/mapsync"
)

const MapSyncCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Map sync control.

Opens a headless map session. Settings are read from a yaml file, e.g.

    strategy: rpc
    rpc_url: wss://maps.example.com/events
    ws:
        reconnect_timeout: 5s

Usage:
    mapsyncctl join --config=<config> --map=<map_id> [--jwt=<jwt>] [--secret]
        [--duration=<duration>]
    mapsyncctl check-secret --config=<config> --map=<map_id> [--jwt=<jwt>]
    mapsyncctl delete-map --config=<config> --map=<map_id> --admin_id=<admin_id> [--jwt=<jwt>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --config=<config>          Settings yaml file.
    --map=<map_id>             The map to open.
    --jwt=<jwt>                Client JWT sent when the transport connects.
    --secret                   Prompt for the map's modification secret.
    --duration=<duration>      Stay joined this long, e.g. 30s. Default until interrupted.
    --admin_id=<admin_id>      The map's admin id.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], MapSyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if join_, _ := opts.Bool("join"); join_ {
		join(opts)
	} else if checkSecret_, _ := opts.Bool("check-secret"); checkSecret_ {
		checkSecret(opts)
	} else if deleteMap_, _ := opts.Bool("delete-map"); deleteMap_ {
		deleteMap(opts)
	}
}

// prints notifications the way a ui would show them
type consoleNotifier struct{}

func (self *consoleNotifier) ShowRecoverableError(operation string, message string) {
	Out.Printf("[%s] %s\n", operation, message)
}

func (self *consoleNotifier) ShowCriticalError(message string) {
	Err.Printf("critical: %s\n", message)
}

func (self *consoleNotifier) ShowInfo(kind string, message string) {
	Out.Printf("%s: %s\n", kind, message)
}

func readSecret() string {
	fmt.Fprint(os.Stderr, "Modification secret: ")
	secretBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("Could not read secret (%s).", err)
	}
	return string(secretBytes)
}

func newService(ctx context.Context, opts docopt.Opts, secret string) (*mapsync.MapSyncService, *mapsync.MemoryDocument) {
	configPath, _ := opts.String("--config")
	jwt, _ := opts.String("--jwt")

	settings, err := mapsync.LoadSettings(configPath)
	if err != nil {
		Err.Fatalf("Could not load settings (%s).", err)
	}

	document := mapsync.NewMemoryDocument()
	auth := mapsync.NewClientAuth(jwt, secret)
	service, err := mapsync.NewMapSyncService(ctx, settings, document, &consoleNotifier{}, auth)
	if err != nil {
		Err.Fatalf("Could not create session (%s).", err)
	}
	return service, document
}

func waitConnected(service *mapsync.MapSyncService, timeout time.Duration) bool {
	connected := make(chan struct{}, 1)
	remove := service.Session().AddConnectionStatusCallback(func(status mapsync.ConnectionStatus) {
		if status == mapsync.ConnectionStatusConnected {
			select {
			case connected <- struct{}{}:
			default:
			}
		}
	})
	defer remove()
	if service.Session().ConnectionStatus() == mapsync.ConnectionStatusConnected {
		return true
	}
	select {
	case <-connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

func join(opts docopt.Opts) {
	mapId, _ := opts.String("--map")
	var secret string
	if promptSecret, _ := opts.Bool("--secret"); promptSecret {
		secret = readSecret()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if durationStr, err := opts.String("--duration"); err == nil && durationStr != "" {
		duration, err := time.ParseDuration(durationStr)
		if err != nil {
			Err.Fatalf("Invalid duration (%s).", err)
		}
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, duration)
		defer timeoutCancel()
	}

	service, document := newService(ctx, opts, secret)
	defer service.Destroy()

	session := service.Session()
	session.AddConnectionStatusCallback(func(status mapsync.ConnectionStatus) {
		Out.Printf("connection: %s\n", status)
	})
	session.AddWritableCallback(func(writable bool) {
		Out.Printf("writable: %t\n", writable)
	})
	session.AddMapOptionsCallback(func(options *mapsync.MapOptions) {
		Out.Printf("options: font %d-%d step %d\n", options.FontMinSize, options.FontMaxSize, options.FontIncrement)
	})
	session.AddMapDeletedCallback(func() {
		Out.Printf("map deleted\n")
		cancel()
	})
	session.Presence().AddChangeCallback(func(mapping mapsync.ColorMapping, refreshNodeIds []string) {
		Out.Printf("clients: %d\n", len(mapping))
		for clientId, presence := range mapping {
			Out.Printf("    %s %s %s\n", clientId, presence.Color, presence.NodeId)
		}
	})

	if err := service.InitMap(mapId); err != nil {
		Err.Fatalf("Could not join %s (%s).", mapId, err)
	}

	<-ctx.Done()
	Out.Printf("%d nodes\n", document.Len())
}

func checkSecret(opts docopt.Opts) {
	mapId, _ := opts.String("--map")
	secret := readSecret()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service, _ := newService(ctx, opts, "")
	defer service.Destroy()

	if err := service.InitMap(mapId); err != nil {
		Err.Fatalf("Could not join %s (%s).", mapId, err)
	}
	if !waitConnected(service, 30*time.Second) {
		Err.Fatalf("Not connected.")
	}
	valid, err := service.CheckModificationSecret(secret)
	if err != nil {
		Err.Fatalf("Could not check secret (%s).", err)
	}
	if valid {
		Out.Printf("Secret is valid.\n")
	} else {
		Out.Printf("Secret is not valid.\n")
	}
}

func deleteMap(opts docopt.Opts) {
	mapId, _ := opts.String("--map")
	adminId, _ := opts.String("--admin_id")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service, _ := newService(ctx, opts, "")
	defer service.Destroy()

	if err := service.InitMap(mapId); err != nil {
		Err.Fatalf("Could not join %s (%s).", mapId, err)
	}
	if !waitConnected(service, 30*time.Second) {
		Err.Fatalf("Not connected.")
	}
	if err := service.DeleteMap(adminId); err != nil {
		Err.Fatalf("Could not delete %s (%s).", mapId, err)
	}
	Out.Printf("Deleted %s.\n", mapId)
}
