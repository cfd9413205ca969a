package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/writeroom/collab/collab"
)

const CollabCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Collaboration client control.

Usage:
    collabctl join [--config=<config>] [--url=<url>] [--api_url=<api_url>]
        [--doc=<doc_id>] [--collection=<collection>] [--token=<token>]
    collabctl broadcast [--config=<config>] [--url=<url>] [--api_url=<api_url>]
        [--doc=<doc_id>] [--collection=<collection>] [--token=<token>]
        --type=<type> [<message>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --config=<config>          TOML config file. Flags override file values.
    --url=<url>                Collaboration endpoint base url.
    --api_url=<api_url>        Platform api url, used to fetch auth tokens.
    --doc=<doc_id>             Document id.
    --collection=<collection>  Document collection name.
    --type=<type>              Broadcast message type.
    --token=<token>            Static auth token. When omitted and an api
                               url is set, a token is fetched after a
                               secret prompt.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabCtlVersion)
	if err != nil {
		panic(err)
	}

	if join_, _ := opts.Bool("join"); join_ {
		join(opts)
	} else if broadcast_, _ := opts.Bool("broadcast"); broadcast_ {
		broadcast(opts)
	}
}

func join(opts docopt.Opts) {
	client, cancel := newClient(opts)
	defer cancel()

	done := make(chan struct{})
	client.AddStatusChangeCallback(func(from collab.Status, to collab.Status) {
		Out.Printf("status %s -> %s", from, to)
		if to == collab.StatusExit {
			close(done)
		}
	})

	client.Connect()
	<-done
}

func broadcast(opts docopt.Opts) {
	client, cancel := newClient(opts)
	defer cancel()

	messageType, _ := opts.String("--type")
	message, _ := opts.String("<message>")

	done := make(chan struct{})
	client.AddReadyCallback(func(participant *collab.Participant) {
		err := client.Broadcast(messageType, map[string]any{
			"text":  message,
			"nonce": uuid.NewString(),
		})
		if err != nil {
			Err.Printf("broadcast error = %s", err)
		}
		client.Exit()
	})
	client.AddStatusChangeCallback(func(from collab.Status, to collab.Status) {
		if to == collab.StatusExit {
			close(done)
		}
	})

	client.Connect()
	<-done
}

func newClient(opts docopt.Opts) (*collab.CollabClient, func()) {
	configPath, _ := opts.String("--config")
	config, err := LoadConfig(configPath)
	if err != nil {
		Err.Fatalf("config error = %s", err)
	}
	if url_, err := opts.String("--url"); err == nil && url_ != "" {
		config.Url = url_
	}
	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		config.ApiUrl = apiUrl
	}
	if docId, err := opts.String("--doc"); err == nil && docId != "" {
		config.DocId = docId
	}
	if collection, err := opts.String("--collection"); err == nil && collection != "" {
		config.Collection = collection
	}
	if config.Url == "" || config.DocId == "" {
		Err.Fatalf("url and doc id are required")
	}

	settings := collab.DefaultClientSettings()
	settings.Url = config.Url
	settings.DocId = config.DocId
	settings.Collection = config.Collection
	settings.TokenFunc = tokenFunc(opts, config)

	ctx, cancel := context.WithCancel(context.Background())
	engine := collab.NewNoopSyncEngine()
	client := collab.NewCollabClient(ctx, engine, nil, newSignalLifecycle(), settings)

	client.AddErrorCallback(func(clientError *collab.ClientError) {
		Err.Printf("error = %s", clientError)
	})
	client.AddMembersChangeCallback(func(members []*collab.Participant) {
		for _, member := range members {
			Out.Printf("member %s (%s) %s", member.Name, member.Uuid, member.Color)
		}
	})
	client.AddMessageCallback(func(message *collab.Message) {
		Out.Printf("message %s %s", message.Type, string(message.Body))
	})
	client.AddReadyCallback(func(participant *collab.Participant) {
		Out.Printf("ready as %s (%s)", participant.Name, participant.Uuid)
	})

	return client, cancel
}

func tokenFunc(opts docopt.Opts, config *Config) collab.TokenFunc {
	if token, err := opts.String("--token"); err == nil && token != "" {
		return func(ctx context.Context) (string, error) {
			return token, nil
		}
	}
	if config.ApiUrl != "" {
		fmt.Fprint(os.Stderr, "secret: ")
		secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Err.Fatalf("secret prompt error = %s", err)
		}
		api := collab.NewCollabApi(config.ApiUrl)
		return collab.NewCachingTokenFunc(api.TokenFunc(config.DocId, string(secretBytes)))
	}
	return collab.EmptyTokenFunc
}

// signalLifecycle maps process signals onto the host lifecycle boundary.
// There is no visibility signal for a terminal client.
type signalLifecycle struct{}

func newSignalLifecycle() *signalLifecycle {
	return &signalLifecycle{}
}

func (self *signalLifecycle) OnTerminate(callback func()) func() {
	notify := make(chan os.Signal, 1)
	signal.Notify(notify, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-notify:
			callback()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(notify)
		close(done)
	}
}

func (self *signalLifecycle) OnVisibilityHidden(callback func()) func() {
	return func() {}
}
