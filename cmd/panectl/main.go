package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/bridgectl/internal/bridge"
	"github.com/danmuck/bridgectl/internal/config"
	hbroadcast "github.com/danmuck/bridgectl/internal/handlers/broadcast"
	hfetch "github.com/danmuck/bridgectl/internal/handlers/fetch"
	hpanes "github.com/danmuck/bridgectl/internal/handlers/panes"
	hstorage "github.com/danmuck/bridgectl/internal/handlers/storage"
	"github.com/danmuck/bridgectl/internal/logging"
	"github.com/danmuck/bridgectl/internal/transport"
	"github.com/danmuck/bridgectl/internal/transport/framed"
	"github.com/danmuck/bridgectl/internal/wire"
)

type options struct {
	configPath string
	hub        string
	window     string
	private    bool
	token      string
	op         string
	focus      int
	cache      bool
	timeout    time.Duration
	args       []string
}

func main() {
	opts := parseFlags()
	logging.ConfigureRuntime()
	if err := run(opts); err != nil {
		fatalf("%v", err)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "pane config file (toml)")
	flag.StringVar(&opts.hub, "hub", "", "hub address, overrides config")
	flag.StringVar(&opts.window, "window", "", "window id, overrides config")
	flag.BoolVar(&opts.private, "private", false, "join as a private pane")
	flag.StringVar(&opts.token, "token", "", "session token, overrides config")
	flag.StringVar(&opts.op, "op", "", "operation: fetch | storage | broadcast | open | private | cache-clear | listen")
	flag.IntVar(&opts.focus, "focus", 0, "index of the url to focus (open)")
	flag.BoolVar(&opts.cache, "cache", false, "ask the hub to cache the response (fetch)")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-call timeout")
	flag.Parse()
	opts.args = flag.Args()
	return opts
}

func run(opts options) error {
	cfg := config.DefaultPane()
	if opts.configPath != "" {
		loaded, err := config.LoadPane(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.hub != "" {
		cfg.Hub = opts.hub
	}
	if opts.window != "" {
		cfg.Window = opts.window
	}
	if opts.private {
		cfg.Private = true
	}
	if opts.token != "" {
		cfg.Token = opts.token
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli, err := framed.Dial(ctx, cfg.Hub, framed.ClientConfig{
		Hello: wire.Hello{Window: cfg.Window, Private: cfg.Private, Token: cfg.Token},
	})
	if err != nil {
		return err
	}
	defer cli.Close()

	engine := bridge.NewEngine(cli.Table(), bridge.DefaultEngineConfig())
	if err := engine.Handlers().Register(hbroadcast.DeliverMsgType, deliver); err != nil {
		return err
	}
	if err := cli.Attach(ctx, engine.HandleEnvelope); err != nil {
		return err
	}

	switch opts.op {
	case "fetch":
		return doFetch(ctx, engine, opts)
	case "storage":
		return doStorage(ctx, engine, opts)
	case "broadcast":
		return doBroadcast(ctx, engine, opts)
	case "open":
		return doOpen(ctx, engine, opts)
	case "private":
		return doPrivate(ctx, engine, opts)
	case "cache-clear":
		return doCacheClear(ctx, engine, opts)
	case "listen":
		fmt.Printf("listening as %s\n", cli.Addr())
		select {
		case <-ctx.Done():
		case <-cli.Done():
		}
		return nil
	default:
		return fmt.Errorf("unknown op %q (supported: fetch, storage, broadcast, open, private, cache-clear, listen)", opts.op)
	}
}

// deliver answers relayed broadcasts so the sender's gather completes.
func deliver(ctx context.Context, req bridge.Request) (any, error) {
	fmt.Printf("deliver from %s: %s\n", req.From.Addr, string(req.Payload))
	return "ok", nil
}

func call(ctx context.Context, engine *bridge.Engine, timeout time.Duration, msgType string, payload any) (json.RawMessage, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return engine.Call(cctx, transport.HubAddr, msgType, payload)
}

func doFetch(ctx context.Context, engine *bridge.Engine, opts options) error {
	if len(opts.args) != 1 {
		return errors.New("fetch needs exactly one url")
	}
	res, err := call(ctx, engine, opts.timeout, hfetch.MsgType, hfetch.Request{
		Method:          "GET",
		URL:             opts.args[0],
		AggressiveCache: opts.cache,
	})
	if err != nil {
		return err
	}
	var out hfetch.Result
	if err := json.Unmarshal(res, &out); err != nil {
		return err
	}
	fmt.Printf("%d %s\n%s\n", out.Status, out.ResponseURL, out.ResponseText)
	return nil
}

func doStorage(ctx context.Context, engine *bridge.Engine, opts options) error {
	if len(opts.args) == 0 {
		return errors.New("storage needs an operation (get, set, getRaw, setRaw, has, remove, keys)")
	}
	payload := make([]any, 0, len(opts.args))
	payload = append(payload, opts.args[0])
	if len(opts.args) > 1 {
		payload = append(payload, opts.args[1])
	}
	if len(opts.args) > 2 {
		payload = append(payload, storageValue(opts.args[2]))
	}
	res, err := call(ctx, engine, opts.timeout, hstorage.MsgType, payload)
	if err != nil {
		return err
	}
	if len(res) > 0 {
		fmt.Println(string(res))
	}
	return nil
}

// storageValue passes valid JSON through verbatim; anything else is
// stored as a plain string.
func storageValue(raw string) any {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	return raw
}

func doBroadcast(ctx context.Context, engine *bridge.Engine, opts options) error {
	if len(opts.args) == 0 {
		return errors.New("broadcast needs a message")
	}
	res, err := call(ctx, engine, opts.timeout, hbroadcast.MsgType, strings.Join(opts.args, " "))
	if err != nil {
		return err
	}
	var replies []json.RawMessage
	if err := json.Unmarshal(res, &replies); err != nil {
		return err
	}
	fmt.Printf("broadcast reached %d panes\n", len(replies))
	for i, r := range replies {
		fmt.Printf("reply %d: %s\n", i, string(r))
	}
	return nil
}

func doOpen(ctx context.Context, engine *bridge.Engine, opts options) error {
	if len(opts.args) == 0 {
		return errors.New("open needs at least one url")
	}
	_, err := call(ctx, engine, opts.timeout, hpanes.MsgType, hpanes.OpenRequest{
		URLs:       opts.args,
		FocusIndex: opts.focus,
	})
	if err != nil {
		return err
	}
	fmt.Printf("opened %d panes\n", len(opts.args))
	return nil
}

func doPrivate(ctx context.Context, engine *bridge.Engine, opts options) error {
	res, err := call(ctx, engine, opts.timeout, hpanes.PrivateMsgType, nil)
	if err != nil {
		return err
	}
	fmt.Println(string(res))
	return nil
}

func doCacheClear(ctx context.Context, engine *bridge.Engine, opts options) error {
	if _, err := call(ctx, engine, opts.timeout, hfetch.AdminMsgType, hfetch.AdminRequest{Operation: "clear"}); err != nil {
		return err
	}
	fmt.Println("cache cleared")
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "panectl: "+format+"\n", args...)
	os.Exit(1)
}
