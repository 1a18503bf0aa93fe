package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/zremote/internal/client"
	"github.com/danmuck/zremote/internal/config"
	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
	"github.com/danmuck/zremote/internal/protocol/message"
)

const usage = `usage: zremotectl [-config path] [-address addr] <command> [flags] [args]

commands:
  put     [-encoding e] [-attachment s] <key> <value>
  delete  <key>
  get     [-params p] [-consolidation auto|none|monotonic|latest] [-payload s] <key>
  sub     [-count n] [-ring n] <key>
  decode  [-file path]   decode enveloped messages, one per line
  init    [-force] <path>  write a config template`

var errUsage = errors.New(usage)

type command func(ctx context.Context, cfg cliConfig, args []string, in io.Reader, out io.Writer) error

var commands = map[string]command{
	"put":    cmdPut,
	"delete": cmdDelete,
	"get":    cmdGet,
	"sub":    cmdSub,
	"decode": cmdDecode,
	"init":   cmdInit,
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("zremotectl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "client config path")
	address := fs.String("address", "", "gateway address, overrides the config")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w\n\n%s", err, usage)
	}
	if fs.NArg() == 0 {
		return errUsage
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		return fmt.Errorf("unknown command %q\n\n%s", fs.Arg(0), usage)
	}

	cfg := defaultCLIConfig()
	if *configPath != "" {
		loaded, err := loadCLIConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *address != "" {
		cfg.Address = *address
	}
	return cmd(ctx, cfg, fs.Args()[1:], in, out)
}

func connect(ctx context.Context, cfg cliConfig) (*client.Client, error) {
	c, err := client.Connect(ctx, cfg.Address, cfg.Session)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("address", cfg.Address).Str("session", c.SessionID().String()).Msg("connected")
	return c, nil
}

func parseKey(fs *flag.FlagSet, want int) ([]string, keyexpr.KeyExpr, error) {
	if fs.NArg() != want {
		return nil, keyexpr.KeyExpr{}, fmt.Errorf("%s: expected %d argument(s)\n\n%s", fs.Name(), want, usage)
	}
	key, err := keyexpr.New(fs.Arg(0))
	if err != nil {
		return nil, keyexpr.KeyExpr{}, err
	}
	return fs.Args(), key, nil
}

func cmdPut(ctx context.Context, cfg cliConfig, args []string, _ io.Reader, _ io.Writer) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	encoding := fs.String("encoding", "", "payload encoding")
	attachment := fs.String("attachment", "", "attachment text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest, key, err := parseKey(fs, 2)
	if err != nil {
		return err
	}
	opts := engine.PutOptions{}
	if *encoding != "" {
		opts.Encoding = protocol.Ptr(*encoding)
	}
	if *attachment != "" {
		opts.Attachment = []byte(*attachment)
	}
	c, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Put(ctx, key, []byte(rest[1]), opts)
}

func cmdDelete(ctx context.Context, cfg cliConfig, args []string, _ io.Reader, _ io.Writer) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, key, err := parseKey(fs, 1)
	if err != nil {
		return err
	}
	c, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Delete(ctx, key, engine.DeleteOptions{})
}

func parseConsolidation(s string) (*protocol.ConsolidationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return nil, nil
	case "auto":
		return protocol.Ptr(protocol.ConsolidationAuto), nil
	case "none":
		return protocol.Ptr(protocol.ConsolidationNone), nil
	case "monotonic":
		return protocol.Ptr(protocol.ConsolidationMonotonic), nil
	case "latest":
		return protocol.Ptr(protocol.ConsolidationLatest), nil
	default:
		return nil, fmt.Errorf("unknown consolidation %q", s)
	}
}

func cmdGet(ctx context.Context, cfg cliConfig, args []string, _ io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	params := fs.String("params", "", "query parameters")
	consolidation := fs.String("consolidation", "", "auto|none|monotonic|latest")
	payload := fs.String("payload", "", "query payload text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, key, err := parseKey(fs, 1)
	if err != nil {
		return err
	}
	mode, err := parseConsolidation(*consolidation)
	if err != nil {
		return err
	}
	opts := engine.GetOptions{Parameters: *params, Consolidation: mode}
	if *payload != "" {
		opts.Payload = []byte(*payload)
	}
	c, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	replies, err := c.Get(ctx, key, opts)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-replies:
			if !ok {
				return nil
			}
			printReply(out, r)
		}
	}
}

func cmdSub(ctx context.Context, cfg cliConfig, args []string, _ io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("sub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	count := fs.Int("count", 0, "exit after n samples, 0 runs until interrupted")
	ring := fs.Int("ring", 0, "use a ring buffer of n samples instead of a fifo")
	if err := fs.Parse(args); err != nil {
		return err
	}
	_, key, err := parseKey(fs, 1)
	if err != nil {
		return err
	}
	handler := client.DefaultHandler
	if *ring > 0 {
		handler = engine.Handler{Kind: engine.HandlerRing, Capacity: *ring}
	}
	c, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	sub, err := c.DeclareSubscriber(ctx, key, handler)
	if err != nil {
		return err
	}
	defer sub.Undeclare()
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return c.Err()
		case s, ok := <-sub.Samples():
			if !ok {
				return nil
			}
			printSample(out, s)
			seen++
			if *count > 0 && seen >= *count {
				return nil
			}
		}
	}
}

func cmdDecode(_ context.Context, _ cliConfig, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	file := fs.String("file", "", "read messages from a file instead of stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	failed := 0
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		m, err := message.Unmarshal([]byte(text))
		if err != nil {
			failed++
			fmt.Fprintf(out, "%d\terror\t%v\n", line, err)
			continue
		}
		canonical, err := message.Marshal(m)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%d\terror\t%v\n", line, err)
			continue
		}
		fmt.Fprintf(out, "%d\t%s\t%s\n", line, message.Describe(m), canonical)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d message(s) failed to decode", failed)
	}
	return nil
}

func cmdInit(_ context.Context, _ cliConfig, args []string, _ io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("init: expected a path\n\n%s", usage)
	}
	if err := config.WriteTemplate(fs.Arg(0), "client", *force); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote client config template to %s\n", fs.Arg(0))
	return nil
}

func printSample(out io.Writer, s engine.Sample) {
	fmt.Fprintf(out, "%s\t%s\t%s\t%q\n", s.Kind, s.KeyExpr, s.Encoding, s.Payload)
}

func printReply(out io.Writer, r engine.Reply) {
	switch {
	case r.Sample != nil:
		printSample(out, *r.Sample)
	case r.Err != nil:
		fmt.Fprintf(out, "Err\t%s\t%q\n", r.Err.Encoding, r.Err.Payload)
	}
}

