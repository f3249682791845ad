package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/matheus3301/wppsync/internal/client"
	"github.com/matheus3301/wppsync/internal/lock"
	"github.com/matheus3301/wppsync/internal/session"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	_ = godotenv.Load()

	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 60*time.Second, "deadline for unary commands")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "sessions" {
		cmdSessions(*jsonFlag)
		return
	}

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	c, err := client.New(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	out := printer{json: *jsonFlag}
	switch args[0] {
	case "auth":
		cmdAuth(c)
		return
	case "watch":
		cmdWatch(c, args[1:], out)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	var resp *structpb.Struct
	switch args[0] {
	case "status":
		resp, err = c.Status(ctx)
	case "ensure":
		resp, err = c.Ensure(ctx)
	case "drop":
		fs := flag.NewFlagSet("drop", flag.ExitOnError)
		schema := fs.Bool("schema", false, "also ask for schema regeneration")
		_ = fs.Parse(args[1:])
		resp, err = c.Drop(ctx, *schema)
	case "refresh":
		fs := flag.NewFlagSet("refresh", flag.ExitOnError)
		schema := fs.Bool("schema", false, "also ask for schema regeneration")
		_ = fs.Parse(args[1:])
		resp, err = c.Refresh(ctx, *schema)
	case "purge":
		resp, err = c.Purge(ctx)
	case "logout":
		resp, err = c.Logout(ctx)
	case "presence":
		if len(args) >= 2 {
			resp, err = c.GetPresence(ctx, args[1])
		} else {
			resp, err = c.ListPresence(ctx)
		}
	case "picture":
		fs := flag.NewFlagSet("picture", flag.ExitOnError)
		reload := fs.Bool("reload", false, "fetch again even when cached")
		wait := fs.Duration("wait", 0, "how long to wait for the URL (daemon default when 0)")
		_ = fs.Parse(args[1:])
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: wppsyncctl picture [--reload] [--wait 5s] <user-id>")
			os.Exit(1)
		}
		resp, err = c.GetProfilePicture(ctx, fs.Arg(0), wait.Milliseconds(), *reload)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
	out.print(os.Stdout, resp)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppsyncctl [--session <name>] [--json] [--timeout 60s] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show local data state and row counts")
	fmt.Fprintln(os.Stderr, "  ensure                      Load user, conversations and start message import")
	fmt.Fprintln(os.Stderr, "  drop [--schema]             Clear every local table")
	fmt.Fprintln(os.Stderr, "  refresh [--schema]          Drop, then ensure")
	fmt.Fprintln(os.Stderr, "  purge                       Delete the store file and recreate it")
	fmt.Fprintln(os.Stderr, "  logout                      Log out and drop local data")
	fmt.Fprintln(os.Stderr, "  auth                        Pair this device with a QR code")
	fmt.Fprintln(os.Stderr, "  presence [user-id]          Show presence of one or all users")
	fmt.Fprintln(os.Stderr, "  picture [flags] <user-id>   Show a profile picture URL")
	fmt.Fprintln(os.Stderr, "  watch [namespace]           Stream events (e.g. localdata., sync.)")
	fmt.Fprintln(os.Stderr, "  sessions                    List known sessions")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdAuth(c *client.Client) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	stream, err := c.StartAuth(ctx)
	if err != nil {
		fail(err)
	}
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			fail(err)
		}
		fields := evt.GetFields()
		switch fields["type"].GetStringValue() {
		case "qr_code":
			qr, err := renderQR(fields["qr_code"].GetStringValue())
			if err != nil {
				fail(err)
			}
			fmt.Print("\nScan with WhatsApp > Linked devices:\n\n" + qr)
		case "authenticated":
			fmt.Println("Authenticated.")
			return
		default:
			fmt.Fprintf(os.Stderr, "auth %s: %s\n", fields["type"].GetStringValue(), fields["message"].GetStringValue())
			os.Exit(1)
		}
	}
}

func cmdWatch(c *client.Client, args []string, out printer) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	namespace := ""
	if len(args) > 0 {
		namespace = args[0]
	}
	stream, err := c.WatchEvents(ctx, namespace)
	if err != nil {
		fail(err)
	}
	for {
		env, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			fail(err)
		}
		if out.json {
			out.print(os.Stdout, env)
			continue
		}
		fields := env.GetFields()
		at := time.UnixMilli(int64(fields["occurred_at_unix_ms"].GetNumberValue()))
		payload, _ := protojson.Marshal(fields["payload"])
		fmt.Printf("%s  %-40s %s\n", at.Format(time.TimeOnly), fields["kind"].GetStringValue(), payload)
	}
}

func cmdSessions(jsonOut bool) {
	entries, err := os.ReadDir(filepath.Join(session.BaseDir(), "sessions"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		fail(err)
	}
	list := []any{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		list = append(list, map[string]any{
			"name": e.Name(),
			"path": session.Dir(e.Name()),
			"pid":  lock.Holder(session.Dir(e.Name())),
		})
	}
	resp, err := structpb.NewStruct(map[string]any{"sessions": list})
	if err != nil {
		fail(err)
	}
	if jsonOut {
		printer{json: true}.print(os.Stdout, resp)
		return
	}
	if len(list) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, s := range resp.GetFields()["sessions"].GetListValue().GetValues() {
		f := s.GetStructValue().GetFields()
		running := "stopped"
		if pid := int(f["pid"].GetNumberValue()); pid > 0 {
			running = fmt.Sprintf("running, pid %d", pid)
		}
		fmt.Printf("%-20s %s (%s)\n", f["name"].GetStringValue(), f["path"].GetStringValue(), running)
	}
}

type printer struct {
	json bool
}

// print writes a response either as JSON or as sorted "key: value" lines.
func (p printer) print(w io.Writer, s *structpb.Struct) {
	if p.json {
		b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
		if err != nil {
			fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
			return
		}
		fmt.Fprintln(w, string(b))
		return
	}
	writeFields(w, "", s)
}

func writeFields(w io.Writer, indent string, s *structpb.Struct) {
	fields := s.GetFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		v := fields[k]
		if nested := v.GetStructValue(); nested != nil {
			fmt.Fprintf(w, "%s%s:\n", indent, k)
			writeFields(w, indent+"  ", nested)
			continue
		}
		b, _ := protojson.Marshal(v)
		fmt.Fprintf(w, "%s%s: %s\n", indent, k, b)
	}
}
