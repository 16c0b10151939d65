// Command streamctl は生成ストリームの状態確認、バッファのリプレイ、終了待ちを行う運用ツールです。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/gnuflag"

	"github.com/yourusername/prepstream/internal/auth"
	"github.com/yourusername/prepstream/internal/client"
	"github.com/yourusername/prepstream/internal/streams"
)

const usage = `usage: streamctl [flags] <command> <interviewId> <module>

commands:
  status   現在の状態を表示します
  content  バッファ済みのイベントを1行ずつ表示します
  wait     終了状態になるまで待ち、completed ならドキュメントを表示します

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := gnuflag.NewFlagSet("streamctl", gnuflag.ContinueOnError)
	flags.SetOutput(stderr)

	var (
		baseURL  string
		session  string
		interval time.Duration
		timeout  time.Duration
	)
	flags.StringVar(&baseURL, "url", envOr("PREPSTREAM_URL", "http://localhost:8080"), "API サーバーの URL")
	flags.StringVar(&session, "session", os.Getenv("PREPSTREAM_SESSION"), "セッション Cookie の値")
	flags.DurationVar(&interval, "interval", client.DefaultPollInterval, "wait のポーリング間隔")
	flags.DurationVar(&timeout, "timeout", client.DefaultPollCeiling, "wait の上限時間")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(true, args); err != nil {
		return 2
	}
	rest := flags.Args()
	if len(rest) != 3 {
		flags.Usage()
		return 2
	}
	command, interviewID, module := rest[0], rest[1], rest[2]

	c := &client.Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{},
		Header:  http.Header{},
		Poller:  client.Poller{Interval: interval, Ceiling: timeout},
	}
	if session != "" {
		c.Header.Set("Cookie", auth.SessionCookieName+"="+session)
	}

	enc := json.NewEncoder(stdout)
	var err error
	switch command {
	case "status":
		view, statusErr := c.Status(ctx, interviewID, module)
		if err = statusErr; err == nil {
			err = enc.Encode(view)
		}
	case "content":
		err = printContent(ctx, c, enc, interviewID, module)
	case "wait":
		var resumed *client.Resumed
		resumed, err = c.Resume(ctx, interviewID, module)
		if resumed != nil {
			if encErr := enc.Encode(resumed); encErr != nil && err == nil {
				err = encErr
			}
			if err == nil && resumed.Status.Status == streams.StatusError {
				err = errors.New("generation finished with error")
			}
		}
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		flags.Usage()
		return 2
	}

	if err != nil {
		fmt.Fprintf(stderr, "streamctl %s: %v\n", command, err)
		return 1
	}
	return 0
}

func printContent(ctx context.Context, c *client.Client, enc *json.Encoder, interviewID, module string) error {
	events, status, err := c.Content(ctx, interviewID, module)
	if err != nil {
		return err
	}
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return enc.Encode(map[string]string{"status": string(status)})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
