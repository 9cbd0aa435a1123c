package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ilyadubrovsky/bunnymq/internal/config"
	"github.com/ilyadubrovsky/bunnymq/pkg/bunnymq"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

type PutCommand struct {
	Queue    string `arg:"" help:"Queue name"`
	Body     string `arg:"" optional:"" help:"Message body, may be empty"`
	Stdin    bool   `name:"stdin" help:"Read the body from stdin instead"`
	Priority int    `name:"priority" short:"p" default:"5" help:"Priority from 1 (lowest) to 9 (highest)"`
}

type GetCommand struct {
	Queue   string `arg:"" help:"Queue name"`
	Requeue bool   `name:"requeue" help:"Put the message back instead of acknowledging it"`
}

type LenCommand struct {
	Queue string `arg:"" help:"Queue name"`
}

type ClearCommand struct {
	Queue string `arg:"" help:"Queue name"`
}

type DeleteCommand struct {
	Queue string `arg:"" help:"Queue name"`
}

type ConsumeCommand struct {
	Queue string `arg:"" help:"Queue name"`
}

type EnvCommand struct{}

func (cmd *PutCommand) Run(g *Globals) error {
	body, err := cmd.body(os.Stdin)
	if err != nil {
		return err
	}

	q, err := g.Queue(cmd.Queue)
	if err != nil {
		return err
	}
	defer q.Disconnect()

	return q.PutPriority(g.ctx, body, cmd.Priority)
}

var errBodyAndStdin = errors.New("a body argument cannot be combined with --stdin")

func (cmd *PutCommand) body(stdin io.Reader) ([]byte, error) {
	if !cmd.Stdin {
		return []byte(cmd.Body), nil
	}
	if cmd.Body != "" {
		return nil, errBodyAndStdin
	}

	body, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("io.ReadAll: %w", err)
	}

	return body, nil
}

func (cmd *GetCommand) Run(g *Globals) error {
	q, err := g.Queue(cmd.Queue)
	if err != nil {
		return err
	}
	defer q.Disconnect()

	body, err := q.Get(g.ctx)
	if err != nil {
		return err
	}

	if _, err = os.Stdout.Write(append(body, '\n')); err != nil {
		// leave the message on the broker
		return multierr.Append(err, q.Requeue(g.ctx))
	}

	if cmd.Requeue {
		return q.Requeue(g.ctx)
	}
	return q.TaskDone(g.ctx)
}

func (cmd *LenCommand) Run(g *Globals) error {
	q, err := g.Queue(cmd.Queue)
	if err != nil {
		return err
	}
	defer q.Disconnect()

	n, err := q.Len(g.ctx)
	if err != nil {
		return err
	}

	fmt.Println(n)
	return nil
}

func (cmd *ClearCommand) Run(g *Globals) error {
	q, err := g.Queue(cmd.Queue)
	if err != nil {
		return err
	}
	defer q.Disconnect()

	n, err := q.Clear(g.ctx)
	if err != nil {
		return err
	}

	fmt.Println(n)
	return nil
}

func (cmd *DeleteCommand) Run(g *Globals) error {
	q, err := g.Queue(cmd.Queue)
	if err != nil {
		return err
	}

	return q.Delete(g.ctx)
}

func (cmd *ConsumeCommand) Run(g *Globals) error {
	g.serveMetrics()

	ctx, cancel := context.WithCancelCause(g.ctx)
	defer cancel(nil)

	var q *bunnymq.Queue[[]byte]
	handler := func(ctx context.Context, body []byte) {
		if _, err := os.Stdout.Write(append(body, '\n')); err != nil {
			cancel(err)
			return
		}
		if err := q.TaskDone(ctx); err != nil {
			cancel(err)
		}
	}

	q, err := g.Queue(cmd.Queue, bunnymq.WithHandler[[]byte](handler))
	if err != nil {
		return err
	}
	defer q.Disconnect()

	log.Info().Str("queue", q.Name()).Msg("consuming")

	err = q.Consume(ctx)
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (cmd *EnvCommand) Run(*Globals) error {
	fmt.Println(config.Description())
	return nil
}
