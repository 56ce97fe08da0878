package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/ema/internal/server"
	"github.com/haasonsaas/ema/pkg/models"
)

func buildReplCmd() *cobra.Command {
	var (
		userID         int64
		actorID        int64
		conversationID int64
	)
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Talk to one actor from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			srv, err := server.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Close(closeCtx)
			}()
			if err := srv.Start(ctx); err != nil {
				return err
			}

			worker, err := srv.GetActor(ctx, userID, actorID, conversationID)
			if err != nil {
				return err
			}
			events, cancelEvents := worker.Events().Chan(64)
			defer cancelEvents()

			out := cmd.OutOrStdout()
			go func() {
				for ev := range events {
					printActorEvent(out, ev)
				}
			}()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "you> ",
				InterruptPrompt: "^C",
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			fmt.Fprintln(out, "Type a message, or exit/quit to leave.")
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				text := strings.TrimSpace(line)
				if text == "" {
					continue
				}
				if text == "exit" || text == "quit" {
					return nil
				}
				if err := worker.Work(ctx, []models.Content{models.TextContent(text)}); err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
				}
			}
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "User id")
	cmd.Flags().Int64Var(&actorID, "actor", 1, "Actor id")
	cmd.Flags().Int64Var(&conversationID, "conversation", 1, "Conversation id")
	return cmd
}

func printActorEvent(out io.Writer, ev models.ActorEvent) {
	switch ev.Kind {
	case models.ActorEventMessage:
		fmt.Fprintf(out, "· %s\n", ev.Content)
	case models.ActorEventAgent:
		if ev.Agent == nil {
			return
		}
		switch ev.Agent.Name {
		case models.AgentEventEmaReplyReceived:
			reply := ev.Agent.Reply.Reply
			if reply.Expression != "" || reply.Action != "" {
				fmt.Fprintf(out, "ema> (%s/%s) %s\n", reply.Expression, reply.Action, reply.Response)
				return
			}
			fmt.Fprintf(out, "ema> %s\n", reply.Response)
		case models.AgentEventRunFinished:
			rf := ev.Agent.RunFinished
			if !rf.OK && rf.Msg != "" {
				fmt.Fprintf(out, "· run finished: %s\n", rf.Msg)
			}
		}
	}
}
