// Command classboard runs the classroom messaging client, or the dev
// server, from the terminal.
//
//	classboard serve
//	classboard teacher -code 123456 -name "Kim"
//	classboard student -code 123456 -name "Lee"
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"classboard/internal/app"
	"classboard/internal/config"
	"classboard/internal/devserver"
	"classboard/internal/logger"
	"classboard/internal/roster"
	"classboard/internal/session"
	"classboard/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, cfg, os.Args[2:])
	case "teacher":
		err = runTeacher(ctx, cfg, os.Args[2:])
	case "student":
		err = runStudent(ctx, cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: classboard <serve|teacher|student> [flags]")
}

func runServe(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", cfg.Server.Addr, "listen address")
	code := fs.String("code", "", "pre-register a teacher code")
	name := fs.String("name", "", "display name for the pre-registered code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Server.Addr = *addr
	log := logger.Init(cfg.Debug)
	srv := devserver.New(cfg, log)
	if *code != "" {
		srv.RegisterTeacher(*code, *name)
	}
	return srv.ListenAndServe(ctx)
}

func runTeacher(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("teacher", flag.ExitOnError)
	code := fs.String("code", "", "teacher code")
	name := fs.String("name", "", "teacher display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := app.NewTeacherClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Teacher.Connect(ctx, types.Identity{
		TeacherCode: *code,
		TeacherName: *name,
	})
	if err != nil {
		if result.Reason != "" {
			return fmt.Errorf("join rejected: %s", result.Reason)
		}
		return err
	}
	client.Log.Info("joined", "students", len(result.Roster))

	return teacherLoop(ctx, client)
}

func teacherLoop(ctx context.Context, client *app.Client) error {
	t := client.Teacher
	fmt.Println("commands: send <text> | to <name> <text> | list | inbox | sent | toggle | kick <socket-id> | delete <id> | quit")

	lines := readLines(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
			var err error
			switch cmd {
			case "":
			case "send":
				err = t.Send(roster.Selection{Mode: roster.SelectAll}, rest)
			case "to":
				name, body, _ := strings.Cut(rest, " ")
				err = sendToName(t, name, body)
			case "list":
				for _, e := range t.Roster() {
					fmt.Printf("  %s  %s\n", e.SocketID, e.StudentName)
				}
			case "inbox":
				for _, m := range t.Inbox() {
					fmt.Printf("  [%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Sender, m.Body)
				}
			case "sent":
				for _, e := range t.SentLog() {
					fmt.Printf("  %s  %s: %s\n", e.ID, e.Label, e.Body)
				}
			case "toggle":
				err = t.ToggleReceive()
			case "kick":
				err = t.Kick(strings.TrimSpace(rest))
			case "delete":
				err = t.DeleteSent(types.ID(strings.TrimSpace(rest)))
			case "quit":
				t.Disconnect()
				return nil
			default:
				fmt.Println("unknown command:", cmd)
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
}

func sendToName(t *session.Teacher, name, body string) error {
	for _, e := range t.Roster() {
		if e.StudentName == name {
			return t.Send(roster.Selection{
				Mode:      roster.SelectSubset,
				SocketIDs: []string{e.SocketID},
			}, body)
		}
	}
	return fmt.Errorf("no student named %q", name)
}

func runStudent(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("student", flag.ExitOnError)
	code := fs.String("code", "", "teacher code")
	name := fs.String("name", "", "student display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := app.NewStudentClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	identity := types.Identity{TeacherCode: *code, StudentName: *name}
	if *code == "" && *name == "" {
		// Resume the previous session when no identity is given.
		stored, ok, err := session.LoadStoredIdentity(client.Store)
		if err != nil {
			return err
		}
		if ok {
			identity = stored
		}
	}

	result, err := client.Student.Connect(ctx, identity)
	if err != nil {
		if result.Reason != "" {
			return fmt.Errorf("join rejected: %s", result.Reason)
		}
		return err
	}
	client.Log.Info("joined", "teacher", result.TeacherName)

	return studentLoop(ctx, client)
}

func studentLoop(ctx context.Context, client *app.Client) error {
	s := client.Student
	fmt.Println("commands: reply <text> | list | refresh | delete <id> | clear | quit")

	lines := readLines(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
			var err error
			switch cmd {
			case "":
			case "reply":
				err = s.SendReply(rest)
			case "list":
				for _, m := range client.Cache.Messages() {
					mark := " "
					if !m.IsRead {
						mark = "*"
					}
					fmt.Printf(" %s[%s] %s: %s\n", mark, m.Timestamp.Format("15:04:05"), m.Sender, m.Body)
				}
			case "refresh":
				err = s.RequestHistory()
			case "delete":
				err = s.DeleteMessage(types.ID(strings.TrimSpace(rest)))
			case "clear":
				err = s.ClearMessages()
			case "quit":
				s.Disconnect()
				return nil
			default:
				fmt.Println("unknown command:", cmd)
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}
	}
}

// readLines feeds stdin lines to the command loops without blocking
// shutdown on a pending read.
func readLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
