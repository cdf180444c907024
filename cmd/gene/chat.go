package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/gene-chat/internal/chat"
	"github.com/ashureev/gene-chat/internal/config"
	"github.com/ashureev/gene-chat/internal/provider"
	"github.com/ashureev/gene-chat/internal/session"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const cliUserID = "cli"

func newChatCmd() *cobra.Command {
	var enhance bool
	var exportDir string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Long: `Start an interactive chat session. Lines starting with / are commands;
type /help to list them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Error("Failed to load configuration", "error", err)
				return err
			}
			logger := slog.Default()

			p, providerName, closeProvider, err := newProvider(cfg.Provider, logger)
			if err != nil {
				return err
			}
			defer closeProvider()

			convLog, err := chat.NewConversationLogger(chat.ConversationLogConfig{
				Enabled:       cfg.ConversationLog.Enabled,
				Dir:           cfg.ConversationLog.Dir,
				GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
				GlobalPath:    cfg.ConversationLog.GlobalPath,
				QueueSize:     cfg.ConversationLog.QueueSize,
			}, logger)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := convLog.Close(); closeErr != nil {
					slog.Error("Failed to close conversation logger", "error", closeErr)
				}
			}()

			svc, err := chat.NewService(p, chat.ServiceConfig{
				ProviderName: providerName,
				Window:       cfg.MemoryWindow,
				Logger:       logger,
				Log:          convLog,
			})
			if err != nil {
				return err
			}

			entry := chat.NewEntry(cliUserID, uuid.NewString(), session.New(session.WithModel(session.Model(cfg.DefaultModel))))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := newREPL(svc, entry, cmd.InOrStdin(), cmd.OutOrStdout())
			r.prompt = term.IsTerminal(int(os.Stdin.Fd()))
			r.enhance = enhance
			r.exportDir = exportDir
			return r.run(ctx)
		},
	}

	cmd.Flags().BoolVar(&enhance, "enhance", false, "start with query enhancement on")
	cmd.Flags().StringVar(&exportDir, "export-dir", ".", "directory for /export files")
	return cmd
}

// repl is the terminal chat loop.
type repl struct {
	svc   *chat.Service
	entry *chat.Entry
	in    io.Reader
	out   io.Writer

	prompt    bool
	enhance   bool
	exportDir string
	now       func() time.Time
}

func newREPL(svc *chat.Service, entry *chat.Entry, in io.Reader, out io.Writer) *repl {
	return &repl{
		svc:       svc,
		entry:     entry,
		in:        in,
		out:       out,
		exportDir: ".",
		now:       time.Now,
	}
}

var errQuit = errors.New("quit")

func (r *repl) run(ctx context.Context) error {
	r.printf("Gene chat. Type /help for commands, /quit to leave.\n")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		if r.prompt {
			r.printf("> ")
		}

		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			err := r.command(line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				r.printf("error: %v\n", err)
			}
			continue
		}
		r.send(ctx, line)
	}
}

func (r *repl) send(ctx context.Context, text string) {
	msg, err := r.svc.Send(ctx, r.entry, chat.Turn{
		Text:    text,
		Enhance: r.enhance,
		Channel: chat.ChannelCLI,
	})
	if err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) {
			r.printf("provider error: %s\n", pe.Message)
			return
		}
		r.printf("error: %v\n", err)
		return
	}
	r.printf("\n%s\n\n", msg.Content)
}

func (r *repl) command(line string) error {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "quit", "exit":
		return errQuit
	case "help":
		r.help()
		return nil
	case "domain":
		return r.setting(arg, session.Options().Domains,
			func(st *session.State) string { return st.Domain().Label() },
			func(st *session.State) error {
				d, err := session.ParseDomain(arg)
				if err != nil {
					return err
				}
				return st.SetDomain(d)
			})
	case "persona":
		return r.setting(arg, session.Options().Personas,
			func(st *session.State) string { return st.Persona().Label() },
			func(st *session.State) error {
				p, err := session.ParsePersona(arg)
				if err != nil {
					return err
				}
				return st.SetPersona(p)
			})
	case "style":
		return r.setting(arg, session.Options().Styles,
			func(st *session.State) string { return st.Style().Label() },
			func(st *session.State) error {
				s, err := session.ParseStyle(arg)
				if err != nil {
					return err
				}
				return st.SetStyle(s)
			})
	case "model":
		return r.setting(arg, session.Options().Models,
			func(st *session.State) string { return string(st.Model()) },
			func(st *session.State) error {
				m, err := session.ParseModel(arg)
				if err != nil {
					return err
				}
				return st.SetModel(m)
			})
	case "tools":
		return r.setting(arg, session.Options().Tools, toolLabels, func(st *session.State) error {
			tools, err := parseTools(arg)
			if err != nil {
				return err
			}
			return st.SetTools(tools)
		})
	case "history":
		r.entry.View(func(st *session.State) { r.printMessages(st.History()) })
		return nil
	case "search":
		r.entry.View(func(st *session.State) { r.printMessages(st.Search(arg)) })
		return nil
	case "export":
		return r.export(arg)
	case "enhance":
		r.enhance = !r.enhance
		r.printf("query enhancement %s\n", onOff(r.enhance))
		return nil
	case "rate":
		score, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("rating must be a number between %d and %d", session.MinRating, session.MaxRating)
		}
		if err := r.entry.Update(func(st *session.State) error { return st.Rate(score) }); err != nil {
			return err
		}
		r.printf("thanks, rated %d/%d\n", score, session.MaxRating)
		return nil
	case "stats":
		r.entry.View(func(st *session.State) { r.printStats(st.Analytics()) })
		return nil
	default:
		return fmt.Errorf("unknown command /%s, type /help", name)
	}
}

// setting prints the current value and choices when arg is empty, otherwise applies it.
func (r *repl) setting(arg string, choices []session.Choice, current func(*session.State) string, apply func(*session.State) error) error {
	if arg == "" {
		r.entry.View(func(st *session.State) { r.printf("current: %s\n", current(st)) })
		for _, c := range choices {
			r.printf("  %-20s %s\n", c.ID, c.Label)
		}
		return nil
	}
	var now string
	err := r.entry.Update(func(st *session.State) error {
		if err := apply(st); err != nil {
			return err
		}
		now = current(st)
		return nil
	})
	if err != nil {
		return err
	}
	r.printf("set to %s\n", now)
	return nil
}

// parseTools reads a comma separated tool list; "none" clears it.
func parseTools(arg string) ([]session.Tool, error) {
	if strings.EqualFold(arg, "none") {
		return nil, nil
	}
	var tools []session.Tool
	for _, part := range strings.Split(arg, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := session.ParseTool(part)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func toolLabels(st *session.State) string {
	tools := st.Tools()
	if len(tools) == 0 {
		return "none"
	}
	labels := make([]string, len(tools))
	for i, t := range tools {
		labels[i] = t.Label()
	}
	return strings.Join(labels, ", ")
}

func (r *repl) export(path string) error {
	var data []byte
	err := r.entry.Update(func(st *session.State) error {
		var err error
		data, err = st.ExportJSON()
		return err
	})
	if err != nil {
		return err
	}
	if path == "" {
		path = filepath.Join(r.exportDir, session.ExportFileName(r.now()))
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	r.printf("exported to %s\n", path)
	return nil
}

func (r *repl) printMessages(msgs []session.Message) {
	if len(msgs) == 0 {
		r.printf("(no messages)\n")
		return
	}
	for _, m := range msgs {
		r.printf("[%s %s] %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
	}
}

func (r *repl) printStats(a session.Analytics) {
	r.printf("messages: %d\n", a.Total)
	roles := make([]string, 0, len(a.ByRole))
	for role := range a.ByRole {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)
	for _, role := range roles {
		rs := a.ByRole[session.Role(role)]
		r.printf("  %-10s %d messages, %.1f chars on average\n", role, rs.Count, rs.AverageLength)
	}
	if a.Ratings > 0 {
		r.printf("ratings: %d, average %.2f\n", a.Ratings, a.AverageRating)
	}
}

func (r *repl) help() {
	r.printf(`Commands:
  /domain [name]       show or set the knowledge domain
  /persona [name]      show or set the persona
  /style [name]        show or set the response style
  /model [name]        show or set the model
  /tools [a,b|none]    show or set the active tools
  /history             print the conversation
  /search <term>       print messages containing term
  /export [path]       write the conversation as JSON
  /enhance             toggle query enhancement
  /rate <1-5>          rate the conversation
  /stats               show conversation analytics
  /quit                leave
`)
}

func (r *repl) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
