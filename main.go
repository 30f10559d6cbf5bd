package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"

	"memeMe/composer"
	"memeMe/editor"
	"memeMe/library"
	"memeMe/matrixdisplay"
	"memeMe/picker"
	"memeMe/server"
	"memeMe/share"
)

const (
	shutdownTimeout = 10 * time.Second
	sessionIdle     = 30 * time.Minute
	reapInterval    = time.Minute
)

const usage = `usage: memeMe [-config path] [-debug] <command> [flags]

commands:
  compose -image <path|url> [-top text] [-bottom text] [-share]
  edit    -image <path|url>
  serve
  list
  show    -id <meme id>
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "memeMe: %v\n", err)
		os.Exit(1)
	}
}

// app carries what every command shares.
type app struct {
	cfg    Config
	logger *zap.Logger
	in     io.Reader
	out    io.Writer
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	global := flag.NewFlagSet("memeMe", flag.ContinueOnError)
	global.SetOutput(out)
	global.Usage = func() { fmt.Fprint(out, usage) }
	configPath := global.String("config", defaultConfigPath, "path to a .toml, .yaml or .json config file")
	debug := global.Bool("debug", false, "development logging")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *debug {
		cfg.Log.Development = true
	}

	logger, err := newLogger(cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	a := &app{cfg: cfg, logger: logger, in: in, out: out}
	command, rest := global.Arg(0), global.Args()[1:]
	switch command {
	case "compose":
		return a.compose(ctx, rest)
	case "edit":
		return a.edit(ctx, rest)
	case "serve":
		return a.serve(ctx, rest)
	case "list":
		return a.list(ctx, rest)
	case "show":
		return a.show(ctx, rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (a *app) openLibrary() (*library.Library, error) {
	return library.Open(a.cfg.LibraryDir, a.cfg.Database, a.logger.Named("library"))
}

// buildSink assembles the share targets from the config. The returned close
// func releases the LED panel, if one was opened.
func (a *app) buildSink() (share.Sink, func()) {
	var sinks share.Multi
	closeFn := func() {}

	if a.cfg.OutboxDir != "" {
		sinks = append(sinks, &share.DirectorySink{Dir: a.cfg.OutboxDir, Logger: a.logger.Named("outbox")})
	}
	if a.cfg.Matrix.Enabled {
		controller, err := matrixdisplay.NewController(a.cfg.Matrix.Brightness)
		if err != nil {
			a.logger.Warn("led matrix unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, &share.MatrixSink{Display: controller})
			closeFn = func() {
				if err := controller.Close(); err != nil {
					a.logger.Warn("close led matrix", zap.Error(err))
				}
			}
		}
	}

	if len(sinks) == 0 {
		return nil, closeFn
	}
	return sinks, closeFn
}

func pickImage(ctx context.Context, location string) (composer.Option, error) {
	if location == "" {
		return nil, errors.New("-image is required")
	}
	src, err := picker.ForLocation(location)
	if err != nil {
		return nil, err
	}
	img, err := picker.PickOne(ctx, src)
	if err != nil {
		return nil, err
	}
	return func(c *composer.Composer) { c.SelectImage(img) }, nil
}

func (a *app) compose(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compose", flag.ContinueOnError)
	fs.SetOutput(a.out)
	location := fs.String("image", "", "image path or http(s) URL")
	top := fs.String("top", "", "top caption")
	bottom := fs.String("bottom", "", "bottom caption")
	shareNow := fs.Bool("share", false, "share without asking")
	if err := fs.Parse(args); err != nil {
		return err
	}

	selectImage, err := pickImage(ctx, *location)
	if err != nil {
		return err
	}
	lib, err := a.openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	c := composer.New(composer.WithLibrary(lib), composer.WithStyle(a.cfg.Style()))
	selectImage(c)

	// Captions left off the command line keep their placeholder text.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "top":
			c.SetTopText(*top)
		case "bottom":
			c.SetBottomText(*bottom)
		}
	})

	sink, closeSink := a.buildSink()
	defer closeSink()

	presenter := share.Never()
	switch {
	case sink == nil:
	case *shareNow:
		presenter = share.Always(sink)
	default:
		presenter = &share.Prompt{In: a.in, Out: a.out, Sink: sink}
	}

	meme, outcome, err := share.Flow(ctx, c, presenter)
	if err != nil && meme.ID == "" {
		return err
	}
	fmt.Fprintf(a.out, "%s %s\n", meme.ID, outcome)
	return err
}

func (a *app) edit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	fs.SetOutput(a.out)
	location := fs.String("image", "", "image path or http(s) URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	selectImage, err := pickImage(ctx, *location)
	if err != nil {
		return err
	}
	lib, err := a.openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	c := composer.New(composer.WithLibrary(lib), composer.WithStyle(a.cfg.Style()))
	selectImage(c)

	sink, closeSink := a.buildSink()
	defer closeSink()

	final, err := tea.NewProgram(editor.New(ctx, c, sink), tea.WithContext(ctx)).Run()
	if err != nil {
		return fmt.Errorf("run editor: %w", err)
	}
	m, ok := final.(editor.Model)
	if !ok {
		return nil
	}
	if meme, outcome, saved := m.Result(); saved {
		fmt.Fprintf(a.out, "%s %s\n", meme.ID, outcome)
	}
	return m.Err()
}

func (a *app) serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(a.out)
	listen := fs.String("listen", a.cfg.Listen, "address to listen on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lib, err := a.openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	sink, closeSink := a.buildSink()
	defer closeSink()

	srv := server.New(server.Options{
		Library: lib,
		Sink:    sink,
		Style:   a.cfg.Style(),
		Logger:  a.logger.Named("http"),
		Metrics: server.NewMetrics("mememe"),
	})
	go srv.RunReaper(ctx, reapInterval, sessionIdle)

	if a.cfg.InboxDir != "" {
		go a.watchInbox(ctx, srv)
	}

	httpServer := &http.Server{
		Addr:              *listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", zap.String("addr", *listen))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

// watchInbox opens a session for every photo dropped into the inbox.
func (a *app) watchInbox(ctx context.Context, srv *server.Server) {
	inbox := &picker.InboxSource{Dir: a.cfg.InboxDir, Logger: a.logger.Named("inbox")}
	if !inbox.Available() {
		a.logger.Warn("inbox directory missing", zap.String("dir", a.cfg.InboxDir))
		return
	}
	err := inbox.Watch(ctx, func(img image.Image) {
		id := srv.OpenWithImage(img)
		a.logger.Info("session opened from inbox", zap.String("session_id", id))
	})
	if err != nil {
		a.logger.Error("watch inbox", zap.Error(err))
	}
}

func (a *app) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(a.out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	lib, err := a.openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	records, err := lib.List(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.out, "No memes saved yet.")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID,
			rec.CreatedAt.Local().Format(time.DateTime),
			fmt.Sprintf("%dx%d", rec.Width, rec.Height),
			rec.TopText,
			rec.BottomText,
		})
	}
	_, err = fmt.Fprintln(a.out, libraryTable(rows).Render())
	return err
}

func libraryTable(rows [][]string) *table.Table {
	styles := editor.DefaultStyles()
	header := styles.Prompt.Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.Muted).
		Headers("ID", "CREATED", "SIZE", "TOP", "BOTTOM").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
}

func (a *app) show(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(a.out)
	id := fs.String("id", "", "id of a saved meme")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}

	lib, err := a.openLibrary()
	if err != nil {
		return err
	}
	defer lib.Close()

	img, err := lib.Image(ctx, *id)
	if err != nil {
		return err
	}

	controller, err := matrixdisplay.NewController(a.cfg.Matrix.Brightness)
	if err != nil {
		return fmt.Errorf("open led matrix: %w", err)
	}
	defer controller.Close()

	if err := controller.Show(matrixdisplay.Fit(img)); err != nil {
		return fmt.Errorf("show meme: %w", err)
	}
	a.logger.Info("meme on display", zap.String("meme_id", *id))
	return nil
}
