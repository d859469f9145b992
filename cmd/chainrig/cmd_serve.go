package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chainrig/internal/audio"
	"chainrig/internal/chain"
	"chainrig/internal/clock"
	"chainrig/internal/config"
	"chainrig/internal/journal"
	"chainrig/internal/logging"
	"chainrig/internal/metrics"
	"chainrig/internal/preset"
	"chainrig/internal/router"
	"chainrig/internal/session"
	"chainrig/internal/status"
	"chainrig/internal/transport"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gopxl/beep"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	serveConsole bool
	serveTUI     bool
	serveNoAudio bool
)

// serveCmd runs the switcher
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chain switcher",
	Long: `Starts the audio engine, loads presets and listens for commands over OSC.

With --console, commands can also be typed on stdin ("setNext A").
With --tui, a terminal display shows the current and next chain;
keys: s switch now, b switch on next beat, c cancel pending switch, q quit.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveConsole, "console", false, "Read commands from stdin")
	serveCmd.Flags().BoolVar(&serveTUI, "tui", false, "Show the terminal display")
	serveCmd.Flags().BoolVar(&serveNoAudio, "no-audio", false, "Build chains without opening the speaker")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveConsole && serveTUI {
		return errors.New("--console and --tui both need the terminal; pick one")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootLog := logging.For(logger, logging.CategoryBoot)
	bus := transport.NewLocal(logging.For(logger, logging.CategoryTransport))

	// Audio
	engine := audio.NewEngine(beep.SampleRate(cfg.Audio.SampleRate),
		audio.WithLogger(logging.For(logger, logging.CategoryAudio)))
	if cfg.Audio.Enabled && !serveNoAudio {
		if err := engine.Open(cfg.GetAudioBuffer()); err != nil {
			bootLog.Warn("audio output unavailable, continuing silent", zap.Error(err))
		} else {
			defer engine.Close()
		}
	}

	// Beat clock
	beat, closeBeat, err := openBeatClock(cfg)
	if err != nil {
		return err
	}
	defer closeBeat()

	// Observers
	var sess *session.Session
	m := metrics.New(func() int {
		if sess == nil {
			return 0
		}
		return sess.Registry.Len()
	})
	opts := []session.Option{
		session.WithEngine(engine),
		session.WithBeatClock(beat),
		session.WithLogger(logger),
		session.WithSink(status.NewLog(logging.For(logger, logging.CategoryStatus))),
		session.WithSwitchObserver(m.ObserveSwitch),
		session.WithDispatchObserver(m.ObserveCommand),
		session.WithArmObserver(m.ObserveArm),
	}

	var j *journal.Journal
	if cfg.Journal.Path != "" {
		j, err = journal.Open(ctx, cfg.Journal.Path,
			journal.WithLogger(logging.For(logger, logging.CategoryJournal)))
		if err != nil {
			return err
		}
		defer j.Close()
		opts = append(opts, session.WithSwitchObserver(j.Observe))
	}

	var program *tea.Program
	var programSink *status.ProgramSink
	var events chan string
	if serveTUI {
		events = make(chan string, 16)
		program = tea.NewProgram(newTUIModel(func() *session.Session { return sess }), tea.WithContext(ctx))
		programSink = status.NewProgramSink(program)
		opts = append(opts,
			session.WithSink(programSink),
			session.WithDispatchObserver(func(k router.Kind, o router.Outcome) {
				select {
				case events <- k.String() + ": " + o.String():
				default:
				}
			}))
	} else {
		opts = append(opts, session.WithSink(status.NewLine(os.Stdout, status.DefaultStyles())))
	}

	sess, err = session.New(bus, session.Config{
		Namespace:    cfg.Namespace,
		DefaultSlots: cfg.Chains.DefaultSlots,
		MinDelay:     cfg.GetMinDelay(),
	}, opts...)
	if err != nil {
		return err
	}
	defer sess.Close()

	// Presets
	watcher := preset.NewWatcher(cfg.Presets.Dir, sess.Registry,
		preset.WithDebounce(cfg.GetPresetDebounce()),
		preset.WithWatcherLogger(logging.For(logger, logging.CategoryPreset)))
	res, err := watcher.Reload()
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		bootLog.Warn("some presets were not applied", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.OSC.Addr != "" {
		oscServer := transport.NewOSCServer(cfg.OSC.Addr, bus, logging.For(logger, logging.CategoryTransport))
		g.Go(func() error { return oscServer.Serve(gctx) })
	}
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Addr, logging.For(logger, logging.CategoryMetrics)) })
	}
	if j != nil {
		g.Go(func() error { return j.Run(gctx) })
	}
	if cfg.Presets.Watch {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	if serveConsole {
		console := transport.NewConsole(cfg.Namespace, bus, logging.For(logger, logging.CategoryTransport))
		// stdin reads cannot be interrupted; the reader is abandoned on shutdown.
		go func() {
			if err := console.Run(gctx, os.Stdin); err != nil {
				bootLog.Warn("console stopped", zap.Error(err))
			}
		}()
	}

	if program != nil {
		g.Go(func() error { return programSink.Run(gctx) })
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case e := <-events:
					program.Send(status.EventMsg(e))
				}
			}
		})
		g.Go(func() error {
			_, err := program.Run()
			stop()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	}

	bootLog.Info("serving",
		zap.String("namespace", cfg.Namespace),
		zap.String("osc", cfg.OSC.Addr),
		zap.Int("chains", sess.Registry.Len()))

	<-gctx.Done()
	stop()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	bootLog.Info("shutting down")
	return nil
}

func newTUIModel(current func() *session.Session) status.Model {
	withSession := func(fn func(*session.Session)) func() {
		return func() {
			if s := current(); s != nil {
				fn(s)
			}
		}
	}
	return status.NewModel("chainrig",
		status.WithChains(func() []chain.Status {
			if s := current(); s != nil {
				return s.Registry.Status()
			}
			return nil
		}),
		status.WithKeyAction(status.KeyAction{
			Key: "s", Label: "switch now",
			Run: withSession(func(s *session.Session) { s.Controller.SwitchNow() }),
		}),
		status.WithKeyAction(status.KeyAction{
			Key: "b", Label: "switch on beat",
			Run: withSession(func(s *session.Session) { s.Scheduler.SwitchOnDefaultBeat(1) }),
		}),
		status.WithKeyAction(status.KeyAction{
			Key: "c", Label: "cancel pending",
			Run: withSession(func(s *session.Session) { s.Scheduler.Cancel() }),
		}),
	)
}

// openBeatClock returns the configured beat clock and its cleanup.
func openBeatClock(cfg *config.Config) (clock.Beat, func(), error) {
	log := logging.For(logger, logging.CategoryClock)
	if !cfg.IsMIDIClock() {
		log.Info("tempo clock", zap.Float64("bpm", cfg.Clock.BPM))
		return clock.NewTempo(clock.System{}, cfg.Clock.BPM), func() {}, nil
	}

	mc := clock.NewMIDI(log)
	closeDriver, err := listenMIDI(mc, cfg.Clock.MIDIPort, log)
	if err != nil {
		return nil, nil, err
	}
	return mc, func() {
		if err := mc.Close(); err != nil {
			log.Warn("closing midi port", zap.Error(err))
		}
		closeDriver()
	}, nil
}
