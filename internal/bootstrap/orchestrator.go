// Package bootstrap brings the bot up in a fixed order and fails fast when a
// required subsystem cannot start.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/latoulicious/spoticord/internal/config"
	"github.com/latoulicious/spoticord/internal/gateway"
	"github.com/latoulicious/spoticord/internal/music"
	"github.com/latoulicious/spoticord/pkg/logging"
	"github.com/latoulicious/spoticord/pkg/metrics"
)

// ErrBootstrapFailed wraps every fatal startup error returned by Run.
var ErrBootstrapFailed = errors.New("bootstrap failed")

var errAudioClosed = errors.New("audio error channel closed before ready")

// ExitCodeFailure is passed to the exit hook on a fatal error.
const ExitCodeFailure = 1

type Store interface {
	Initialize(ctx context.Context) error
	Close() error
}

type Linker interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type Gateway interface {
	Login(ctx context.Context) error
	Ready() <-chan struct{}
	Identity() gateway.Identity
	Close() error
}

// AudioNodes is the audio node cluster. Errors delivers failures both
// before and after Ready.
type AudioNodes interface {
	music.NodeSender
	Connect(ctx context.Context)
	Ready() <-chan struct{}
	Errors() <-chan error
	Close() error
}

type MusicService interface {
	Initialize(nodes music.NodeSender, botUserID string) error
}

type SpotifyHelper interface {
	Initialize(ctx context.Context) error
}

// Components are the subsystems built from a loaded configuration.
type Components struct {
	Store   Store
	Linker  Linker
	Gateway Gateway
	Music   MusicService
	Spotify SpotifyHelper

	// NewAudio builds the node manager once the gateway identity is known.
	NewAudio func(id gateway.Identity) (AudioNodes, error)
	// RegisterCommands runs before the gateway login.
	RegisterCommands func() error
	// OnOperational runs once FULLY_OPERATIONAL is reached.
	OnOperational func(ctx context.Context)
}

// Options wires an Orchestrator.
type Options struct {
	LoadConfig func() (*config.Manager, error)
	Build      func(cfg *config.Manager) (*Components, error)
	// Exit terminates the process; tests substitute a recorder.
	Exit func(code int)
	Log  logging.Logger
}

// Orchestrator drives INIT through FULLY_OPERATIONAL.
type Orchestrator struct {
	opts Options
	log  logging.Logger

	mu          sync.Mutex
	state       State
	transitions []State

	cfg           *config.Manager
	comps         *Components
	audio         AudioNodes
	gatewayOpened bool
}

func New(opts Options) *Orchestrator {
	log := opts.Log
	if log == nil {
		log = logging.NullLogger()
	}
	return &Orchestrator{
		opts:        opts,
		log:         log.With(logging.Component("bootstrap")),
		state:       StateInit,
		transitions: []State{StateInit},
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transitions returns every state entered so far, in order.
func (o *Orchestrator) Transitions() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.transitions...)
}

func (o *Orchestrator) enter(s State) {
	o.mu.Lock()
	o.state = s
	o.transitions = append(o.transitions, s)
	o.mu.Unlock()

	metrics.BootstrapStage.Set(float64(s))
	o.log.Info("bootstrap state", logging.String("state", s.String()))
}

// fail is the single fatal path: log, close the gateway if it was opened,
// enter FAILED and call the exit hook.
func (o *Orchestrator) fail(stage string, err error) error {
	o.log.Error("fatal bootstrap error", logging.String("stage", stage), logging.Error(err))

	if o.audio != nil {
		o.audio.Close()
	}

	o.mu.Lock()
	opened := o.gatewayOpened
	o.gatewayOpened = false
	o.mu.Unlock()
	if opened && o.comps != nil && o.comps.Gateway != nil {
		if cerr := o.comps.Gateway.Close(); cerr != nil {
			o.log.Warn("failed to close gateway", logging.Error(cerr))
		}
	}

	o.enter(StateFailed)
	if o.opts.Exit != nil {
		o.opts.Exit(ExitCodeFailure)
	}
	return fmt.Errorf("%w: %s: %w", ErrBootstrapFailed, stage, err)
}

// stageContext bounds a blocking stage by the configured bootstrap timeout.
func (o *Orchestrator) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg != nil && o.cfg.BootstrapTimeout() > 0 {
		return context.WithTimeout(ctx, o.cfg.BootstrapTimeout())
	}
	return context.WithCancel(ctx)
}

// Run boots every subsystem and then blocks, logging non-fatal audio errors,
// until ctx ends. Fatal errors call the exit hook and are returned wrapped in
// ErrBootstrapFailed. Cancelling ctx during startup returns ctx.Err().
func (o *Orchestrator) Run(ctx context.Context) error {
	cfg, err := o.opts.LoadConfig()
	if err != nil {
		return o.fail("config", err)
	}
	o.cfg = cfg
	o.enter(StateConfigLoaded)

	comps, err := o.opts.Build(cfg)
	if err != nil {
		return o.fail("build", err)
	}
	o.comps = comps

	if comps.RegisterCommands != nil {
		if err := comps.RegisterCommands(); err != nil {
			return o.fail("commands", err)
		}
	}

	if err := o.step(ctx, comps.Store.Initialize); err != nil {
		return o.abort(ctx, "store", err)
	}
	o.enter(StateStoreReady)

	if err := o.step(ctx, comps.Linker.Initialize); err != nil {
		return o.abort(ctx, "linker", err)
	}
	o.enter(StateLinkerReady)

	o.enter(StateGatewayConnecting)
	o.mu.Lock()
	o.gatewayOpened = true
	o.mu.Unlock()
	if err := o.step(ctx, comps.Gateway.Login); err != nil {
		return o.abort(ctx, "gateway login", err)
	}
	if err := o.wait(ctx, comps.Gateway.Ready()); err != nil {
		return o.abort(ctx, "gateway ready", err)
	}
	o.enter(StateGatewayReady)

	identity := comps.Gateway.Identity()
	audio, err := comps.NewAudio(identity)
	if err != nil {
		return o.fail("audio", err)
	}
	o.audio = audio
	audio.Connect(ctx)

	if err := o.awaitAudio(ctx, audio); err != nil {
		return o.abort(ctx, "audio", err)
	}
	o.enter(StateAudioReady)

	if err := comps.Music.Initialize(audio, identity.UserID); err != nil {
		return o.fail("music", err)
	}
	if err := o.step(ctx, comps.Spotify.Initialize); err != nil {
		return o.abort(ctx, "spotify", err)
	}
	o.enter(StateFullyOperational)

	if comps.OnOperational != nil {
		comps.OnOperational(ctx)
	}

	o.drainAudioErrors(ctx, audio)
	return nil
}

// abort reports a cancelled run without calling the exit hook.
func (o *Orchestrator) abort(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return o.fail(stage, err)
}

func (o *Orchestrator) step(ctx context.Context, fn func(context.Context) error) error {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()
	return fn(stageCtx)
}

func (o *Orchestrator) wait(ctx context.Context, ready <-chan struct{}) error {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()
	select {
	case <-ready:
		return nil
	case <-stageCtx.Done():
		return stageCtx.Err()
	}
}

// awaitAudio waits for the first of audio readiness or an audio error.
func (o *Orchestrator) awaitAudio(ctx context.Context, audio AudioNodes) error {
	stageCtx, cancel := o.stageContext(ctx)
	defer cancel()

	for {
		select {
		case <-audio.Ready():
			return nil
		case err, ok := <-audio.Errors():
			if !ok {
				return errAudioClosed
			}
			// Ready and an error can both be pending; readiness wins.
			select {
			case <-audio.Ready():
				o.log.Warn("audio error after ready, continuing", logging.Error(err))
				return nil
			default:
			}
			if o.audioErrorIsFatal() {
				return err
			}
			o.log.Warn("audio error", logging.Error(err))
		case <-stageCtx.Done():
			return stageCtx.Err()
		}
	}
}

// audioErrorIsFatal: audio errors end the process only before AUDIO_READY.
func (o *Orchestrator) audioErrorIsFatal() bool {
	s := o.State()
	return s < StateAudioReady || s == StateFailed
}

func (o *Orchestrator) drainAudioErrors(ctx context.Context, audio AudioNodes) {
	errs := audio.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			o.log.Warn("audio error after ready, continuing", logging.Error(err))
		}
	}
}

// Shutdown releases subsystems in reverse start order.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	var errs []error
	if o.audio != nil {
		errs = append(errs, o.audio.Close())
	}
	if o.comps == nil {
		return errors.Join(errs...)
	}

	o.mu.Lock()
	opened := o.gatewayOpened
	o.gatewayOpened = false
	o.mu.Unlock()
	if opened {
		errs = append(errs, o.comps.Gateway.Close())
	}

	deadline, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	errs = append(errs, o.comps.Linker.Shutdown(deadline))
	errs = append(errs, o.comps.Store.Close())

	o.log.Info("shutdown complete")
	return errors.Join(errs...)
}
