// Package store is the public entry point of ArrayStore: a single logical
// API for creating and opening array-dataset files, reading and writing
// typed array slices, and reading and writing attributes, served by
// whichever storage backend the format resolver selects.
package store

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/arraystore/arraystore/internal/backend/local"
	"github.com/arraystore/arraystore/internal/backend/parallel"
	"github.com/arraystore/arraystore/internal/backend/remote"
	"github.com/arraystore/arraystore/internal/coerce"
	"github.com/arraystore/arraystore/internal/config"
	"github.com/arraystore/arraystore/internal/dispatch"
	"github.com/arraystore/arraystore/internal/handle"
	"github.com/arraystore/arraystore/internal/metrics"
	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

// Options configures a Library.
type Options struct {
	// ConfigFile is an optional YAML configuration file path.
	ConfigFile string

	// Logger overrides the default stderr logger.
	Logger *slog.Logger
}

// CreateOptions carries the optional creation parameters beyond path and
// flags. Zero values fall back to the configured defaults.
type CreateOptions struct {
	InitialSize   int64
	BasePE        int
	ChunkSizeHint int64
	UseParallel   bool
	Params        map[string]interface{}
}

// OpenOptions carries the optional open parameters beyond path and flags.
type OpenOptions struct {
	BasePE        int
	ChunkSizeHint int64
	UseParallel   bool
	Params        map[string]interface{}
}

// Library binds the format resolver, backend registry, handle manager and
// metrics collector into one dispatching instance.
type Library struct {
	cfg      *config.Configuration
	logger   *slog.Logger
	registry *dispatch.Registry
	handles  *handle.Manager
	metrics  *metrics.Collector
}

// New creates a Library with all built-in backends registered.
func New(opts *Options) (*Library, error) {
	if opts == nil {
		opts = &Options{}
	}

	cfg := config.NewDefault()
	if opts.ConfigFile != "" {
		if err := cfg.LoadFromFile(opts.ConfigFile); err != nil {
			return nil, errors.NewError(errors.ErrCodeConfigLoad, "cannot load configuration").WithCause(err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigLoad, "cannot load environment overrides").WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigValidation, err.Error()).WithCause(err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slogLevel(cfg.Global.LogLevel),
		}))
	}

	registry := dispatch.NewRegistry()
	if err := registerBuiltins(registry, cfg, logger); err != nil {
		return nil, err
	}

	return &Library{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		handles:  handle.NewManager(registry, logger),
		metrics: metrics.NewCollector(metrics.Config{
			Enabled:   cfg.Metrics.Enabled,
			Namespace: cfg.Metrics.Namespace,
		}),
	}, nil
}

func registerBuiltins(registry *dispatch.Registry, cfg *config.Configuration, logger *slog.Logger) error {
	for _, model := range []types.ModelID{types.ModelClassic, types.ModelClassic64, types.ModelEnhanced} {
		d, err := local.New(model, logger)
		if err != nil {
			return errors.NewError(errors.ErrCodeInternalError, "cannot build local backend").WithCause(err)
		}
		registry.Register(d)
	}

	par, err := parallel.New(logger)
	if err != nil {
		return errors.NewError(errors.ErrCodeInternalError, "cannot build parallel backend").WithCause(err)
	}
	registry.Register(par)

	remoteOpts := remote.Options{
		Region:          cfg.Remote.Region,
		Endpoint:        cfg.Remote.Endpoint,
		ForcePathStyle:  cfg.Remote.ForcePathStyle,
		AccessKeyID:     cfg.Remote.AccessKeyID,
		SecretAccessKey: cfg.Remote.SecretAccessKey,
		HTTPTimeout:     cfg.Remote.HTTPTimeout,
		Retry:           cfg.Remote.Retry,
		CacheSize:       cfg.Remote.CacheSize,
		CacheTTL:        cfg.Remote.CacheTTL,
		Breaker:         cfg.Remote.Breaker,
	}
	for _, model := range []types.ModelID{types.ModelRemote2, types.ModelRemote4} {
		d, err := remote.New(model, remoteOpts, logger)
		if err != nil {
			return errors.NewError(errors.ErrCodeInternalError, "cannot build remote backend").WithCause(err)
		}
		registry.Register(d)
	}
	return nil
}

var (
	defaultOnce sync.Once
	defaultLib  *Library
	defaultErr  error
)

// Default returns the lazily-initialized process-wide Library.
func Default() (*Library, error) {
	defaultOnce.Do(func() {
		defaultLib, defaultErr = New(nil)
	})
	return defaultLib, defaultErr
}

// MetricsRegistry exposes the Prometheus registry for scraping, or nil when
// metrics are disabled.
func (l *Library) MetricsRegistry() *prometheus.Registry {
	return l.metrics.Registry()
}

// HandleStatus describes one open handle.
type HandleStatus struct {
	Handle   types.HandleID `json:"handle"`
	Model    string         `json:"model"`
	Path     string         `json:"path"`
	Writable bool           `json:"writable"`
}

// Handles returns a snapshot of all open handles, ordered by id.
func (l *Library) Handles() []HandleStatus {
	ids := l.handles.Handles()
	out := make([]HandleStatus, 0, len(ids))
	for _, id := range ids {
		if _, state, err := l.handles.Get(id); err == nil {
			out = append(out, HandleStatus{
				Handle:   id,
				Model:    state.Model.String(),
				Path:     state.Path,
				Writable: state.Writable,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Models returns the names of the storage models with a registered backend.
func (l *Library) Models() []string {
	models := l.registry.Models()
	out := make([]string, len(models))
	for i, m := range models {
		out[i] = m.String()
	}
	sort.Strings(out)
	return out
}

// Create creates a dataset file with default optional parameters.
func (l *Library) Create(path string, flags types.CreateFlags) (types.HandleID, error) {
	return l.CreateEx(context.Background(), path, flags, nil)
}

// CreateEx creates a dataset file: the storage model is resolved from flags
// and path shape, the matching backend is looked up, and a handle is
// registered only if the backend's create succeeds.
func (l *Library) CreateEx(ctx context.Context, path string, flags types.CreateFlags, opt *CreateOptions) (types.HandleID, error) {
	if path == "" {
		return 0, errors.NewError(errors.ErrCodeInvalidArgument, "empty path")
	}
	if opt == nil {
		opt = &CreateOptions{}
	}

	start := time.Now()
	h, err := l.handles.Create(ctx, path, &types.OpenParams{
		CreateFlags:   flags,
		InitialSize:   orDefault(opt.InitialSize, l.cfg.Defaults.InitialSize),
		BasePE:        opt.BasePE,
		ChunkSizeHint: orDefault(opt.ChunkSizeHint, l.cfg.Defaults.ChunkSizeHint),
		UseParallel:   opt.UseParallel,
		Params:        opt.Params,
	})
	l.metrics.RecordOperation("create", modelOf(l, h), time.Since(start), err)
	if err == nil {
		l.metrics.HandleOpened()
	}
	return h, err
}

// Open opens an existing dataset file with default optional parameters.
func (l *Library) Open(path string, flags types.OpenFlags) (types.HandleID, error) {
	return l.OpenEx(context.Background(), path, flags, nil)
}

// OpenEx opens an existing dataset file, probing local file content as
// needed to resolve the storage model.
func (l *Library) OpenEx(ctx context.Context, path string, flags types.OpenFlags, opt *OpenOptions) (types.HandleID, error) {
	if path == "" {
		return 0, errors.NewError(errors.ErrCodeInvalidArgument, "empty path")
	}
	if opt == nil {
		opt = &OpenOptions{}
	}

	start := time.Now()
	h, err := l.handles.Open(ctx, path, &types.OpenParams{
		OpenFlags:     flags,
		BasePE:        opt.BasePE,
		ChunkSizeHint: orDefault(opt.ChunkSizeHint, l.cfg.Defaults.ChunkSizeHint),
		UseParallel:   opt.UseParallel,
		Params:        opt.Params,
	})
	l.metrics.RecordOperation("open", modelOf(l, h), time.Since(start), err)
	if err == nil {
		l.metrics.HandleOpened()
	}
	return h, err
}

// Close flushes and closes a handle. If the backend's close fails the handle
// stays open and the close may be retried.
func (l *Library) Close(h types.HandleID) error {
	start := time.Now()
	model := modelOf(l, h)
	err := l.handles.Close(h)
	l.metrics.RecordOperation("close", model, time.Since(start), err)
	if err == nil {
		l.metrics.HandleClosed()
	}
	return err
}

// Sync flushes pending changes on a handle to durable storage.
func (l *Library) Sync(h types.HandleID) error {
	start := time.Now()
	err := l.handles.Sync(h)
	l.metrics.RecordOperation("sync", modelOf(l, h), time.Since(start), err)
	return err
}

// SyncAll flushes every open handle concurrently and returns the first
// failure, if any.
func (l *Library) SyncAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, h := range l.handles.Handles() {
		h := h
		g.Go(func() error {
			return l.Sync(h)
		})
	}
	return g.Wait()
}

// DefDim declares a dimension on a handle and returns its id.
func (l *Library) DefDim(h types.HandleID, name string, size int64) (int, error) {
	disp, state, err := l.handles.Get(h)
	if err != nil {
		return 0, err
	}
	if name == "" {
		return 0, errors.NewError(errors.ErrCodeInvalidArgument, "empty dimension name")
	}
	start := time.Now()
	id, err := disp.DefDim(state, name, size)
	l.metrics.RecordOperation("def_dim", state.Model.String(), time.Since(start), err)
	return id, wrap(state, "def_dim", err)
}

// DefVar declares a variable over previously declared dimensions and returns
// its id.
func (l *Library) DefVar(h types.HandleID, name string, storage types.DataType, dimIDs []int) (int, error) {
	disp, state, err := l.handles.Get(h)
	if err != nil {
		return 0, err
	}
	if name == "" {
		return 0, errors.NewError(errors.ErrCodeInvalidArgument, "empty variable name")
	}
	if !storage.Normalize().Valid() {
		return 0, errors.Newf(errors.ErrCodeInvalidArgument, "invalid storage type %d", storage)
	}
	start := time.Now()
	id, err := disp.DefVar(state, name, storage.Normalize(), dimIDs)
	l.metrics.RecordOperation("def_var", state.Model.String(), time.Since(start), err)
	return id, wrap(state, "def_var", err)
}

// InqDim returns dimension metadata.
func (l *Library) InqDim(h types.HandleID, dimID int) (types.DimInfo, error) {
	disp, state, err := l.handles.Get(h)
	if err != nil {
		return types.DimInfo{}, err
	}
	info, err := disp.InqDim(state, dimID)
	return info, wrap(state, "inq_dim", err)
}

// InqVar returns variable metadata, shape included.
func (l *Library) InqVar(h types.HandleID, varID int) (types.VarInfo, error) {
	disp, state, err := l.handles.Get(h)
	if err != nil {
		return types.VarInfo{}, err
	}
	info, err := disp.InqVar(state, varID)
	return info, wrap(state, "inq_var", err)
}

// InqAtt returns attribute metadata for a variable (GlobalVar addresses
// file-global attributes).
func (l *Library) InqAtt(h types.HandleID, varID int, name string) (types.AttInfo, error) {
	disp, state, err := l.handles.Get(h)
	if err != nil {
		return types.AttInfo{}, err
	}
	info, err := disp.InqAtt(state, varID, name)
	return info, wrap(state, "inq_att", err)
}

// PutVara writes a hyper-rectangular region of a variable from a caller
// buffer in memType; the buffer is coerced to the variable's storage type
// before it reaches the backend.
func (l *Library) PutVara(h types.HandleID, varID int, start, count []int64, values interface{}, memType types.DataType) error {
	disp, state, err := l.handles.Get(h)
	if err != nil {
		return err
	}
	if err := checkSlice(start, count, values); err != nil {
		return err
	}

	info, err := disp.InqVar(state, varID)
	if err != nil {
		return wrap(state, "put_vara", err)
	}
	coerced, err := coerce.Convert(values, memType, info.Type)
	if err != nil {
		return err
	}

	began := time.Now()
	err = disp.PutVara(state, varID, start, count, coerced)
	l.metrics.RecordOperation("put_vara", state.Model.String(), time.Since(began), err)
	return wrap(state, "put_vara", err)
}

// GetVara reads a hyper-rectangular region of a variable into a fresh buffer
// in memType.
func (l *Library) GetVara(h types.HandleID, varID int, start, count []int64, memType types.DataType) (interface{}, error) {
	disp, state, err := l.handles.Get(h)
	if err != nil {
		return nil, err
	}
	if len(start) != len(count) {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument,
			"start has rank %d, count has rank %d", len(start), len(count))
	}

	info, err := disp.InqVar(state, varID)
	if err != nil {
		return nil, wrap(state, "get_vara", err)
	}
	if !coerce.Compatible(info.Type, memType) {
		return nil, errors.Newf(errors.ErrCodeIncompatibleType,
			"no conversion from %s to %s", info.Type, memType)
	}

	began := time.Now()
	raw, err := disp.GetVara(state, varID, start, count)
	l.metrics.RecordOperation("get_vara", state.Model.String(), time.Since(began), err)
	if err != nil {
		return nil, wrap(state, "get_vara", err)
	}
	return coerce.Convert(raw, info.Type, memType)
}

// PutAtt writes an attribute from a caller buffer in memType, persisted with
// the given storage type.
func (l *Library) PutAtt(h types.HandleID, varID int, name string, storage types.DataType, values interface{}, memType types.DataType) error {
	disp, state, err := l.handles.Get(h)
	if err != nil {
		return err
	}
	if name == "" {
		return errors.NewError(errors.ErrCodeInvalidArgument, "empty attribute name")
	}
	if values == nil {
		return errors.NewError(errors.ErrCodeInvalidArgument, "nil value buffer")
	}

	coerced, err := coerce.Convert(values, memType, storage)
	if err != nil {
		return err
	}

	began := time.Now()
	err = disp.PutAtt(state, varID, name, storage.Normalize(), coerced)
	l.metrics.RecordOperation("put_att", state.Model.String(), time.Since(began), err)
	return wrap(state, "put_att", err)
}

// GetAtt reads an attribute into a fresh buffer in memType.
func (l *Library) GetAtt(h types.HandleID, varID int, name string, memType types.DataType) (interface{}, error) {
	disp, state, err := l.handles.Get(h)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "empty attribute name")
	}

	began := time.Now()
	storage, raw, err := disp.GetAtt(state, varID, name)
	l.metrics.RecordOperation("get_att", state.Model.String(), time.Since(began), err)
	if err != nil {
		return nil, wrap(state, "get_att", err)
	}
	return coerce.Convert(raw, storage, memType)
}

// checkSlice performs the core-side validation that keeps a faulty call from
// reaching a backend in an inconsistent way; shape validation itself remains
// the backend's responsibility.
func checkSlice(start, count []int64, values interface{}) error {
	if values == nil {
		return errors.NewError(errors.ErrCodeInvalidArgument, "nil value buffer")
	}
	if len(start) != len(count) {
		return errors.Newf(errors.ErrCodeInvalidArgument,
			"start has rank %d, count has rank %d", len(start), len(count))
	}
	for i := range count {
		if start[i] < 0 || count[i] < 0 {
			return errors.Newf(errors.ErrCodeInvalidArgument,
				"negative slice coordinate at dimension %d", i)
		}
	}
	return nil
}

func wrap(state *dispatch.State, op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WrapBackend(state.Model.String(), op, err)
}

func orDefault(v, def int64) int64 {
	if v > 0 {
		return v
	}
	return def
}

func modelOf(l *Library, h types.HandleID) string {
	if _, state, err := l.handles.Get(h); err == nil {
		return state.Model.String()
	}
	return "unresolved"
}

func slogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
