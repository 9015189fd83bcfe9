// Package remote implements the remote-protocol storage backends. One
// dispatcher serves wire revision 2 (REMOTE2), another revision 4 (REMOTE4);
// both address virtual files behind s3:// and http(s):// URLs. S3 objects
// are readable and writable; plain HTTP sources are read-only.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/arraystore/arraystore/internal/backend/memfile"
	"github.com/arraystore/arraystore/internal/cache"
	"github.com/arraystore/arraystore/internal/circuit"
	"github.com/arraystore/arraystore/internal/dispatch"
	"github.com/arraystore/arraystore/internal/resolve"
	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/retry"
	"github.com/arraystore/arraystore/pkg/types"
)

// Options configures remote access shared by both wire revisions.
type Options struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool

	// Static credentials; when empty the default AWS credential chain is
	// used.
	AccessKeyID     string
	SecretAccessKey string

	HTTPTimeout time.Duration
	Retry       retry.Config

	// Payload cache for read-only opens; CacheSize zero disables it.
	CacheSize int64
	CacheTTL  time.Duration

	Breaker circuit.Config
}

// Dispatcher serves one remote wire revision.
type Dispatcher struct {
	model    types.ModelID
	opts     Options
	logger   *slog.Logger
	retryer  *retry.Retryer
	httpc    *http.Client
	payloads *cache.PayloadCache
	breaker  *circuit.Breaker

	s3once func(ctx context.Context) (*s3.Client, error)
}

// New creates a dispatcher for REMOTE2 or REMOTE4.
func New(model types.ModelID, opts Options, logger *slog.Logger) (*Dispatcher, error) {
	if model != types.ModelRemote2 && model != types.ModelRemote4 {
		return nil, fmt.Errorf("remote backend cannot serve storage model %s", model)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	breakerCfg := opts.Breaker
	if breakerCfg.IsEndpointFailure == nil {
		breakerCfg.IsEndpointFailure = isEndpointFailure
	}
	d := &Dispatcher{
		model:    model,
		opts:     opts,
		logger:   logger,
		retryer:  retry.New(opts.Retry),
		httpc:    &http.Client{Timeout: opts.HTTPTimeout},
		payloads: cache.New(cache.Config{MaxBytes: opts.CacheSize, TTL: opts.CacheTTL}),
		breaker:  circuit.New(model.String(), breakerCfg),
	}
	d.s3once = memoizeS3(d)
	return d, nil
}

// isEndpointFailure keeps missing objects and caller mistakes from tripping
// the breaker; only transport-level failures count.
func isEndpointFailure(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrCodeNetworkError, errors.ErrCodeConnectionFailed, errors.ErrCodeConnectionTimeout:
		return true
	default:
		return false
	}
}

// fileState is the backend-private block for an open remote virtual file.
type fileState struct {
	mem    *memfile.File
	scheme string
	bucket string
	key    string
	rawURL string
}

// Model implements dispatch.Dispatcher.
func (d *Dispatcher) Model() types.ModelID { return d.model }

// Create implements dispatch.Dispatcher. Only S3 targets are writable; a
// plain HTTP URL cannot host a new dataset.
func (d *Dispatcher) Create(ctx context.Context, path string, params *types.OpenParams, state *dispatch.State) error {
	fs, err := d.parse(path)
	if err != nil {
		return err
	}
	if fs.scheme != "s3" {
		return errors.Newf(errors.ErrCodeReadOnly,
			"%s URLs are read-only, cannot create %q", fs.scheme, path)
	}

	fs.mem = memfile.New()
	if err := d.upload(ctx, fs); err != nil {
		return err
	}
	state.Private = fs
	d.logger.Debug("created remote dataset", "url", path, "model", d.model.String())
	return nil
}

// Open implements dispatch.Dispatcher.
func (d *Dispatcher) Open(ctx context.Context, path string, params *types.OpenParams, state *dispatch.State) error {
	fs, err := d.parse(path)
	if err != nil {
		return err
	}
	if fs.scheme != "s3" && state.Writable {
		return errors.Newf(errors.ErrCodeReadOnly,
			"%s URLs are read-only, cannot open %q for writing", fs.scheme, path)
	}

	var data []byte
	if !state.Writable {
		data = d.payloads.Get(fs.rawURL)
	}
	if data == nil {
		err = d.breaker.Do(ctx, func(ctx context.Context) error {
			return d.retryer.DoWithContext(ctx, func(ctx context.Context) error {
				var fetchErr error
				data, fetchErr = d.fetch(ctx, fs)
				return fetchErr
			})
		})
		if err != nil {
			return err
		}
		if !state.Writable {
			d.payloads.Put(fs.rawURL, data)
		}
	}

	fs.mem, err = decodeAny(data)
	if err != nil {
		return err
	}
	state.Private = fs
	d.logger.Debug("opened remote dataset", "url", path, "model", d.model.String())
	return nil
}

// Close implements dispatch.Dispatcher.
func (d *Dispatcher) Close(state *dispatch.State) error {
	fs, err := d.file(state)
	if err != nil {
		return err
	}
	if state.Writable && fs.scheme == "s3" {
		if err := d.upload(context.Background(), fs); err != nil {
			return err
		}
	}
	state.Private = nil
	return nil
}

// Sync implements dispatch.Dispatcher.
func (d *Dispatcher) Sync(state *dispatch.State) error {
	fs, err := d.file(state)
	if err != nil {
		return err
	}
	if !state.Writable || fs.scheme != "s3" {
		return nil
	}
	return d.upload(context.Background(), fs)
}

// DefDim implements dispatch.Dispatcher.
func (d *Dispatcher) DefDim(state *dispatch.State, name string, size int64) (int, error) {
	fs, err := d.writableFile(state)
	if err != nil {
		return 0, err
	}
	return fs.mem.DefDim(name, size)
}

// DefVar implements dispatch.Dispatcher.
func (d *Dispatcher) DefVar(state *dispatch.State, name string, storage types.DataType, dimIDs []int) (int, error) {
	fs, err := d.writableFile(state)
	if err != nil {
		return 0, err
	}
	if err := d.checkType(storage); err != nil {
		return 0, err
	}
	return fs.mem.DefVar(name, storage, dimIDs)
}

// InqDim implements dispatch.Dispatcher.
func (d *Dispatcher) InqDim(state *dispatch.State, dimID int) (types.DimInfo, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.DimInfo{}, err
	}
	return fs.mem.InqDim(dimID)
}

// InqVar implements dispatch.Dispatcher.
func (d *Dispatcher) InqVar(state *dispatch.State, varID int) (types.VarInfo, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.VarInfo{}, err
	}
	return fs.mem.InqVar(varID)
}

// InqAtt implements dispatch.Dispatcher.
func (d *Dispatcher) InqAtt(state *dispatch.State, varID int, name string) (types.AttInfo, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.AttInfo{}, err
	}
	return fs.mem.InqAtt(varID, name)
}

// PutVara implements dispatch.Dispatcher.
func (d *Dispatcher) PutVara(state *dispatch.State, varID int, start, count []int64, values interface{}) error {
	fs, err := d.writableFile(state)
	if err != nil {
		return err
	}
	return fs.mem.PutVara(varID, start, count, values)
}

// GetVara implements dispatch.Dispatcher.
func (d *Dispatcher) GetVara(state *dispatch.State, varID int, start, count []int64) (interface{}, error) {
	fs, err := d.file(state)
	if err != nil {
		return nil, err
	}
	return fs.mem.GetVara(varID, start, count)
}

// PutAtt implements dispatch.Dispatcher.
func (d *Dispatcher) PutAtt(state *dispatch.State, varID int, name string, storage types.DataType, values interface{}) error {
	fs, err := d.writableFile(state)
	if err != nil {
		return err
	}
	if err := d.checkType(storage); err != nil {
		return err
	}
	return fs.mem.PutAtt(varID, name, storage, values)
}

// GetAtt implements dispatch.Dispatcher.
func (d *Dispatcher) GetAtt(state *dispatch.State, varID int, name string) (types.DataType, interface{}, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.TypeNone, nil, err
	}
	return fs.mem.GetAtt(varID, name)
}

// checkType mirrors the payload layout each wire revision carries: revision 2
// moves the flat 64-bit layout, revision 4 the enhanced container.
func (d *Dispatcher) checkType(t types.DataType) error {
	if d.model == types.ModelRemote4 {
		return nil
	}
	switch t.Normalize() {
	case types.TypeString, types.TypeUInt16, types.TypeUInt32:
		return errors.Newf(errors.ErrCodeIncompatibleType,
			"type %s is not representable in the %s payload", t, d.model)
	}
	return nil
}

// payloadMagic is the signature of the encoding this revision uploads.
func (d *Dispatcher) payloadMagic() []byte {
	if d.model == types.ModelRemote4 {
		return resolve.MagicEnhanced
	}
	return resolve.MagicClassic64
}

func (d *Dispatcher) parse(raw string) (*fileState, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "malformed URL %q", raw).WithCause(err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "s3":
		if u.Host == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidArgument,
				"S3 URL %q must include a bucket name", raw)
		}
		return &fileState{
			scheme: "s3",
			bucket: u.Host,
			key:    strings.TrimPrefix(u.Path, "/"),
			rawURL: raw,
		}, nil
	case "http", "https":
		return &fileState{scheme: scheme, rawURL: raw}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeUnrecognizedFormat,
			"unrecognized URL scheme %q in %q", scheme, raw)
	}
}

func (d *Dispatcher) fetch(ctx context.Context, fs *fileState) ([]byte, error) {
	if fs.scheme == "s3" {
		client, err := d.s3once(ctx)
		if err != nil {
			return nil, err
		}
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(fs.bucket),
			Key:    aws.String(fs.key),
		})
		if err != nil {
			return nil, errors.Newf(errors.ErrCodeNetworkError,
				"failed to fetch s3://%s/%s", fs.bucket, fs.key).WithCause(err)
		}
		defer out.Body.Close()
		data, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, errors.Newf(errors.ErrCodeNetworkError,
				"failed to read s3://%s/%s", fs.bucket, fs.key).WithCause(err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fs.rawURL, nil)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "malformed URL %q", fs.rawURL).WithCause(err)
	}
	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeNetworkError, "failed to fetch %q", fs.rawURL).WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		code := errors.ErrCodeStorageRead
		if resp.StatusCode >= 500 {
			code = errors.ErrCodeNetworkError
		}
		return nil, errors.Newf(code, "fetching %q returned HTTP %d", fs.rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeNetworkError, "failed to read %q", fs.rawURL).WithCause(err)
	}
	return data, nil
}

func (d *Dispatcher) upload(ctx context.Context, fs *fileState) error {
	data, err := fs.mem.Encode(d.payloadMagic())
	if err != nil {
		return errors.Newf(errors.ErrCodeStorageWrite, "cannot encode %q", fs.rawURL).WithCause(err)
	}
	client, err := d.s3once(ctx)
	if err != nil {
		return err
	}
	err = d.breaker.Do(ctx, func(ctx context.Context) error {
		return d.retryer.DoWithContext(ctx, func(ctx context.Context) error {
			_, err := client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(fs.bucket),
				Key:           aws.String(fs.key),
				Body:          bytes.NewReader(data),
				ContentLength: aws.Int64(int64(len(data))),
			})
			if err != nil {
				return errors.Newf(errors.ErrCodeNetworkError,
					"failed to store s3://%s/%s", fs.bucket, fs.key).WithCause(err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	// The object changed; a stale cached payload must not serve later opens.
	d.payloads.Invalidate(fs.rawURL)
	return nil
}

// decodeAny decodes a fetched payload under whichever known signature it
// carries; remote revisions interoperate on read.
func decodeAny(data []byte) (*memfile.File, error) {
	for _, magic := range [][]byte{resolve.MagicEnhanced, resolve.MagicClassic64, resolve.MagicClassic} {
		if mem, err := memfile.Decode(data, magic); err == nil {
			return mem, nil
		}
	}
	return nil, errors.NewError(errors.ErrCodeUnrecognizedFormat,
		"remote payload is not a recognized storage format")
}

func (d *Dispatcher) file(state *dispatch.State) (*fileState, error) {
	fs, ok := state.Private.(*fileState)
	if !ok || fs == nil {
		return nil, errors.Newf(errors.ErrCodeInternalError,
			"handle %d carries no remote state", state.Handle)
	}
	return fs, nil
}

func (d *Dispatcher) writableFile(state *dispatch.State) (*fileState, error) {
	fs, err := d.file(state)
	if err != nil {
		return nil, err
	}
	if !state.Writable {
		return nil, errors.Newf(errors.ErrCodeReadOnly, "dataset %q is open read-only", state.Path)
	}
	return fs, nil
}

// memoizeS3 builds the lazily-initialized S3 client shared by all handles of
// this dispatcher.
func memoizeS3(d *Dispatcher) func(ctx context.Context) (*s3.Client, error) {
	var (
		once   sync.Once
		client *s3.Client
		err    error
	)
	return func(ctx context.Context) (*s3.Client, error) {
		once.Do(func() {
			loadOpts := []func(*awsconfig.LoadOptions) error{
				awsconfig.WithRegion(d.opts.Region),
			}
			if d.opts.AccessKeyID != "" {
				loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
					credentials.NewStaticCredentialsProvider(d.opts.AccessKeyID, d.opts.SecretAccessKey, "")))
			}

			awsCfg, loadErr := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
			if loadErr != nil {
				err = errors.NewError(errors.ErrCodeConnectionFailed, "failed to load AWS config").WithCause(loadErr)
				return
			}

			client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
				if d.opts.Endpoint != "" {
					o.BaseEndpoint = aws.String(d.opts.Endpoint)
				}
				if d.opts.ForcePathStyle {
					o.UsePathStyle = true
				}
			})
		})
		return client, err
	}
}
