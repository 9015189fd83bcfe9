// Package resolve implements format resolution: deciding, from create/open
// parameters and (for open) a bounded content probe, which storage model a
// path belongs to.
//
// Precedence is fixed: explicit flags win over path shape, path shape wins
// over content probing, and the probe is consulted only for local paths. A
// flag that contradicts a probed on-disk format is a hard error, never a
// silent override, and an unmatched combination fails with
// UNRECOGNIZED_FORMAT rather than falling back to a default backend.
package resolve

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

// Leading-byte signatures of the on-disk formats. These are part of the
// compatibility surface and never change.
var (
	MagicClassic   = []byte{'A', 'R', 'R', 0x01}
	MagicClassic64 = []byte{'A', 'R', 'R', 0x02}
	MagicEnhanced  = []byte{0x89, 'A', 'R', 'F', '\r', '\n', 0x1a, '\n'}
)

// ProbeSize is the number of leading bytes a content probe may read.
const ProbeSize = 8

// RemoteSchemes lists the URL schemes served by the remote-protocol backends.
var RemoteSchemes = map[string]bool{
	"s3":    true,
	"http":  true,
	"https": true,
}

// ForCreate decides the storage model for a create call. The decision uses
// only the declared flags and the path's shape; the file content is never
// consulted, since the file does not yet exist or is being truncated.
func ForCreate(path string, params *types.OpenParams) (types.ModelID, error) {
	flags := params.CreateFlags

	if scheme, isURL := urlScheme(path); isURL {
		if !RemoteSchemes[scheme] {
			return types.ModelUnknown, errors.Newf(errors.ErrCodeUnrecognizedFormat,
				"unrecognized URL scheme %q in %q", scheme, path)
		}
		if flags.Has(types.CreateParallel) || params.UseParallel {
			return types.ModelUnknown, errors.Newf(errors.ErrCodeFlagContradiction,
				"parallel access is not supported for remote URL %q", path)
		}
		if flags.Has(types.CreateRemoteV4) {
			return types.ModelRemote4, nil
		}
		return types.ModelRemote2, nil
	}

	parallel := flags.Has(types.CreateParallel) || params.UseParallel
	if parallel {
		if flags.Has(types.CreateEnhanced) {
			return types.ModelUnknown, errors.NewError(errors.ErrCodeFlagContradiction,
				"parallel creation is only supported for the flat binary layout")
		}
		return types.ModelParallel, nil
	}

	if flags.Has(types.CreateEnhanced) {
		if flags.Has(types.Create64BitOffset) {
			return types.ModelUnknown, errors.NewError(errors.ErrCodeFlagContradiction,
				"enhanced format and 64-bit offsets cannot be combined")
		}
		return types.ModelEnhanced, nil
	}
	if flags.Has(types.Create64BitOffset) {
		return types.ModelClassic64, nil
	}
	return types.ModelClassic, nil
}

// ForOpen decides the storage model for an open call. URL-shaped paths are
// classified by scheme and flags; local paths are probed for a known leading
// signature, and any explicit format selector flag is cross-checked against
// the probe.
func ForOpen(path string, params *types.OpenParams) (types.ModelID, error) {
	flags := params.OpenFlags

	if scheme, isURL := urlScheme(path); isURL {
		if !RemoteSchemes[scheme] {
			return types.ModelUnknown, errors.Newf(errors.ErrCodeUnrecognizedFormat,
				"unrecognized URL scheme %q in %q", scheme, path)
		}
		if flags.Has(types.OpenParallel) || params.UseParallel {
			return types.ModelUnknown, errors.Newf(errors.ErrCodeFlagContradiction,
				"parallel access is not supported for remote URL %q", path)
		}
		if flags.Has(types.OpenRemoteV4) {
			return types.ModelRemote4, nil
		}
		return types.ModelRemote2, nil
	}

	if flags.Has(types.OpenEnhanced) && flags.Has(types.Open64BitOffset) {
		return types.ModelUnknown, errors.NewError(errors.ErrCodeFlagContradiction,
			"enhanced format and 64-bit offsets cannot be combined")
	}

	probed, err := Probe(path)
	if err != nil {
		return types.ModelUnknown, err
	}

	if flags.Has(types.OpenEnhanced) && probed != types.ModelEnhanced {
		return types.ModelUnknown, errors.Newf(errors.ErrCodeFlagContradiction,
			"enhanced format requested but %q probes as %s", path, probed)
	}
	if flags.Has(types.Open64BitOffset) && probed != types.ModelClassic64 {
		return types.ModelUnknown, errors.Newf(errors.ErrCodeFlagContradiction,
			"64-bit offset format requested but %q probes as %s", path, probed)
	}

	if flags.Has(types.OpenParallel) || params.UseParallel {
		if probed != types.ModelClassic && probed != types.ModelClassic64 {
			return types.ModelUnknown, errors.Newf(errors.ErrCodeFlagContradiction,
				"parallel access is only supported for the flat binary layout, %q probes as %s",
				path, probed)
		}
		return types.ModelParallel, nil
	}

	return probed, nil
}

// Probe reads at most ProbeSize leading bytes of a local file and classifies
// its on-disk format. The read is bounded and side-effect-free; no part of
// the file is opened beyond the signature.
func Probe(path string) (types.ModelID, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.ModelUnknown, errors.Newf(errors.ErrCodeStorageRead,
			"cannot probe %q", path).WithCause(err)
	}
	defer f.Close()

	buf := make([]byte, ProbeSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return types.ModelUnknown, errors.Newf(errors.ErrCodeStorageRead,
			"cannot probe %q", path).WithCause(err)
	}
	buf = buf[:n]

	switch {
	case bytes.HasPrefix(buf, MagicEnhanced):
		return types.ModelEnhanced, nil
	case bytes.HasPrefix(buf, MagicClassic):
		return types.ModelClassic, nil
	case bytes.HasPrefix(buf, MagicClassic64):
		return types.ModelClassic64, nil
	default:
		return types.ModelUnknown, errors.NewError(errors.ErrCodeUnrecognizedFormat,
			fmt.Sprintf("%q is not a recognized storage format", path))
	}
}

// urlScheme classifies a path as URL-shaped or local, returning the scheme
// for URL-shaped paths.
func urlScheme(path string) (string, bool) {
	if !strings.Contains(path, "://") {
		return "", false
	}
	parsed, err := url.Parse(path)
	if err != nil || parsed.Scheme == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme), true
}
