package requests

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/brettbedarf/blobfs"
	"github.com/brettbedarf/blobfs/filesystem"
	"github.com/brettbedarf/blobfs/fspath"
	"github.com/brettbedarf/blobfs/internal/util"
)

// Result counts what [Apply] created.
type Result struct {
	Dirs    int
	Files   int
	Skipped int // files left alone because they already existed
}

// Apply creates the directories and then the files of nodes. A failing request
// does not stop the others; all failures are returned together.
func Apply(ctx context.Context, fs *filesystem.FileSystem, nodes *Nodes) (Result, error) {
	logger := util.GetLogger("Requests.Apply")

	var (
		res  Result
		errs *multierror.Error
	)
	for _, req := range nodes.Dirs {
		p, err := absolute(fs, req.Path)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		n, err := mkdirAll(ctx, fs, p)
		res.Dirs += n
		if err != nil {
			logger.Debug().Str("path", req.Path).Err(err).Msg("Failed to add directory request")
			errs = multierror.Append(errs, err)
		}
	}
	for _, req := range nodes.Files {
		created, err := applyFile(ctx, fs, req, &res)
		switch {
		case err != nil:
			logger.Debug().Str("path", req.Path).Err(err).Msg("Failed to add file request")
			errs = multierror.Append(errs, err)
		case created:
			res.Files++
		default:
			res.Skipped++
		}
	}

	logger.Info().Int("directories", res.Dirs).Int("files", res.Files).Int("skipped", res.Skipped).Msg("Added nodes to filesystem")
	return res, errs.ErrorOrNil()
}

// absolute resolves s against the default root and normalizes it.
func absolute(fs *filesystem.FileSystem, s string) (fspath.Path, error) {
	root, err := fs.GetPath(fs.DefaultRoot() + fspath.RootSuffix)
	if err != nil {
		return fspath.Path{}, err
	}
	p, err := root.ResolveString(s)
	if err != nil {
		return fspath.Path{}, err
	}
	return p.Normalize(), nil
}

// mkdirAll creates p and every missing ancestor. It returns how many markers
// were written.
func mkdirAll(ctx context.Context, fs *filesystem.FileSystem, p fspath.Path) (int, error) {
	var missing []fspath.Path
	for q := p; !q.IsRoot(); {
		st, err := fs.Status(ctx, q)
		if err != nil {
			return 0, err
		}
		if st.IsDirectory() {
			break
		}
		if st == filesystem.NotADirectory {
			return 0, &blobfs.PathError{Op: "mkdir", Path: q.String(), Err: blobfs.ErrNotDirectory}
		}
		missing = append(missing, q)
		parent, ok := q.Parent()
		if !ok {
			break
		}
		q = parent
	}

	created := 0
	for _, q := range slices.Backward(missing) {
		err := fs.CreateDirectory(ctx, q)
		if errors.Is(err, blobfs.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func applyFile(ctx context.Context, fs *filesystem.FileSystem, req *FileCreateRequest, res *Result) (bool, error) {
	logger := util.GetLogger("Requests.applyFile")

	p, err := absolute(fs, req.Path)
	if err != nil {
		return false, err
	}
	if parent, ok := p.Parent(); ok {
		n, err := mkdirAll(ctx, fs, parent)
		res.Dirs += n
		if err != nil {
			return false, err
		}
	}

	var srcErrs *multierror.Error
	for _, src := range req.Sources {
		rc, err := src.Source.Open(ctx)
		if err != nil {
			logger.Debug().Str("path", req.Path).Str("source", string(src.Type)).Err(err).Msg("Source unavailable, trying next")
			srcErrs = multierror.Append(srcErrs, fmt.Errorf("%s source: %w", src.Type, err))
			continue
		}
		created, err := write(ctx, fs, p, req, rc)
		rc.Close()
		return created, err
	}
	return false, fmt.Errorf("%s: no source could be opened: %w", req.Path, srcErrs.ErrorOrNil())
}

func write(ctx context.Context, fs *filesystem.FileSystem, p fspath.Path, req *FileCreateRequest, r io.Reader) (bool, error) {
	out, err := fs.NewOutputStream(ctx, p, filesystem.WriteOptions{
		CreateNew:   !req.Replace,
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
	})
	if errors.Is(err, blobfs.ErrAlreadyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Abort()
		return false, err
	}
	// a concurrent writer may have created the blob since the open check
	if err := out.Close(); err != nil {
		if errors.Is(err, blobfs.ErrConditionNotMet) || errors.Is(err, blobfs.ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
