// Package server exposes a [filesystem.FileSystem] as a FUSE mount.
package server

import (
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/blobfs/config"
	"github.com/brettbedarf/blobfs/filesystem"
	"github.com/brettbedarf/blobfs/internal/util"
)

// Server mounts one filesystem. The mount root contains one directory per
// configured container.
type Server struct {
	fs     *filesystem.FileSystem
	cfg    *config.Config
	raw    *FuseRaw
	server *fuse.Server
}

// New creates a Server for fs.
func New(fs *filesystem.FileSystem) *Server {
	return &Server{
		fs:  fs,
		cfg: fs.Config(),
		raw: NewFuseRaw(fs),
	}
}

// Serve mounts and serves the filesystem at the given mountPoint. It returns
// once the mount is ready.
func (s *Server) Serve(mountPoint string) error {
	logger := util.GetLogger("Server.Serve")

	opts := s.cfg.MountOptions
	srv, err := fuse.NewServer(s.raw, mountPoint, &fuse.MountOptions{
		Name:               opts.Name,
		FsName:             opts.FsName,
		Debug:              opts.Debug || s.cfg.LogLvl == util.TraceLevel,
		Logger:             util.NewLogLogger("FuseServer", util.TraceLevel),
		DisableReadDirPlus: true,
	})
	if err != nil {
		logger.Error().Err(err).Str("mountPoint", mountPoint).Msg("Failed to mount")
		return err
	}
	s.server = srv

	go srv.Serve()
	if err := srv.WaitMount(); err != nil {
		return err
	}
	logger.Info().Str("mountPoint", mountPoint).Str("uri", s.fs.URI()).Msg("Mounted")
	return nil
}

// ServeAsync runs Serve in a goroutine and reports its result on the returned
// channel.
func (s *Server) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- s.Serve(mountPoint)
		close(done)
	}()

	return done
}

// Wait blocks until the filesystem is unmounted.
func (s *Server) Wait() {
	if s.server != nil {
		s.server.Wait()
	}
}

// Unmount cleanly unmounts the filesystem.
func (s *Server) Unmount() error {
	if s.server == nil {
		return nil
	}
	return s.server.Unmount()
}
