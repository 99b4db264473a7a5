package spill

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/stellamotors/telemetry-agent/internal/logging"
	"github.com/stellamotors/telemetry-agent/internal/metrics"
	"github.com/stellamotors/telemetry-agent/internal/tcpclient"
)

// rescanInterval bounds how long the Uploader waits for a file-available
// broadcast before re-scanning the directory itself, closing the race
// between a scan finding nothing and a rotation's broadcast landing
// before the next Wait() call.
const rescanInterval = time.Second

// Uploader is the Uploader worker of spec.md §4.4: it tails sealed
// spill files over a dedicated TCP client, deleting them on completion
// and persisting a resume pointer at shutdown. Grounded on the
// original firmware's ft_client.cxx (open_prev/open_next/send_msg).
type Uploader struct {
	dir         string
	client      *tcpclient.Client
	curFile     *CurrentFilePointer
	waitTimeout time.Duration
	pollTimeout time.Duration
	logger      *slog.Logger
}

// NewUploader constructs an Uploader. waitTimeout bounds the
// connected-wait inside each send attempt; pollTimeout bounds each
// individual write.
func NewUploader(dir string, client *tcpclient.Client, cur *CurrentFilePointer, waitTimeout, pollTimeout time.Duration) *Uploader {
	return &Uploader{
		dir:         dir,
		client:      client,
		curFile:     cur,
		waitTimeout: waitTimeout,
		pollTimeout: pollTimeout,
		logger:      logging.L().With("component", "uploader"),
	}
}

// Run drains spill files until ctx is cancelled and no further file is
// eligible, then persists (or clears) the resume pointer.
func (u *Uploader) Run(ctx context.Context) error {
	f, path, offset, err := u.openPrev()
	if err != nil {
		return err
	}

	var reader *bufio.Reader
	readOffset := offset
	lineStartOffset := offset
	var pendingLine string
	havePending := false

	if f != nil {
		reader = bufio.NewReader(f)
		u.logger.Info("resumed", "file", path, "offset", offset)
	}

	shutdown := func() error {
		var werr error
		if f != nil {
			if havePending {
				werr = WriteResumePointer(u.dir, path, lineStartOffset)
			} else {
				werr = WriteResumePointer(u.dir, path, readOffset)
			}
			_ = f.Close()
		} else {
			werr = ClearResumePointer(u.dir)
		}
		u.logger.Info("terminated")
		return werr
	}

	for {
		if f == nil {
			nf, npath, err := u.openNext(ctx)
			if err != nil {
				return shutdown()
			}
			f, path = nf, npath
			reader = bufio.NewReader(f)
			readOffset, lineStartOffset = 0, 0
			havePending = false
		}

		if !havePending {
			lineStartOffset = readOffset
			line, rerr := reader.ReadString('\n')
			if rerr != nil {
				if errors.Is(rerr, io.EOF) && line == "" {
					_ = f.Close()
					_ = os.Remove(path)
					metrics.IncSpillFilesUploaded()
					f = nil
					continue
				}
				if errors.Is(rerr, io.EOF) && line != "" {
					line += "\n" // reader stripped the missing trailing newline
				} else {
					u.logger.Error("read_failed", "file", path, "error", rerr)
					metrics.IncError(metrics.ErrSpillRead)
					_ = f.Close()
					f = nil
					continue
				}
			}
			readOffset += int64(len(line))
			pendingLine = line
			havePending = true
		}

		switch result := u.client.UploadSend(ctx, pendingLine, u.waitTimeout, u.pollTimeout); result {
		case tcpclient.Sent:
			metrics.IncLinesUploaded()
			havePending = false
		case tcpclient.Cancelled:
			return shutdown()
		case tcpclient.NoDataSent:
			// Stop draining this file for now; retry the same in-memory
			// line next iteration once the client is writable again.
			select {
			case <-ctx.Done():
				return shutdown()
			case <-time.After(20 * time.Millisecond):
			}
		}
	}
}

// openPrev implements spec.md §4.4's startup resume logic.
func (u *Uploader) openPrev() (*os.File, string, int64, error) {
	path, offset, ok, err := ReadResumePointer(u.dir)
	if err != nil {
		u.logger.Warn("resume_pointer_read_failed", "error", err)
	}
	if !ok {
		return nil, "", 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		u.logger.Warn("resume_file_missing", "file", path, "error", err)
		return nil, "", 0, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		_ = f.Close()
		u.logger.Warn("resume_seek_failed", "file", path, "error", err)
		return nil, "", 0, nil
	}
	return f, path, offset, nil
}

// openNext scans the spill directory for a sealed file, blocking until
// one is eligible or ctx is cancelled, per spec.md §4.4.
func (u *Uploader) openNext(ctx context.Context) (*os.File, string, error) {
	for {
		name, err := u.nextEligibleFile()
		if err != nil {
			return nil, "", err
		}
		if name != "" {
			path := filepath.Join(u.dir, name)
			f, err := os.Open(path)
			if err != nil {
				u.logger.Warn("open_next_failed", "file", path, "error", err)
				continue
			}
			u.logger.Info("opened_next", "file", path)
			return f, path, nil
		}
		select {
		case <-u.curFile.Wait():
		case <-time.After(rescanInterval):
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
}

// nextEligibleFile returns the first regular file in the spill directory
// that is neither last.txt nor the Spill Writer's current file, or ""
// if there is none. Candidates are taken in os.ReadDir order (sorted by
// name); no upload order across files is promised to the collector.
func (u *Uploader) nextEligibleFile() (string, error) {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		if os.IsNotExist(err) {
			// The Spill Writer hasn't created the directory yet; treat
			// this the same as "nothing eligible" rather than fatal.
			return "", nil
		}
		return "", err
	}
	current := filepath.Base(u.curFile.Get())
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if name == resumeFileName || name == current {
			continue
		}
		return name, nil
	}
	return "", nil
}
