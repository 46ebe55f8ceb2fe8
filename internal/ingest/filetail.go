package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"signalwatch/internal/config"
	"signalwatch/internal/logging"
)

// StartFileTail follows newline-delimited JSON files, one Message per line.
func StartFileTail(ctx context.Context, cfg *config.Manager, sink Sink, logger *slog.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		logger.Info("file tail ingest disabled")
		return
	}
	for _, path := range current.Files {
		logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		go tailFile(ctx, path, current.StartAtEnd, sink, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, sink Sink, logger *slog.Logger) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			if file != nil {
				_ = file.Close()
			}
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				logger.Warn("tail open failed", "path", path, "err", err)
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		var partial strings.Builder
		for {
			chunk, err := reader.ReadString('\n')
			partial.WriteString(chunk)
			offset += int64(len(chunk))
			if err != nil {
				if err == io.EOF {
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						// Truncated or rotated; reopen from the start.
						_ = file.Close()
						file = nil
						startAtEnd = false
						break
					}
					continue
				}
				logger.Warn("tail read error", "path", path, "err", err)
				_ = file.Close()
				file = nil
				break
			}
			line := strings.TrimSpace(partial.String())
			partial.Reset()
			if line == "" {
				continue
			}
			if _, err := Deliver(ctx, sink, []byte(line)); err != nil {
				logger.Warn("tail line rejected", "path", path, "err", err)
			}
		}
	}
}
