package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"signal-board/internal/domain"
	"signal-board/internal/logger"
)

// Line types of the NDJSON feed.
const (
	LineSignal = "signal"
	LinePrice  = "price"
)

// FileSource tails one NDJSON file per partition, "<dir>/<partition>.ndjson".
// Each line is a signal or price object with a "type" field. Offsets are kept
// in memory, so every line is returned once per process; a restarted process
// replays the file and relies on signal dedup.
type FileSource struct {
	dir string
	log *logger.Logger

	mu      sync.Mutex
	offsets map[string]int64
}

// NewFileSource creates a file source reading from dir.
func NewFileSource(dir string, log *logger.Logger) *FileSource {
	return &FileSource{
		dir:     dir,
		log:     logger.OrNop(log),
		offsets: make(map[string]int64),
	}
}

// Path returns the feed file of partition.
func (s *FileSource) Path(partition string) string {
	return filepath.Join(s.dir, partition+".ndjson")
}

// Fetch returns the complete lines appended since the previous call. A
// missing file yields an empty batch. Malformed lines are logged and skipped;
// a trailing line without newline is left for the next call.
func (s *FileSource) Fetch(ctx context.Context, partition string) (*domain.EventBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.Path(partition))
	if errors.Is(err, os.ErrNotExist) {
		return &domain.EventBatch{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()

	offset := s.offsets[partition]
	if info, err := f.Stat(); err == nil && info.Size() < offset {
		s.log.Warn("feed truncated, rereading", "partition", partition, "offset", offset, "size", info.Size())
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek feed: %w", err)
	}

	batch := &domain.EventBatch{}
	r := bufio.NewReader(f)
	lineNo := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read feed: %w", err)
		}
		offset += int64(len(line))
		lineNo++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := decodeLine(line, partition, batch); err != nil {
			s.log.Warn("skipping feed line", "partition", partition, "line", lineNo, "error", err)
		}
	}

	s.offsets[partition] = offset
	return batch, nil
}

func decodeLine(line []byte, partition string, batch *domain.EventBatch) error {
	var head struct {
		Type      string `json:"type"`
		Partition string `json:"partition"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return err
	}
	if head.Partition != "" && head.Partition != partition {
		return fmt.Errorf("line for partition %q", head.Partition)
	}

	switch head.Type {
	case LineSignal:
		var ev domain.SignalEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		ev.Partition = partition
		batch.Signals = append(batch.Signals, ev)
	case LinePrice:
		var u domain.PriceUpdate
		if err := json.Unmarshal(line, &u); err != nil {
			return err
		}
		u.Partition = partition
		batch.Prices = append(batch.Prices, u)
	default:
		return fmt.Errorf("unknown line type %q", head.Type)
	}
	return nil
}
