// Package replay feeds recorded stream files into an analyzer session.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"npuprof/internal/model"
	"npuprof/pkg/constants"
	"npuprof/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize splits files at sizes that rarely align with records
const DefaultChunkSize = 4093

// Processor consumes chunks
type Processor interface {
	Process(ctx context.Context, chunk *model.Chunk) error
}

// Options controls a replay
type Options struct {
	ChunkSize int  // bytes per chunk
	Parallel  bool // one goroutine per stream
	EndInfo   bool // send end_info once every stream is done
	Tag       string
}

// Result counts what was replayed
type Result struct {
	Streams int
	Chunks  int
	Bytes   int64
	Errors  int // chunks the processor rejected
}

// Stream is one file to replay; the base name is the stream name
type Stream struct {
	Name string
	Path string
}

// Discover lists the regular files of dir as streams, hash dictionaries first
func Discover(dir string) ([]Stream, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read replay dir %s: %w", dir, err)
	}
	var out []Stream
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, Stream{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	sort.SliceStable(out, func(i, j int) bool {
		hi, hj := isHashDict(out[i].Name), isHashDict(out[j].Name)
		if hi != hj {
			return hi
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func isHashDict(name string) bool {
	return strings.Contains(name, constants.StreamHashDict)
}

// Run replays streams into p. Hash dictionaries go first and alone so every
// later stream can resolve names.
func Run(ctx context.Context, p Processor, streams []Stream, opts Options) (Result, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	var dicts, rest []Stream
	for _, s := range streams {
		if isHashDict(s.Name) {
			dicts = append(dicts, s)
		} else {
			rest = append(rest, s)
		}
	}

	results := make([]Result, len(streams))
	for i, s := range dicts {
		r, err := replayStream(ctx, p, s, opts)
		results[i] = r
		if err != nil {
			return sum(results), err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if !opts.Parallel {
		g.SetLimit(1)
	}
	for i, s := range rest {
		i, s := i+len(dicts), s
		g.Go(func() error {
			r, err := replayStream(gctx, p, s, opts)
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return sum(results), err
	}

	total := sum(results)
	if opts.EndInfo {
		if err := p.Process(ctx, &model.Chunk{StreamName: constants.ControlEndInfo, Control: true}); err != nil {
			return total, err
		}
	}
	return total, nil
}

func sum(rs []Result) Result {
	var t Result
	for _, r := range rs {
		t.Streams += r.Streams
		t.Chunks += r.Chunks
		t.Bytes += r.Bytes
		t.Errors += r.Errors
	}
	return t
}

func replayStream(ctx context.Context, p Processor, s Stream, opts Options) (Result, error) {
	res := Result{Streams: 1}
	f, err := os.Open(s.Path)
	if err != nil {
		return res, fmt.Errorf("failed to open stream %s: %w", s.Name, err)
	}
	defer f.Close()

	buf := make([]byte, opts.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			// the analyzer may keep a view of the chunk until the next one
			data := append([]byte(nil), buf[:n]...)
			res.Chunks++
			res.Bytes += int64(n)
			if perr := p.Process(ctx, &model.Chunk{StreamName: s.Name, Tag: opts.Tag, Data: data}); perr != nil {
				res.Errors++
				logger.WarnCtx(ctx, "replay %s chunk %d: %v", s.Name, res.Chunks, perr)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("failed to read stream %s: %w", s.Name, err)
		}
	}
}
