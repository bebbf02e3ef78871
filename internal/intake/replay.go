package intake

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"

	"github.com/bft-labs/adcpship/internal/codec"
	"github.com/bft-labs/adcpship/internal/health"
	"github.com/bft-labs/adcpship/pkg/log"
)

// FrameWriter stores decoded frames.
type FrameWriter interface {
	Append(f codec.Frame) error
}

// Result counts what a replay did with one file.
type Result struct {
	Lines         int
	Frames        int
	ParseErrors   int
	PersistErrors int
	// Bytes read from the source, including separators.
	Bytes int64
}

func (r *Result) add(o Result) {
	r.Lines += o.Lines
	r.Frames += o.Frames
	r.ParseErrors += o.ParseErrors
	r.PersistErrors += o.PersistErrors
	r.Bytes += o.Bytes
}

// Replay feeds every sentence in path through the codec into w. Bad lines
// and failed appends are counted and skipped; only failing to read the file
// itself, or ctx ending, returns an error. Bytes appended while the replay
// runs are replayed too, until a re-stat shows no growth past what was read.
func Replay(ctx context.Context, path string, w FrameWriter, metrics *health.Metrics, logger log.Logger) (Result, error) {
	var res Result
	for {
		part, err := replayFrom(ctx, path, res.Bytes, w, metrics, logger)
		res.add(part)
		if err != nil {
			return res, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return res, err
		}
		if info.Size() <= res.Bytes {
			return res, nil
		}
	}
}

func replayFrom(ctx context.Context, path string, offset int64, w FrameWriter, metrics *health.Metrics, logger log.Logger) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return Result{}, err
		}
	}
	return ReplayReader(ctx, f, w, metrics, logger)
}

// ReplayReader is Replay over an open stream.
func ReplayReader(ctx context.Context, r io.Reader, w FrameWriter, metrics *health.Metrics, logger log.Logger) (Result, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	var res Result
	br := bufio.NewReader(r)
	for {
		chunk, err := br.ReadString('\n')
		res.Bytes += int64(len(chunk))
		if len(chunk) > 0 {
			for _, sentence := range codec.SplitSentences(chunk) {
				if cerr := ctx.Err(); cerr != nil {
					return res, cerr
				}
				res.Lines++
				handleSentence(sentence, w, metrics, logger, &res)
			}
		}
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
	}
}

func handleSentence(sentence string, w FrameWriter, metrics *health.Metrics, logger log.Logger, res *Result) {
	frame, err := codec.Parse(sentence)
	if err != nil {
		res.ParseErrors++
		if metrics != nil {
			metrics.RecordParseError(err)
		}
		logger.Debug("sentence rejected", log.String("class", codec.Classify(err)), log.Err(err))
		return
	}
	if err := w.Append(frame); err != nil {
		res.PersistErrors++
		if metrics != nil {
			metrics.RecordPersistError()
		}
		logger.Warn("persist failed", log.String("kind", frame.Kind().String()), log.Err(err))
		return
	}
	res.Frames++
	if metrics != nil {
		metrics.RecordFrame(frame.Kind())
	}
}
