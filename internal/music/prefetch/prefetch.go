// Package prefetch downloads tracks to local storage before playback,
// reporting progress on a single message that is edited in place.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/keshon/melodeck/internal/metrics"
	"github.com/keshon/melodeck/internal/music/mediastore"
	"github.com/keshon/melodeck/internal/music/sink"
	"github.com/keshon/melodeck/internal/music/track"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var ErrRetrievalFailed = errors.New("retrieval failed")

// Milestones are the percentages reported on the progress line.
var Milestones = []int{0, 15, 25, 35, 50, 65, 75, 100}

const progressColor = 0x5865F2

type Downloader interface {
	Download(ctx context.Context, t track.Track) (io.ReadCloser, int64, error)
}

// Activity tells whether a tenant is using its stored files right now.
type Activity interface {
	IsPlaying(tenantID string) bool
}

// ActivityFunc adapts a function to Activity.
type ActivityFunc func(tenantID string) bool

func (f ActivityFunc) IsPlaying(tenantID string) bool { return f(tenantID) }

type Request struct {
	TenantID  string
	ChannelID string // where the progress line goes; empty means no progress line
	Track     track.Track
}

// Handle points at a completed local file.
type Handle struct {
	Path string
	Size int64
}

type Prefetcher struct {
	store    *mediastore.Store
	source   Downloader
	sink     sink.Sink
	activity Activity
	interval time.Duration
	log      zerolog.Logger
}

// New builds a Prefetcher. interval spaces progress edits; zero disables
// pacing.
func New(store *mediastore.Store, source Downloader, out sink.Sink, activity Activity, interval time.Duration, log zerolog.Logger) *Prefetcher {
	if out == nil {
		out = sink.Discard{}
	}
	return &Prefetcher{
		store:    store,
		source:   source,
		sink:     out,
		activity: activity,
		interval: interval,
		log:      log,
	}
}

// Prefetch sweeps the tenant's old files when it is idle, then downloads
// req.Track into a partial file that replaces the stored one only once
// complete. Any failure discards the partial file, leaves an earlier copy
// in place and wraps ErrRetrievalFailed.
func (p *Prefetcher) Prefetch(ctx context.Context, req Request) (Handle, error) {
	p.sweep(req.TenantID)

	log := p.log.With().Str("tenant", req.TenantID).Str("track", req.Track.ID).Logger()

	h, err := p.fetch(ctx, req, log)
	if err != nil {
		metrics.PrefetchFailures.Inc()
		log.Error().Err(err).Msg("prefetch failed")
		return Handle{}, fmt.Errorf("%w: %s: %v", ErrRetrievalFailed, req.Track.DisplayTitle(), err)
	}
	log.Info().Str("size", humanize.Bytes(uint64(h.Size))).Msg("prefetch complete")
	return h, nil
}

func (p *Prefetcher) sweep(tenantID string) {
	if p.activity != nil && p.activity.IsPlaying(tenantID) {
		return
	}
	n, err := p.store.Sweep(tenantID)
	if err != nil {
		p.log.Warn().Err(err).Str("tenant", tenantID).Msg("cleanup sweep incomplete")
	}
	if n > 0 {
		p.log.Debug().Str("tenant", tenantID).Int("removed", n).Msg("cleanup sweep")
	}
}

func (p *Prefetcher) fetch(ctx context.Context, req Request, log zerolog.Logger) (h Handle, err error) {
	progress := p.newProgress(ctx, req)
	defer progress.close()

	body, size, err := p.source.Download(ctx, req.Track)
	if err != nil {
		return Handle{}, err
	}
	defer body.Close()

	f, err := p.store.CreateTemp(req.TenantID, req.Track.ID)
	if err != nil {
		return Handle{}, err
	}
	defer func() {
		if err == nil {
			return
		}
		if rmErr := p.store.Discard(f.Name()); rmErr != nil {
			log.Warn().Err(rmErr).Msg("failed to remove partial file")
		}
	}()

	progress.total = size
	written, err := io.Copy(f, &countingReader{r: body, onRead: progress.advance})
	metrics.PrefetchBytes.Add(float64(written))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Handle{}, err
	}
	if size > 0 && written < size {
		return Handle{}, fmt.Errorf("short read: %d of %d bytes", written, size)
	}
	if written == 0 {
		return Handle{}, errors.New("empty download")
	}

	path, err := p.store.Commit(f.Name(), req.TenantID, req.Track.ID)
	if err != nil {
		return Handle{}, err
	}
	progress.finish(written)
	return Handle{Path: path, Size: written}, nil
}

type countingReader struct {
	r      io.Reader
	n      int64
	onRead func(int64)
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		c.n += int64(n)
		c.onRead(c.n)
	}
	return n, err
}

// progress owns the progress line of one download.
type progress struct {
	ctx     context.Context
	p       *Prefetcher
	title   string
	ref     sink.MessageRef
	limiter *rate.Limiter

	total    int64
	next     int // index into Milestones of the next one to report
	reported int // last percentage shown
	pending  bool
	done     int64
}

func (p *Prefetcher) newProgress(ctx context.Context, req Request) *progress {
	limit := rate.Inf
	if p.interval > 0 {
		limit = rate.Every(p.interval)
	}
	pr := &progress{
		ctx:     ctx,
		p:       p,
		title:   req.Track.DisplayTitle(),
		limiter: rate.NewLimiter(limit, 1),
		next:    1,
	}
	if req.ChannelID == "" {
		return pr
	}

	// the first token goes to the 0% send
	pr.limiter.Allow()
	ref, err := p.sink.Send(ctx, req.ChannelID, pr.message(0, 0))
	if err != nil {
		p.log.Warn().Err(err).Str("tenant", req.TenantID).Msg("failed to send progress line")
		return pr
	}
	pr.ref = ref
	return pr
}

func (pr *progress) advance(n int64) {
	pr.done = n
	if pr.total <= 0 {
		return
	}
	pct := int(n * 100 / pr.total)
	for pr.next < len(Milestones) && pct >= Milestones[pr.next] {
		pr.reported = Milestones[pr.next]
		pr.next++
		pr.pending = true
	}
	pr.flush(false)
}

// flush edits the line when a milestone is waiting and the limiter allows.
// Denied milestones stay pending and fold into the next edit. force skips
// the limiter.
func (pr *progress) flush(force bool) {
	if !pr.pending || pr.ref.IsZero() {
		return
	}
	if !pr.limiter.Allow() && !force {
		return
	}
	pr.pending = false
	if err := pr.p.sink.Edit(pr.ctx, pr.ref, pr.message(pr.reported, pr.done)); err != nil {
		pr.p.log.Debug().Err(err).Msg("failed to edit progress line")
	}
}

// finish always shows 100%, whatever the limiter says.
func (pr *progress) finish(n int64) {
	pr.done = n
	if pr.reported < 100 {
		pr.reported = 100
		pr.next = len(Milestones)
		pr.pending = true
	}
	pr.flush(true)
}

// close removes the progress line whatever the outcome.
func (pr *progress) close() {
	if pr.ref.IsZero() {
		return
	}
	// the download context may already be cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(pr.ctx), 5*time.Second)
	defer cancel()
	if err := pr.p.sink.Delete(ctx, pr.ref); err != nil {
		pr.p.log.Debug().Err(err).Msg("failed to delete progress line")
	}
}

func (pr *progress) message(pct int, done int64) sink.Message {
	desc := fmt.Sprintf("%s\n%s %d%%", pr.title, bar(pct), pct)
	switch {
	case pr.total > 0:
		desc += fmt.Sprintf(" (%s of %s)", humanize.Bytes(uint64(done)), humanize.Bytes(uint64(pr.total)))
	case done > 0:
		desc += fmt.Sprintf(" (%s)", humanize.Bytes(uint64(done)))
	}
	return sink.Message{Title: "Downloading", Description: desc, Color: progressColor}
}

func bar(pct int) string {
	const width = 20
	filled := pct * width / 100
	out := make([]rune, width)
	for i := range out {
		if i < filled {
			out[i] = '▰'
		} else {
			out[i] = '▱'
		}
	}
	return string(out)
}
