package upgrade

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/moffa90/go-aicupg/fwc"
	"github.com/moffa90/go-aicupg/image"
	"github.com/moffa90/go-aicupg/storage"
)

// Sink receives an upgrade image as a byte stream and writes it while it
// arrives. It implements transfer.Handler, so a transfer.Session can feed
// it WRITE data directly:
//
//	sink := upgrade.NewSink(table, upgrade.WithProtection("env"))
//	err := transfer.Serve(ctx, port, sink)
//
// The stream is consumed in image order: header, metadata table, then the
// payload of every component by offset. Gaps between payloads and the
// payloads of protected components are discarded.
//
// A chunk that fails to program is not consumed, so the host may send it
// again. A chunk that completes a component whose CRC does not match is
// consumed and the error is reported as an integrity failure.
//
// A write that starts with a complete, valid image header after the
// header has already been received begins a new image, so a host that
// lost its connection may simply send the image again.
//
// Read returns the written components back in image order.
type Sink struct {
	resolver storage.Resolver
	config   Config

	mu      sync.Mutex
	pos     int64
	hdrBuf  []byte
	header  *image.Header
	meta    []byte
	metaOK  bool
	comps   []*image.Component
	skipped []string
	idx     int
	w       *fwc.Writer
	wStart  time.Time
	written []*fwc.Writer
	results []ComponentResult
	tracker *progressTracker

	rdIdx int
	rdOff int64
}

// NewSink creates a Sink that resolves partition names with resolver.
func NewSink(resolver storage.Resolver, opts ...Option) *Sink {
	if resolver == nil {
		panic("resolver cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Sink{resolver: resolver, config: cfg}
}

// Write consumes the next bytes of the image. It returns the number of
// bytes consumed, which is less than len(p) only together with an error.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.header != nil && startsImage(p) {
		s.logInfo("new image header, restarting", "position", s.pos, "component", s.idx)
		s.reset()
	}

	consumed := 0
	for consumed < len(p) {
		n, err := s.step(p[consumed:])
		consumed += n
		s.pos += int64(n)
		if err != nil {
			return consumed, err
		}
	}
	return consumed, nil
}

// step consumes a prefix of p belonging to the current part of the image.
func (s *Sink) step(p []byte) (int, error) {
	switch {
	case s.header == nil:
		return s.stepHeader(p)
	case !s.metaOK:
		return s.stepMeta(p)
	case s.idx < len(s.comps):
		return s.stepComponent(p)
	}

	if s.pos >= int64(s.header.FileSize) {
		return 0, ErrClosed
	}
	return skip(p, int64(s.header.FileSize)-s.pos), nil
}

func (s *Sink) stepHeader(p []byte) (int, error) {
	n := take(p, int64(image.HeaderSize-len(s.hdrBuf)))
	buf := append(s.hdrBuf, p[:n]...)
	if len(buf) < image.HeaderSize {
		s.hdrBuf = buf
		return n, nil
	}

	hdr, err := image.ParseHeader(buf)
	if err != nil {
		return 0, fmt.Errorf("image header: %w", err)
	}
	if int64(hdr.MetaOffset) < image.HeaderSize {
		return 0, fmt.Errorf("image header: metadata at 0x%X overlaps header", hdr.MetaOffset)
	}

	s.hdrBuf = nil
	s.header = hdr
	s.logDebug("image header received",
		"platform", hdr.Platform,
		"product", hdr.Product,
		"version", hdr.Version,
		"meta_size", hdr.MetaSize,
	)
	return n, nil
}

func (s *Sink) stepMeta(p []byte) (int, error) {
	metaOff := int64(s.header.MetaOffset)
	if s.pos < metaOff {
		return skip(p, metaOff-s.pos), nil
	}

	n := take(p, int64(s.header.MetaSize)-int64(len(s.meta)))
	blob := append(s.meta, p[:n]...)
	if len(blob) < int(s.header.MetaSize) {
		s.meta = blob
		return n, nil
	}

	all, err := image.ParseMetaAll(blob)
	if err != nil {
		return 0, fmt.Errorf("image metadata: %w", err)
	}

	var comps []*image.Component
	for _, c := range all {
		switch {
		case c.Partition == "":
		case s.config.Protection.Protects(c):
			s.logInfo("partition protected, skipped", "component", c.Name, "partition", c.Partition)
			s.skipped = append(s.skipped, c.Name)
		default:
			comps = append(comps, c)
		}
	}
	sort.SliceStable(comps, func(i, j int) bool { return comps[i].Offset < comps[j].Offset })

	end := metaOff + int64(s.header.MetaSize)
	var total int64
	for _, c := range comps {
		if int64(c.Offset) < end {
			return 0, fmt.Errorf("image metadata: component %s at 0x%X overlaps 0x%X", c.Name, c.Offset, end)
		}
		end = c.End()
		total += int64(c.Size)
	}

	s.meta = nil
	s.metaOK = true
	s.comps = comps
	s.tracker = newProgressTracker(s.config.ProgressCallback, int64(s.header.FileSize))
	s.tracker.begin()

	s.logInfo("upgrade started",
		"product", s.header.Product,
		"version", s.header.Version,
		"components", len(comps),
		"bytes", total,
	)
	if len(comps) == 0 {
		s.tracker.finish(nil)
	}
	return n, nil
}

func (s *Sink) stepComponent(p []byte) (int, error) {
	c := s.comps[s.idx]
	if s.pos < int64(c.Offset) {
		return skip(p, int64(c.Offset)-s.pos), nil
	}

	if s.w == nil {
		set, err := fwc.Prepare(s.resolver, c.Partition)
		if err == nil {
			s.w, err = fwc.Start(c, set)
		}
		if err != nil {
			s.logError("component setup failed", "component", c.Name, "partition", c.Partition, "error", err)
			return 0, &ComponentError{Component: c.Name, Partition: c.Partition, Err: err}
		}
		s.wStart = time.Now()
		s.logDebug("component started", "writer", s.w.String(), "block_size", s.w.BlockSize())
	}

	n := take(p, c.End()-s.pos)
	if n > 0 {
		if _, err := s.w.Write(p[:n]); err != nil {
			s.logError("component write failed", "component", c.Name, "offset", s.pos-int64(c.Offset), "error", err)
			return 0, &ComponentError{Component: c.Name, Partition: c.Partition, Err: err}
		}
		s.tracker.add(PhaseProgramming, c.Name, c.Partition, int64(n))
	}

	if s.pos+int64(n) < c.End() {
		return n, nil
	}

	s.tracker.add(PhaseVerifying, c.Name, c.Partition, 0)
	err := s.w.End()

	cr := ComponentResult{
		Name:        c.Name,
		Partition:   c.Partition,
		Size:        int64(c.Size),
		Transferred: s.w.Transferred(),
		CRC:         s.w.CRC(),
		Expected:    c.CRC,
		Elapsed:     time.Since(s.wStart),
		Err:         err,
	}
	s.results = append(s.results, cr)
	s.written = append(s.written, s.w)
	logComponent(s.config.Logger, cr)

	s.w = nil
	s.idx++
	if s.idx == len(s.comps) {
		s.tracker.finish(s.firstError())
	}

	if err != nil {
		return n, &ComponentError{Component: c.Name, Partition: c.Partition, Err: err}
	}
	return n, nil
}

// Read reads back the written components in image order, each limited to
// its declared size. It returns io.EOF when nothing more is available.
func (s *Sink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n < len(p) && s.rdIdx < len(s.written) {
		w := s.written[s.rdIdx]
		rem := int64(w.Meta().Size) - s.rdOff
		if rem <= 0 {
			s.rdIdx++
			s.rdOff = 0
			continue
		}

		k := take(p[n:], rem)
		m, err := w.Read(p[n : n+k])
		n += m
		s.rdOff += int64(m)
		if err != nil {
			return n, err
		}
	}

	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Done reports whether every component has been written.
func (s *Sink) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metaOK && s.idx == len(s.comps)
}

// Header returns the image header, or nil before it has been received.
func (s *Sink) Header() *image.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header
}

// Results returns the outcome of every component ended so far.
func (s *Sink) Results() []ComponentResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ComponentResult(nil), s.results...)
}

// Skipped returns the names of the protected components.
func (s *Sink) Skipped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.skipped...)
}

// Position returns the number of image bytes consumed.
func (s *Sink) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Reset discards all state so that a new image can be received. A
// component in progress is ended without being recorded.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Sink) reset() {
	if s.w != nil {
		_ = s.w.End()
	}
	s.pos = 0
	s.hdrBuf, s.header = nil, nil
	s.meta, s.metaOK = nil, false
	s.comps, s.skipped = nil, nil
	s.idx, s.w = 0, nil
	s.written, s.results = nil, nil
	s.tracker = nil
	s.rdIdx, s.rdOff = 0, 0
}

// startsImage reports whether p begins with a valid image header.
func startsImage(p []byte) bool {
	if len(p) < image.HeaderSize || !bytes.HasPrefix(p, []byte(image.HeaderMagic)) {
		return false
	}
	_, err := image.ParseHeader(p[:image.HeaderSize])
	return err == nil
}

func (s *Sink) firstError() error {
	for _, r := range s.results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

func (s *Sink) logDebug(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, keysAndValues...)
	}
}

func (s *Sink) logInfo(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Info(msg, keysAndValues...)
	}
}

func (s *Sink) logError(msg string, keysAndValues ...interface{}) {
	if s.config.Logger != nil {
		s.config.Logger.Error(msg, keysAndValues...)
	}
}

// take returns how many bytes of p fit in limit.
func take(p []byte, limit int64) int {
	if limit < int64(len(p)) {
		return int(limit)
	}
	return len(p)
}

// skip discards up to limit bytes of p.
func skip(p []byte, limit int64) int {
	return take(p, limit)
}
