package sink

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/heartrate.report/internal/fsutil"
)

// Result file suffixes appended to an acquisition base path.
const (
	RRSuffix  = ".rr.txt"
	TagSuffix = ".tag.txt"
)

// RRPath returns the RR result file for base.
func RRPath(base string) string { return base + RRSuffix }

// TagPath returns the tag result file for base.
func TagPath(base string) string { return base + TagSuffix }

// ResultFilesExist reports whether both result files for base exist.
func ResultFilesExist(fsys fsutil.FileSystem, base string) bool {
	return fsys.Exists(RRPath(base)) && fsys.Exists(TagPath(base))
}

// TextWriter appends RR values (one integer per line) and tags
// ("name, begin, end" per line) to the two result files of an acquisition.
// The format is what gHRV and the plotting tools read.
type TextWriter struct {
	mu     sync.Mutex
	rr     io.WriteCloser
	tag    io.WriteCloser
	closed bool
}

// NewTextWriter opens <base>.rr.txt and <base>.tag.txt for appending.
func NewTextWriter(fsys fsutil.FileSystem, base string) (*TextWriter, error) {
	rr, err := fsys.OpenAppend(RRPath(base))
	if err != nil {
		return nil, fmt.Errorf("open rr file: %w", err)
	}
	tag, err := fsys.OpenAppend(TagPath(base))
	if err != nil {
		rr.Close()
		return nil, fmt.Errorf("open tag file: %w", err)
	}
	return &TextWriter{rr: rr, tag: tag}, nil
}

func (w *TextWriter) WriteRRValue(ms int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	_, err := io.WriteString(w.rr, strconv.Itoa(ms)+"\n")
	return err
}

func (w *TextWriter) WriteTagValue(name string, begin, end float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	_, err := fmt.Fprintf(w.tag, "%s, %s, %s\n", name, formatSeconds(begin), formatSeconds(end))
	return err
}

// Close closes both files. Further calls return ErrClosed.
func (w *TextWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	w.closed = true
	return errors.Join(w.rr.Close(), w.tag.Close())
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadRRFile parses an RR result file.
func ReadRRFile(fsys fsutil.FileSystem, base string) ([]int, error) {
	data, err := fsys.ReadFile(RRPath(base))
	if err != nil {
		return nil, err
	}

	var out []int
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := strconv.Atoi(text)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", RRPath(base), line, err)
		}
		out = append(out, v)
	}
	return out, sc.Err()
}

// ReadTagFile parses a tag result file.
func ReadTagFile(fsys fsutil.FileSystem, base string) ([]Tag, error) {
	data, err := fsys.ReadFile(TagPath(base))
	if err != nil {
		return nil, err
	}

	var out []Tag
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		// name may itself contain commas; the last two fields are numbers
		idx := strings.LastIndex(text, ",")
		if idx < 0 {
			return nil, fmt.Errorf("%s line %d: expected name, begin, end", TagPath(base), line)
		}
		rest := strings.LastIndex(text[:idx], ",")
		if rest < 0 {
			return nil, fmt.Errorf("%s line %d: expected name, begin, end", TagPath(base), line)
		}
		begin, err := strconv.ParseFloat(strings.TrimSpace(text[rest+1:idx]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: begin: %w", TagPath(base), line, err)
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(text[idx+1:]), 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: end: %w", TagPath(base), line, err)
		}
		out = append(out, Tag{Name: strings.TrimSpace(text[:rest]), Begin: begin, End: end})
	}
	return out, sc.Err()
}
