package cog

import (
	"fmt"
	"io"
	"net/http"
	"sync"
)

// httpBlockSize is the granularity of remote range requests. COG headers and
// tile runs are small; 256 KiB keeps round trips low without dragging whole
// overviews across the wire.
const httpBlockSize = 256 << 10

// httpReaderAt adapts an HTTP endpoint that supports Range requests into an
// io.ReaderAt, with a block cache so the directory walk and neighboring tile
// reads don't re-fetch the same bytes.
type httpReaderAt struct {
	url    string
	client *http.Client
	size   int64

	mu     sync.Mutex
	blocks map[int64][]byte
}

func newHTTPReaderAt(url string, client *http.Client) (*httpReaderAt, error) {
	resp, err := client.Head(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HEAD %s: %s", url, resp.Status)
	}
	if resp.ContentLength < 0 {
		return nil, fmt.Errorf("HEAD %s: no content length", url)
	}
	return &httpReaderAt{
		url:    url,
		client: client,
		size:   resp.ContentLength,
		blocks: make(map[int64][]byte),
	}, nil
}

func (h *httpReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= h.size {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && off < h.size {
		blockStart := off / httpBlockSize * httpBlockSize
		block, err := h.block(blockStart)
		if err != nil {
			return n, err
		}
		copied := copy(p[n:], block[off-blockStart:])
		n += copied
		off += int64(copied)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *httpReaderAt) block(start int64) ([]byte, error) {
	h.mu.Lock()
	if b, ok := h.blocks[start]; ok {
		h.mu.Unlock()
		return b, nil
	}
	h.mu.Unlock()

	end := start + httpBlockSize - 1
	if end >= h.size {
		end = h.size - 1
	}

	req, err := http.NewRequest(http.MethodGet, h.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s range %d-%d: %s", h.url, start, end, resp.Status)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.blocks[start] = b
	h.mu.Unlock()
	return b, nil
}
