package adapters

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/biogo/hts/bgzf"
)

// bases maps the low two bits of a base call byte to the called base
const bases = "ACGT"

// Base decodes a single BCL byte. Zero means no call.
func Base(b byte) byte {
	if b == 0 {
		return 'N'
	}
	return bases[b&3]
}

// ReadBCL reads at most limit base calls from a BCL stream.
// The stream starts with a little endian uint32 cluster count followed by one byte per cluster.
func ReadBCL(r io.Reader, limit int) ([]byte, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("reading cluster count: %w", err)
	}
	n := int(count)
	if limit >= 0 && limit < n {
		n = limit
	}
	calls := make([]byte, n)
	if _, err := io.ReadFull(r, calls); err != nil {
		return nil, fmt.Errorf("reading %d base calls: %w", n, err)
	}
	for i, b := range calls {
		calls[i] = Base(b)
	}
	return calls, nil
}

type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var err error
	for _, c := range m.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// openBCL opens a BCL file, transparently decompressing .gz and .bgzf files
func openBCL(path string) (io.ReadCloser, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, ".bgzf"):
		br, err := bgzf.NewReader(fh, 1)
		if err != nil {
			_ = fh.Close()
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		return &multiReadCloser{Reader: br, closers: []io.Closer{br, fh}}, nil
	case strings.HasSuffix(path, ".gz"):
		gr, err := gzip.NewReader(fh)
		if err != nil {
			_ = fh.Close()
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		return &multiReadCloser{Reader: gr, closers: []io.Closer{gr, fh}}, nil
	}
	return fh, nil
}

func readBCLFile(path string, limit int) ([]byte, error) {
	rc, err := openBCL(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	calls, err := ReadBCL(rc, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return calls, nil
}
