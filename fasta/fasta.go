// Package fasta provides a streaming sanity check of FASTA reference files.
//
// The pipeline never interprets reference content itself; the external tools
// do. The check here exists so that a misnamed or truncated reference is
// rejected before any stage is submitted, with the same precision the sample
// inventory applies to read directories.
package fasta

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Stats summarizes a FASTA file: the number of sequence records and the
// total base count across all of them.
type Stats struct {
	Sequences int
	Bases     int64
}

// Scan streams FASTA data from r and returns its Stats. It fails if the
// first non-blank line is not a '>' header, if a record has an empty name,
// or if the input holds no sequence data at all.
func Scan(r io.Reader) (Stats, error) {
	var (
		stats   Stats
		br      = bufio.NewReader(r)
		inSeq   bool
		seqLen  int64
		eof     bool
		lineNum int
	)
	flush := func() error {
		if inSeq && seqLen == 0 {
			return errors.New("FASTA record with no sequence data")
		}
		stats.Bases += seqLen
		seqLen = 0
		return nil
	}
	for !eof {
		fullLine, err := br.ReadBytes('\n')
		if err == io.EOF {
			eof = true
		} else if err != nil {
			return Stats{}, err
		}
		lineNum++
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return Stats{}, err
			}
			// The sequence name is everything between '>' and the first
			// whitespace; a separating space before it means there is none.
			name := line[1:]
			if i := bytes.IndexAny(name, " \t"); i >= 0 {
				name = name[:i]
			}
			if len(name) == 0 {
				return Stats{}, errors.Errorf("line %d: FASTA header with no sequence name", lineNum)
			}
			stats.Sequences++
			inSeq = true
			continue
		}
		if !inSeq {
			return Stats{}, errors.New("not a FASTA file: first record does not start with '>'")
		}
		seqLen += int64(len(line))
	}
	if err := flush(); err != nil {
		return Stats{}, err
	}
	if stats.Sequences == 0 {
		return Stats{}, errors.New("no FASTA records found")
	}
	return stats, nil
}

// ScanFile runs Scan over the named file.
func ScanFile(path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "reference %s", path)
	}
	defer f.Close() // nolint: errcheck
	stats, err := Scan(f)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "reference %s", path)
	}
	return stats, nil
}
