package diff

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// spool stores overflow message groups as a JSON-lines temp file, one
// group per line, in write order. It exists so a comparison over a very
// large history never has to hold the whole difference in memory.
type spool struct {
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
	path string
}

func newSpool() (*spool, error) {
	f, err := os.CreateTemp("", "chatvault-diff-*.jsonl")
	if err != nil {
		return nil, fmt.Errorf("create diff spool: %w", err)
	}
	w := bufio.NewWriter(f)
	return &spool{f: f, w: w, enc: json.NewEncoder(w), path: f.Name()}, nil
}

func (sp *spool) write(g *MessageGroup) error {
	if err := sp.enc.Encode(g); err != nil {
		return fmt.Errorf("spool group: %w", err)
	}
	return nil
}

// replay streams groups back in write order. The spool stays valid for
// further replays until closed.
func (sp *spool) replay(fn func(*MessageGroup) error) error {
	if err := sp.w.Flush(); err != nil {
		return err
	}
	f, err := os.Open(sp.path)
	if err != nil {
		return fmt.Errorf("open diff spool: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var g MessageGroup
		if err := dec.Decode(&g); err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("read diff spool: %w", err)
		}
		if err := fn(&g); err != nil {
			return err
		}
	}
}

func (sp *spool) close() error {
	err := sp.f.Close()
	if rmErr := os.Remove(sp.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
