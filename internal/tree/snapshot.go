package tree

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const snapshotMagic = "expectree-tree-v1"

var ErrStaleSnapshot = errors.New("snapshot was built with different options")

type snapshotHeader struct {
	Magic       string
	Fingerprint string
	Nodes       int
}

// Save writes a frozen tree as a zstd-compressed gob stream tagged with
// fingerprint.
func (t *Tree) Save(w io.Writer, fingerprint string) error {
	if !t.frozen {
		return ErrNotFrozen
	}
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	g := gob.NewEncoder(enc)
	if err := g.Encode(snapshotHeader{Magic: snapshotMagic, Fingerprint: fingerprint, Nodes: len(t.nodes)}); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode header: %w", err)
	}
	if err := g.Encode(t.nodes); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode nodes: %w", err)
	}
	return enc.Close()
}

// Load reads a snapshot written by Save. A snapshot whose fingerprint
// differs returns ErrStaleSnapshot.
func Load(r io.Reader, fingerprint string) (*Tree, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	g := gob.NewDecoder(dec)
	var hdr snapshotHeader
	if err := g.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Magic != snapshotMagic {
		return nil, fmt.Errorf("not a tree snapshot (magic %q)", hdr.Magic)
	}
	if hdr.Fingerprint != fingerprint {
		return nil, fmt.Errorf("%w: have %q, want %q", ErrStaleSnapshot, hdr.Fingerprint, fingerprint)
	}
	var nodes []Node
	if err := g.Decode(&nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	if len(nodes) != hdr.Nodes || len(nodes) == 0 {
		return nil, fmt.Errorf("snapshot has %d nodes, header says %d", len(nodes), hdr.Nodes)
	}

	t := &Tree{nodes: nodes, index: make(map[edge]NodeID, len(nodes)), frozen: true}
	for i := range t.nodes {
		for _, c := range t.nodes[i].Children {
			// Children are always appended after their parent.
			if int(c) <= i || int(c) >= len(t.nodes) || t.nodes[c].Parent != NodeID(i) {
				return nil, fmt.Errorf("corrupt snapshot: node %d lists bad child %d", i, c)
			}
			t.index[edge{NodeID(i), t.nodes[c].Move}] = c
		}
	}
	if err := t.CheckInvariant(); err != nil {
		return nil, fmt.Errorf("corrupt snapshot: %w", err)
	}
	return t, nil
}

// SaveFile writes the snapshot next to path and renames it into place.
func (t *Tree) SaveFile(path, fingerprint string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := t.Save(f, fingerprint); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

func LoadFile(path, fingerprint string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, fingerprint)
}
