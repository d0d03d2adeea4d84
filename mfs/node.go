package mfs

import (
	"context"
	"sort"

	"github.com/bobg/hashsplit"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bobg/notesync"
	"github.com/bobg/notesync/blob"
)

const (
	typeDir  = "dir"
	typeFile = "file"
)

// Chunking parameters for file content.
// Changing them changes the hashes of newly written files.
const (
	chunkMinSize   = 1024
	chunkSplitBits = 14
)

// node is a decoded tree block.
// Directories have entries; files have size and chunks.
type node struct {
	dir     bool
	entries map[string]notesync.Entry
	size    int64
	chunks  []notesync.Hash
}

func newDirNode() *node {
	return &node{dir: true, entries: make(map[string]notesync.Entry)}
}

// dirSize is the total content size beneath a directory.
func (n *node) dirSize() int64 {
	var total int64
	for _, e := range n.entries {
		total += e.Size
	}
	return total
}

// sortedEntries lists a directory's entries by name.
func (n *node) sortedEntries() []notesync.Entry {
	result := make([]notesync.Entry, 0, len(n.entries))
	for _, e := range n.entries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

var marshalOpts = proto.MarshalOptions{Deterministic: true}

func (n *node) encode() ([]byte, error) {
	var m map[string]interface{}
	if n.dir {
		entries := make(map[string]interface{}, len(n.entries))
		for name, e := range n.entries {
			entries[name] = map[string]interface{}{
				"type": e.Type.String(),
				"hash": e.Hash.String(),
				"size": float64(e.Size),
			}
		}
		m = map[string]interface{}{
			"type":    typeDir,
			"entries": entries,
		}
	} else {
		chunks := make([]interface{}, 0, len(n.chunks))
		for _, c := range n.chunks {
			chunks = append(chunks, c.String())
		}
		m = map[string]interface{}{
			"type":   typeFile,
			"size":   float64(n.size),
			"chunks": chunks,
		}
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, "building node struct")
	}
	b, err := marshalOpts.Marshal(s)
	return b, errors.Wrap(err, "marshaling node")
}

func decodeNode(b []byte) (*node, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "unmarshaling node")
	}
	fields := s.GetFields()
	switch fields["type"].GetStringValue() {
	case typeDir:
		n := newDirNode()
		for name, v := range fields["entries"].GetStructValue().GetFields() {
			ef := v.GetStructValue().GetFields()
			h, err := notesync.HashFromHex(ef["hash"].GetStringValue())
			if err != nil {
				return nil, errors.Wrapf(err, "decoding hash of entry %s", name)
			}
			e := notesync.Entry{
				Name: name,
				Hash: h,
				Size: int64(ef["size"].GetNumberValue()),
			}
			if ef["type"].GetStringValue() == typeDir {
				e.Type = notesync.TypeDir
			}
			n.entries[name] = e
		}
		return n, nil

	case typeFile:
		n := &node{size: int64(fields["size"].GetNumberValue())}
		for _, v := range fields["chunks"].GetListValue().GetValues() {
			h, err := notesync.HashFromHex(v.GetStringValue())
			if err != nil {
				return nil, errors.Wrap(err, "decoding chunk hash")
			}
			n.chunks = append(n.chunks, h)
		}
		return n, nil
	}
	return nil, errors.New("block is not a tree node")
}

func getNode(ctx context.Context, g blob.Getter, h notesync.Hash) (*node, error) {
	b, err := g.Get(ctx, h)
	if err != nil {
		return nil, errors.Wrapf(err, "getting node %s", h)
	}
	n, err := decodeNode(b)
	return n, errors.Wrapf(err, "decoding node %s", h)
}

func putNode(ctx context.Context, s blob.Store, n *node) (notesync.Hash, error) {
	b, err := n.encode()
	if err != nil {
		return notesync.Zero, err
	}
	h, _, err := s.Put(ctx, b)
	return h, errors.Wrap(err, "storing node")
}

// putFile splits data into chunks with a hashsplit.Splitter,
// stores the chunks,
// and stores a file node listing them.
func putFile(ctx context.Context, s blob.Store, data []byte) (notesync.Entry, error) {
	n := &node{size: int64(len(data))}
	spl := hashsplit.NewSplitter(func(chunk []byte, _ uint) error {
		h, _, err := s.Put(ctx, chunk)
		if err != nil {
			return errors.Wrap(err, "writing split chunk to store")
		}
		n.chunks = append(n.chunks, h)
		return nil
	})
	spl.MinSize = chunkMinSize
	spl.SplitBits = chunkSplitBits

	if _, err := spl.Write(data); err != nil {
		return notesync.Entry{}, errors.Wrap(err, "splitting file")
	}
	if err := spl.Close(); err != nil {
		return notesync.Entry{}, errors.Wrap(err, "splitting file")
	}
	h, err := putNode(ctx, s, n)
	if err != nil {
		return notesync.Entry{}, err
	}
	return notesync.Entry{Type: notesync.TypeFile, Hash: h, Size: n.size}, nil
}

// Links calls f for each block directly referenced by the node with hash h,
// which has type typ.
// For a directory these are its entries;
// for a file, its chunks, reported with type Chunk.
func Links(ctx context.Context, g blob.Getter, h notesync.Hash, typ notesync.EntryType, f func(notesync.Hash, notesync.EntryType) error) error {
	n, err := getNode(ctx, g, h)
	if err != nil {
		return err
	}
	if typ == notesync.TypeDir {
		if !n.dir {
			return errors.Errorf("node %s is not a directory", h)
		}
		for _, e := range n.sortedEntries() {
			if err := f(e.Hash, e.Type); err != nil {
				return err
			}
		}
		return nil
	}
	for _, c := range n.chunks {
		if err := f(c, Chunk); err != nil {
			return err
		}
	}
	return nil
}

// Chunk is the pseudo entry type Links reports for file content blocks.
const Chunk notesync.EntryType = -1
