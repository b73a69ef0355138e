package store

import (
	"fmt"
	"os"

	"github.com/timzifer/pulsed/pulse"
	"github.com/timzifer/pulsed/schema"
)

// Document buckets, in dependency order.
const (
	BucketBlocks    = "blocks"
	BucketEnsembles = "ensembles"
	BucketSequences = "sequences"
)

var buckets = []string{BucketBlocks, BucketEnsembles, BucketSequences}

// Document is the portable form of a library: one name-keyed map of entity
// documents per bucket. SQLite stores the same buckets as separate rows.
type Document map[string]map[string]interface{}

// NewDocument converts lib into its document form.
func NewDocument(lib *pulse.Library) Document {
	doc := make(Document, len(buckets))
	for _, bucket := range buckets {
		doc[bucket] = bucketDocs(lib, bucket)
	}
	return doc
}

func bucketDocs(lib *pulse.Library, bucket string) map[string]interface{} {
	docs := make(map[string]interface{})
	switch bucket {
	case BucketBlocks:
		for name, b := range lib.Blocks {
			docs[name] = b.ToMap()
		}
	case BucketEnsembles:
		for name, e := range lib.Ensembles {
			docs[name] = e.ToMap()
		}
	case BucketSequences:
		for name, q := range lib.Sequences {
			docs[name] = q.ToMap()
		}
	}
	return docs
}

// DecodeDocument parses JSON holding any of the blocks, ensembles and
// sequences buckets. Every entity is checked against the schema before it is
// decoded.
func DecodeDocument(data []byte) (*pulse.Library, error) {
	raw, err := pulse.DecodeJSON(data)
	if err != nil {
		return nil, err
	}
	var d decoder
	for key, value := range raw {
		docs, ok := value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("bucket %s: expected object", key)
		}
		if err := d.bucket(key, docs); err != nil {
			return nil, err
		}
	}
	return d.library(), nil
}

// LoadDocument reads a document file.
func LoadDocument(path string) (*pulse.Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	lib, err := DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}

// Put writes every entity of lib into st, blocks first so ensemble and
// sequence references resolve against the new content.
func Put(st Store, lib *pulse.Library) error {
	for _, name := range sortedKeys(lib.Blocks) {
		if err := st.PutBlock(lib.Blocks[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(lib.Ensembles) {
		if err := st.PutEnsemble(lib.Ensembles[name]); err != nil {
			return err
		}
	}
	for _, name := range sortedKeys(lib.Sequences) {
		if err := st.PutSequence(lib.Sequences[name]); err != nil {
			return err
		}
	}
	return nil
}

type decoder struct {
	blocks    []*pulse.Block
	ensembles []*pulse.Ensemble
	sequences []*pulse.Sequence
}

func (d *decoder) bucket(bucket string, docs map[string]interface{}) error {
	for _, name := range sortedKeys(docs) {
		doc, ok := docs[name].(map[string]interface{})
		if !ok {
			return fmt.Errorf("decode %s %s: expected object", bucket, name)
		}
		switch bucket {
		case BucketBlocks:
			if err := schema.Validate(schema.KindBlock, doc); err != nil {
				return err
			}
			b, err := pulse.BlockFromMap(doc)
			if err != nil {
				return fmt.Errorf("decode block %s: %w", name, err)
			}
			d.blocks = append(d.blocks, b)
		case BucketEnsembles:
			if err := schema.Validate(schema.KindEnsemble, doc); err != nil {
				return err
			}
			e, err := pulse.EnsembleFromMap(doc)
			if err != nil {
				return fmt.Errorf("decode ensemble %s: %w", name, err)
			}
			d.ensembles = append(d.ensembles, e)
		case BucketSequences:
			if err := schema.Validate(schema.KindSequence, doc); err != nil {
				return err
			}
			q, err := pulse.SequenceFromMap(doc)
			if err != nil {
				return fmt.Errorf("decode sequence %s: %w", name, err)
			}
			d.sequences = append(d.sequences, q)
		default:
			return fmt.Errorf("unknown bucket %q", bucket)
		}
	}
	return nil
}

func (d *decoder) library() *pulse.Library {
	return pulse.NewLibrary(d.blocks, d.ensembles, d.sequences)
}
