package peer

import (
	"context"
	"encoding/json"
	"errors"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/pyropy/dbs/core/model"
)

var (
	pathsPrefix = ds.NewKey("/paths")
	idsPrefix   = ds.NewKey("/ids")
)

// FileMetadataStore keeps the records of files this peer backed up, keyed
// by path and by file id.
type FileMetadataStore struct {
	Files ds.Batching
}

func NewFileMetadataStore(root ds.Datastore) *FileMetadataStore {
	return &FileMetadataStore{
		Files: namespace.Wrap(root, ds.NewKey("files")),
	}
}

func pathKey(filePath model.FilePath) ds.Key {
	return pathsPrefix.Child(ds.NewKey(filePath))
}

func idKey(fileID string) ds.Key {
	return idsPrefix.ChildString(fileID)
}

func (f *FileMetadataStore) Get(ctx context.Context, filePath model.FilePath) (*model.FileMetadata, error) {
	b, err := f.Files.Get(ctx, pathKey(filePath))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrFileNotBackedUp
	} else if err != nil {
		return nil, err
	}

	var file model.FileMetadata
	err = json.Unmarshal(b, &file)
	if err != nil {
		return nil, err
	}

	return &file, nil
}

func (f *FileMetadataStore) CheckFileExists(ctx context.Context, filePath model.FilePath) (bool, error) {
	return f.Files.Has(ctx, pathKey(filePath))
}

// HasFileID reports whether fileID belongs to a file this peer backed up.
func (f *FileMetadataStore) HasFileID(ctx context.Context, fileID string) (bool, error) {
	return f.Files.Has(ctx, idKey(fileID))
}

func (f *FileMetadataStore) AddNewFileMetadata(ctx context.Context, metadata model.FileMetadata) error {
	b, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	batch, err := f.Files.Batch(ctx)
	if err != nil {
		return err
	}

	if err := batch.Put(ctx, pathKey(metadata.Path), b); err != nil {
		return err
	}

	if err := batch.Put(ctx, idKey(metadata.FileID), []byte(metadata.Path)); err != nil {
		return err
	}

	return batch.Commit(ctx)
}

func (f *FileMetadataStore) Remove(ctx context.Context, metadata model.FileMetadata) error {
	if err := f.Files.Delete(ctx, idKey(metadata.FileID)); err != nil {
		return err
	}

	return f.Files.Delete(ctx, pathKey(metadata.Path))
}

func (f *FileMetadataStore) All(ctx context.Context) ([]*model.FileMetadata, error) {
	q := dsq.Query{Prefix: pathsPrefix.String()}
	files := make([]*model.FileMetadata, 0)

	res, err := f.Files.Query(ctx, q)
	if err != nil {
		return files, err
	}
	defer res.Close()

	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}

		if r.Error != nil {
			return files, r.Error
		}

		var file model.FileMetadata
		err = json.Unmarshal(r.Value, &file)
		if err != nil {
			return files, err
		}
		files = append(files, &file)
	}

	return files, nil
}
