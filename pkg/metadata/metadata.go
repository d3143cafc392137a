package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
)

const metadataFile = "metadata.json"

type Client struct {
	filePath string
}

type Metadata struct {
	Version        int `json:",omitempty"`
	UpdatedAt      time.Time
	ArchiveCount   int
	ExtractedCount int
}

// Path returns the metadata file path
func Path(cacheDir string) string {
	return filepath.Join(cacheDir, metadataFile)
}

func New(cacheDir string) Client {
	return Client{
		filePath: Path(cacheDir),
	}
}

// Get returns the last recorded run metadata
func (c *Client) Get() (Metadata, error) {
	f, err := os.Open(c.filePath)
	if err != nil {
		return Metadata{}, xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	var meta Metadata
	if err = json.NewDecoder(f).Decode(&meta); err != nil {
		return Metadata{}, xerrors.Errorf("unable to decode metadata: %w", err)
	}
	return meta, nil
}

func (c *Client) Update(meta Metadata) error {
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0744); err != nil {
		return xerrors.Errorf("mkdir error: %w", err)
	}

	f, err := os.Create(c.filePath)
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	if err = json.NewEncoder(f).Encode(&meta); err != nil {
		return xerrors.Errorf("unable to encode metadata: %w", err)
	}
	return nil
}

// Delete deletes the run metadata file
func (c *Client) Delete() error {
	if err := os.Remove(c.filePath); err != nil {
		return xerrors.Errorf("unable to remove the metadata file: %w", err)
	}
	return nil
}
