package filestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// ErrNotAnImage is returned when uploaded content does not sniff as an image.
var ErrNotAnImage = errors.New("file is not an image")

// sniffLen is how many leading bytes are read to detect the content type.
const sniffLen = 512

// LocalFileStore manages file operations on the local file system.
type LocalFileStore struct {
	storagePath string
	baseURL     string
}

// NewLocalFileStore creates a new LocalFileStore instance.
func NewLocalFileStore(storagePath, baseURL string) (*LocalFileStore, error) {
	// Ensure the storage path exists
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", storagePath, err)
	}

	return &LocalFileStore{
		storagePath: storagePath,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// StoredFile describes an uploaded file.
type StoredFile struct {
	Key      string `json:"fileKey"`
	URL      string `json:"fileUrl"`
	MimeType string `json:"mimeType"`
}

// SaveImage sniffs the content type of reader and stores it when it is an
// image. The file name is derived from the detected type, never from the
// client.
func (l *LocalFileStore) SaveImage(reader io.Reader) (*StoredFile, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	mtype := mimetype.Detect(head)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, fmt.Errorf("detected %s: %w", mtype.String(), ErrNotAnImage)
	}

	uniqueFileName := uuid.New().String() + mtype.Extension()
	fileKey := path.Join("uploads", time.Now().Format("2006/01/02"), uniqueFileName) // Organize by date

	fullPath := filepath.Join(l.storagePath, filepath.FromSlash(fileKey))

	// Ensure the directory for the file exists
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for file: %w", err)
	}

	outFile, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", fullPath, err)
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, io.MultiReader(bytes.NewReader(head), reader)); err != nil {
		_ = os.Remove(fullPath)
		return nil, fmt.Errorf("failed to write file %s: %w", fullPath, err)
	}

	return &StoredFile{
		Key:      fileKey,
		URL:      l.baseURL + "/" + fileKey,
		MimeType: mtype.String(),
	}, nil
}
