package pdf

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spherical/deck-session/internal/domain"
)

// Office formats the converter is expected to handle. Anything that is not a
// PDF goes to the converter regardless; the table only improves sniffing for
// extensions the system mime database may not know.
var officeMediaTypes = map[string]string{
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".ppt":  "application/vnd.ms-powerpoint",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".key":  "application/vnd.apple.keynote",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
	".odt":  "application/vnd.oasis.opendocument.text",
}

// IsPDF reports whether a declared media type selects the direct parse path.
// The comparison is exact; parameters or different casing go to the converter.
func IsPDF(mediaType string) bool {
	return mediaType == domain.MediaTypePDF
}

// DetectMediaType sniffs a media type from the file name, falling back to
// the leading bytes of the content.
func DetectMediaType(name string, head []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".pdf" {
		return domain.MediaTypePDF
	}
	if mt, ok := officeMediaTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
		return mt
	}
	if len(head) > 0 {
		mt := http.DetectContentType(head)
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
		return mt
	}
	return "application/octet-stream"
}

// LocalFile is a file on disk read lazily on Open
type LocalFile struct {
	path      string
	name      string
	mediaType string
}

// OpenFile describes a local file. Only the leading bytes are read, to sniff
// the media type when the extension is unknown.
func OpenFile(path string) (*LocalFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, domain.ValidationError("file path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.IOError("cannot access file: "+path, err)
	}
	if info.IsDir() {
		return nil, domain.ValidationError("path is a directory, not a file: "+path, nil)
	}

	head, err := readHead(path)
	if err != nil {
		return nil, domain.IOError("cannot read file: "+path, err)
	}

	name := filepath.Base(path)
	return &LocalFile{
		path:      path,
		name:      name,
		mediaType: DetectMediaType(name, head),
	}, nil
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return head[:n], nil
}

func (f *LocalFile) Name() string      { return f.name }
func (f *LocalFile) MediaType() string { return f.mediaType }

func (f *LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// MemoryFile is a file whose bytes are already in memory
type MemoryFile struct {
	name      string
	mediaType string
	data      []byte
}

// NewMemoryFile wraps bytes as a file. An empty mediaType is sniffed.
func NewMemoryFile(name, mediaType string, data []byte) *MemoryFile {
	if mediaType == "" {
		mediaType = DetectMediaType(name, data)
	}
	return &MemoryFile{name: name, mediaType: mediaType, data: data}
}

func (f *MemoryFile) Name() string      { return f.name }
func (f *MemoryFile) MediaType() string { return f.mediaType }

func (f *MemoryFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// ReadAll reads every byte of file. Failures are IOErrors.
func ReadAll(file domain.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, domain.IOError("failed to open "+file.Name(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, domain.IOError("failed to read "+file.Name(), err)
	}
	return data, nil
}
