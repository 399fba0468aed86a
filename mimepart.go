package mimepart

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Parser decodes multipart bodies delimited by a fixed boundary.
// A Parser may be used for any number of Parse calls, concurrently.
type Parser struct {
	boundary string
	hookMap  map[string]streamHook
	parserConfig
}

func NewParser(boundary string, options ...ParserOption) *Parser {
	c := parserConfig{
		maxParts:       defaultMaxParts,
		maxHeaders:     defaultMaxHeaders,
		maxHeaderSize:  defaultMaxHeaderSize,
		maxMemSize:     defaultMaxMemSize,
		maxMemFileSize: defaultMaxMemFileSize,
		maxDepth:       defaultMaxDepth,
		mediaType:      defaultMediaType,
		defaultCharset: defaultCharset,
	}
	for _, opt := range options {
		opt(&c)
	}

	if c.storage == nil {
		c.storage = &TempFileStorage{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return &Parser{
		boundary:     boundary,
		hookMap:      make(map[string]streamHook),
		parserConfig: c,
	}
}

type parserConfig struct {
	maxParts       uint
	maxHeaders     uint
	maxHeaderSize  DataSize
	maxMemSize     DataSize
	maxMemFileSize DataSize
	maxDepth       uint
	alwaysUseFiles bool
	mediaType      string
	defaultCharset string
	storage        Storage
	logger         *slog.Logger
}

type ParserOption func(*parserConfig)

type DataSize int64

const (
	_ DataSize = 1 << (iota * 10)
	KB
	MB
	GB
)

const (
	defaultMaxParts       = 10000
	defaultMaxHeaders     = 10000
	defaultMaxHeaderSize  = 1 * MB
	defaultMaxMemSize     = 32 * MB
	defaultMaxMemFileSize = 32 * MB
	defaultMaxDepth       = 8
	defaultMediaType      = "multipart/form-data"
	defaultCharset        = "utf-8"
)

var dataSizeUnits = []struct {
	suffix string
	size   DataSize
}{
	{"GB", GB},
	{"MB", MB},
	{"KB", KB},
	{"B", 1},
}

// UnmarshalText accepts a plain byte count or a count suffixed with B, KB, MB or GB.
func (s *DataSize) UnmarshalText(text []byte) error {
	v := strings.ToUpper(strings.TrimSpace(string(text)))
	unit := DataSize(1)
	for _, u := range dataSizeUnits {
		if strings.HasSuffix(v, u.suffix) {
			v = strings.TrimSpace(strings.TrimSuffix(v, u.suffix))
			unit = u.size
			break
		}
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid data size %q: %w", text, err)
	}
	if n < 0 {
		return fmt.Errorf("invalid data size %q: negative", text)
	}

	*s = DataSize(n) * unit

	return nil
}

func (s DataSize) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s DataSize) String() string {
	for _, u := range dataSizeUnits {
		if s != 0 && s%u.size == 0 {
			return strconv.FormatInt(int64(s/u.size), 10) + u.suffix
		}
	}

	return "0B"
}

// WithMaxParts sets the maximum number of parts to be parsed, nested parts included.
// default: 10000
func WithMaxParts(maxParts uint) ParserOption {
	return func(c *parserConfig) {
		c.maxParts = maxParts
	}
}

// WithMaxHeaders sets the maximum number of headers to be parsed.
// default: 10000
func WithMaxHeaders(maxHeaders uint) ParserOption {
	return func(c *parserConfig) {
		c.maxHeaders = maxHeaders
	}
}

// WithMaxHeaderSize sets the maximum size of a single header block.
// default: 1MB
func WithMaxHeaderSize(maxHeaderSize DataSize) ParserOption {
	return func(c *parserConfig) {
		c.maxHeaderSize = maxHeaderSize
	}
}

// WithMaxMemSize sets the maximum memory size to be used for parsing.
// default: 32MB
func WithMaxMemSize(maxMemSize DataSize) ParserOption {
	return func(c *parserConfig) {
		c.maxMemSize = maxMemSize
	}
}

// WithMaxMemFileSize sets the maximum memory size to be used for parsing a file.
// Larger files are written to the Storage.
// default: 32MB
func WithMaxMemFileSize(maxMemFileSize DataSize) ParserOption {
	return func(c *parserConfig) {
		c.maxMemFileSize = maxMemFileSize
	}
}

// WithMaxDepth sets how deep multipart bodies may nest inside each other.
// default: 8
func WithMaxDepth(maxDepth uint) ParserOption {
	return func(c *parserConfig) {
		c.maxDepth = maxDepth
	}
}

// WithAlwaysUseFiles makes every non-multipart part a File.
func WithAlwaysUseFiles() ParserOption {
	return func(c *parserConfig) {
		c.alwaysUseFiles = true
	}
}

// WithMediaType sets the media type of the body, e.g. "multipart/mixed".
// Parts of a multipart/form-data body must carry a Content-Disposition name.
// default: multipart/form-data
func WithMediaType(mediaType string) ParserOption {
	return func(c *parserConfig) {
		c.mediaType = strings.ToLower(mediaType)
	}
}

// WithDefaultCharset sets the charset Field.Text assumes when the part does not name one.
// default: utf-8
func WithDefaultCharset(charset string) ParserOption {
	return func(c *parserConfig) {
		c.defaultCharset = charset
	}
}

// WithStorage sets where file parts above the memory threshold are written.
// default: TempFileStorage in os.TempDir()
func WithStorage(storage Storage) ParserOption {
	return func(c *parserConfig) {
		c.storage = storage
	}
}

func WithLogger(logger *slog.Logger) ParserOption {
	return func(c *parserConfig) {
		c.logger = logger
	}
}

// Config is the serializable form of the parser options.
// Zero values keep the defaults.
type Config struct {
	MaxParts       uint     `yaml:"max_parts" json:"max_parts"`
	MaxHeaders     uint     `yaml:"max_headers" json:"max_headers"`
	MaxHeaderSize  DataSize `yaml:"max_header_size" json:"max_header_size"`
	MaxMemSize     DataSize `yaml:"max_mem_size" json:"max_mem_size"`
	MaxMemFileSize DataSize `yaml:"max_mem_file_size" json:"max_mem_file_size"`
	MaxDepth       uint     `yaml:"max_depth" json:"max_depth"`
	AlwaysUseFiles bool     `yaml:"always_use_files" json:"always_use_files"`
	DefaultCharset string   `yaml:"default_charset" json:"default_charset"`
	TempDir        string   `yaml:"temp_dir" json:"temp_dir"`
}

func (c Config) Options() []ParserOption {
	var opts []ParserOption
	if c.MaxParts != 0 {
		opts = append(opts, WithMaxParts(c.MaxParts))
	}
	if c.MaxHeaders != 0 {
		opts = append(opts, WithMaxHeaders(c.MaxHeaders))
	}
	if c.MaxHeaderSize != 0 {
		opts = append(opts, WithMaxHeaderSize(c.MaxHeaderSize))
	}
	if c.MaxMemSize != 0 {
		opts = append(opts, WithMaxMemSize(c.MaxMemSize))
	}
	if c.MaxMemFileSize != 0 {
		opts = append(opts, WithMaxMemFileSize(c.MaxMemFileSize))
	}
	if c.MaxDepth != 0 {
		opts = append(opts, WithMaxDepth(c.MaxDepth))
	}
	if c.AlwaysUseFiles {
		opts = append(opts, WithAlwaysUseFiles())
	}
	if c.DefaultCharset != "" {
		opts = append(opts, WithDefaultCharset(c.DefaultCharset))
	}
	if c.TempDir != "" {
		opts = append(opts, WithStorage(&TempFileStorage{Dir: c.TempDir}))
	}

	return opts
}
