package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/openctemio/scangate/pkg/apierror"
)

// DecompressConfig configures the decompression middleware.
type DecompressConfig struct {
	// MaxDecompressedSize bounds the inflated body.
	MaxDecompressedSize int64

	// MaxCompressedSize bounds what is read off the wire.
	MaxCompressedSize int64

	// MaxCompressionRatio rejects bodies that inflate beyond this factor.
	MaxCompressionRatio float64
}

// DefaultDecompressConfig sizes the limits for webhook deliveries.
func DefaultDecompressConfig() *DecompressConfig {
	return &DecompressConfig{
		MaxDecompressedSize: DefaultMaxBodySize,
		MaxCompressedSize:   10 << 20,
		MaxCompressionRatio: 100,
	}
}

// Decompress inflates gzip or zstd request bodies. Bitbucket Server and some
// reverse proxies compress large push payloads.
//
// Place it before BodyLimit so the limit applies to the inflated body.
func Decompress(config *DecompressConfig) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultDecompressConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			encoding := strings.ToLower(r.Header.Get("Content-Encoding"))
			if encoding == "" || encoding == "identity" {
				next.ServeHTTP(w, r)
				return
			}
			if encoding != "gzip" && encoding != "zstd" {
				apierror.New(http.StatusUnsupportedMediaType, apierror.CodeBadRequest,
					"unsupported Content-Encoding: "+encoding).WriteJSON(w, GetRequestID(r.Context()))
				return
			}

			decompressed, err := decompressBody(r.Body, encoding, config)
			if err != nil {
				apierror.BadRequest("invalid compressed request body").WriteJSON(w, GetRequestID(r.Context()))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(decompressed))
			r.ContentLength = int64(len(decompressed))
			r.Header.Del("Content-Encoding")

			next.ServeHTTP(w, r)
		})
	}
}

func decompressBody(body io.ReadCloser, encoding string, config *DecompressConfig) ([]byte, error) {
	defer body.Close()

	compressed, err := io.ReadAll(io.LimitReader(body, config.MaxCompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("read compressed body: %w", err)
	}
	if int64(len(compressed)) > config.MaxCompressedSize {
		return nil, fmt.Errorf("compressed size %d exceeds limit %d", len(compressed), config.MaxCompressedSize)
	}
	if len(compressed) == 0 {
		return []byte{}, nil
	}

	var reader io.Reader
	switch encoding {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gr.Close()
		reader = gr
	case "zstd":
		//nolint:gosec // MaxDecompressedSize is positive
		zr, err := zstd.NewReader(bytes.NewReader(compressed),
			zstd.WithDecoderMaxMemory(uint64(config.MaxDecompressedSize)),
			zstd.WithDecoderConcurrency(1),
		)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		reader = zr
	}

	out, err := io.ReadAll(io.LimitReader(reader, config.MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	if int64(len(out)) > config.MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed size exceeds limit of %d bytes", config.MaxDecompressedSize)
	}
	if ratio := float64(len(out)) / float64(len(compressed)); ratio > config.MaxCompressionRatio {
		return nil, fmt.Errorf("compression ratio %.1f exceeds limit %.1f", ratio, config.MaxCompressionRatio)
	}
	return out, nil
}
