// Package fetcher downloads source data over HTTP and FTP: tile payloads,
// dataset indexes, Overpass query results, and zipped shapefile archives.
package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the transport operations source adapters need.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL into path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// Post sends a request body (e.g. an Overpass QL query) and returns
	// the response body.
	Post(ctx context.Context, url, contentType string, payload []byte) (io.ReadCloser, error)
}
