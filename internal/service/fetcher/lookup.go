package fetcher

import (
	"net/url"
	"path/filepath"

	"github.com/vertextoedge/fetchcache/internal/domain"
	"github.com/vertextoedge/fetchcache/internal/port"
)

// Lookup returns the stored file for name. Any read failure is a miss.
func Lookup(store port.FileStore, name string) domain.Result {
	if name == "" || !store.Exists(name) {
		return domain.NotFound()
	}

	data, err := store.Read(name)
	if err != nil {
		return domain.NotFound()
	}
	if data == nil {
		// An empty file is still a hit
		data = []byte{}
	}

	return domain.Result{
		Data:     data,
		Location: fileLocation(store.Path(name)),
		Source:   domain.SourceCacheHit,
	}
}

func fileLocation(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}
