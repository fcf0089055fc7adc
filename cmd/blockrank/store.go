package main

import (
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/mycok/blockrank/dataset"
	"github.com/mycok/blockrank/dataset/store/localfs"
	"github.com/mycok/blockrank/dataset/store/memory"
)

func getStore(storeURI string, compress bool, logger *logrus.Entry) (dataset.Store, error) {
	if storeURI == "" {
		return nil, fmt.Errorf("dataset store URI must be specified with --store")
	}

	uri, err := url.Parse(storeURI)
	if err != nil {
		return nil, fmt.Errorf("could not parse dataset store URI: %w", err)
	}

	switch uri.Scheme {
	case "in-memory":
		logger.Info("using in-memory dataset store")

		return memory.NewInMemoryStore(), nil
	case "file":
		if uri.Path == "" || uri.Host != "" {
			return nil, fmt.Errorf("file store URI must hold an absolute path: %q", storeURI)
		}

		logger.WithFields(logrus.Fields{
			"root":     uri.Path,
			"compress": compress,
		}).Info("using local file dataset store")

		return localfs.NewLocalStore(uri.Path, compress)
	default:
		return nil, fmt.Errorf("unsupported dataset store URI scheme: %q", uri.Scheme)
	}
}
