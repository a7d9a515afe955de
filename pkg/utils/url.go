package utils

import (
	"errors"
	"net/url"
)

// Parses a string of the form tcp://<host>:<port> and returns the
// host and port as a listen address. If the port is not specified,
// it defaults to 8325.
func ParseHttpUrl(urlstr string) (string, error) {
	uri, err := url.Parse(urlstr)
	if err != nil {
		return "", err
	}

	port := uri.Port()
	if port == "" {
		uri.Host += ":8325"
	}

	var httpUri string
	switch uri.Scheme {
	case "tcp":
		httpUri = uri.Host

	default:
		return "", errors.New("Unsupported protocol: " + uri.Scheme)
	}

	return httpUri, nil
}
