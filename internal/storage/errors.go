package storage

import (
	"errors"
	"net/http"

	"github.com/minio/minio-go/v7"
)

var ErrNotFound = errors.New("object not found")

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
