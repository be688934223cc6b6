package db

import (
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// Invalid find-and-modify requests, rejected before any network
// traffic.
var (
	// ErrRemoveAndUpdate marks a change asking to both remove and
	// update the matched document.
	ErrRemoveAndUpdate = errors.New("cannot both remove and update a document")
	// ErrRemoveAndReturnNew marks a removal asking for the
	// post-modification document, which cannot exist.
	ErrRemoveAndReturnNew = errors.New("cannot return the new document when removing it")
	// ErrEmptyChange marks a change with neither an update document
	// nor a removal.
	ErrEmptyChange = errors.New("change must either update or remove the matched document")
	// ErrEnvelopeUnsupported marks a raw modify-envelope request
	// against a deployment tier that no longer exposes it.
	ErrEnvelopeUnsupported = errors.New("raw modify envelope is not supported on this deployment")
)

// IsDuplicateKey reports whether err came from a unique index
// violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	if mongo.IsDuplicateKeyError(errors.Cause(err)) {
		return true
	}

	return strings.Contains(errors.Cause(err).Error(), "duplicate key")
}

// IsDocumentLimit reports whether err came from a document exceeding
// the server's size limit.
func IsDocumentLimit(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(errors.Cause(err).Error(), "an inserted document is too large")
}
