package pairing

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/linklocal/pairgate/internal/blob"
	"github.com/linklocal/pairgate/internal/domain"
	"github.com/linklocal/pairgate/internal/gateway"
)

// relayNotice is the fixed informational message sent after the credential
// reference.
const relayNotice = "Keep this link private. It points to your session credentials and expires shortly."

// Relay uploads the session's credential material to the blob store after
// linkage and sends the resulting reference to the registration target.
type Relay struct {
	uploader *blob.Uploader
}

// NewRelay creates a relay backed by the given uploader.
func NewRelay(uploader *blob.Uploader) *Relay {
	return &Relay{uploader: uploader}
}

// Deliver archives the working storage, uploads it under a fresh opaque
// name, and sends the reference plus the informational notice to the
// registration target. The archive contents are never parsed.
func (r *Relay) Deliver(ctx context.Context, sess *domain.Session, conn gateway.Conn) error {
	dir := sess.WorkingStorage()
	if dir == "" {
		return fmt.Errorf("session %s has no working storage", sess.ID)
	}

	archive, err := archiveStorage(dir)
	if err != nil {
		return fmt.Errorf("archive credential material: %w", err)
	}

	name, err := blob.OpaqueName()
	if err != nil {
		return err
	}

	ref, err := r.uploader.Put(ctx, name, archive)
	if err != nil {
		return fmt.Errorf("upload credential archive: %w", err)
	}

	if err := conn.Send(ctx, sess.RegistrationTarget, ref); err != nil {
		return fmt.Errorf("send credential reference: %w", err)
	}
	if err := conn.Send(ctx, sess.RegistrationTarget, relayNotice); err != nil {
		return fmt.Errorf("send relay notice: %w", err)
	}

	slog.Info("Credential archive relayed",
		"session_id", sess.ID,
		"object", name,
		"bytes", len(archive),
	)
	return nil
}

// archiveStorage zips every regular file under dir into memory. File
// contents stay opaque; only the gateway knows their format.
func archiveStorage(dir string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
