package dbms

import (
	"bytes"
	"io"
	"os"
)

// archiveFormat classifies a restorable artifact.
type archiveFormat int

const (
	formatPlainSQL archiveFormat = iota // text SQL script, restored via stdin
	formatPGCustom                      // pg_dump custom-format archive, restored via pg_restore
)

// pgCustomMagic is the signature at the start of every pg_dump
// custom-format archive.
var pgCustomMagic = []byte("PGDMP")

// detectFormat sniffs the artifact's leading bytes. The artifact
// reaches us already decrypted and decompressed under a scratch name,
// so the extension means nothing; only the content decides. Anything
// that is not a recognized binary archive restores as a plain SQL
// script.
func detectFormat(path string) (archiveFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return formatPlainSQL, err
	}
	defer f.Close()

	head := make([]byte, len(pgCustomMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		// Shorter than the magic: cannot be a custom archive.
		return formatPlainSQL, nil
	}
	if bytes.Equal(head, pgCustomMagic) {
		return formatPGCustom, nil
	}
	return formatPlainSQL, nil
}
