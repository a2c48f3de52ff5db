package database

import (
	"io"
	"os"
)

func writeFile(path string, reader io.Reader, maxBytes int64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if maxBytes <= 0 {
		_, err := io.Copy(file, reader)
		return err
	}
	written, err := io.Copy(file, io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return err
	}
	if written > maxBytes {
		return ErrFileTooLarge
	}
	return nil
}
