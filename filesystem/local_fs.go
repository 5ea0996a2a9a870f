package filesystem

import (
	"io"
	"os"
	"path/filepath"
)

type localFSClient struct {
}

func NewLocalFSClient() Client {
	return &localFSClient{}
}

func (c *localFSClient) OpenReadCloser(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

func (c *localFSClient) OpenWriteCloser(name string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
}

func (c *localFSClient) Exists(name string) (bool, error) {
	_, err := os.Stat(name)
	return existCommon(err)
}

func (c *localFSClient) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (c *localFSClient) Glob(pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}

func (c *localFSClient) Remove(name string) error {
	return os.Remove(name)
}

func existCommon(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
